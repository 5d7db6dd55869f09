package modules

import (
	"fmt"

	"github.com/okieraised/go-ssd300/config"
	"github.com/okieraised/go-ssd300/utils"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LayerOutput holds the head outputs and anchors of one classifier layer in channel-last
// layout. Confidence is (b, h, w, k*n) and Location is (b, h, w, k*4); both may drop the
// batch axis for a single image.
type LayerOutput struct {
	Name       string
	Confidence *tensor.Dense
	Location   *tensor.Dense
	Anchors    *tensor.Dense // (h, w, k, 4)
	Variances  *tensor.Dense // (k, 4)
}

// NodeOutput is the graph counterpart of LayerOutput. Confidence and Location are the NCHW
// head nodes returned by PredictionHead.Build.
type NodeOutput struct {
	Name       string
	Confidence *gorgonia.Node
	Location   *gorgonia.Node
	Anchors    *tensor.Dense
	Variances  *tensor.Dense
}

// MultiScaleAssembler merges the per-layer predictions into the (batch, total_boxes,
// n_classes+12) tensor. Boxes are flattened row by row, then column by column, then by box
// index within the cell, and layers keep their input order.
type MultiScaleAssembler struct {
	// NumClasses is inferred from the first layer when zero.
	NumClasses int
}

func NewMultiScaleAssembler(numClasses int) *MultiScaleAssembler {
	return &MultiScaleAssembler{NumClasses: numClasses}
}

// Assemble returns the prediction tensor and the (h, w) grid of every layer.
func (a *MultiScaleAssembler) Assemble(layers []LayerOutput) (*tensor.Dense, [][2]int, error) {
	if len(layers) == 0 {
		return nil, nil, config.NewConfigError("layers", "at least one classifier layer is required", "> 0", 0)
	}

	numClasses := a.NumClasses
	batch := -1
	singleImage := false
	sizes := make([][2]int, 0, len(layers))
	blocks := make([]*tensor.Dense, 0, len(layers))

	for i, l := range layers {
		geo, err := checkLayerOutput(l)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			singleImage = geo.singleImage
			batch = geo.batch
		} else if geo.singleImage != singleImage || geo.batch != batch {
			return nil, nil, config.NewShapeMismatchError(l.Name, "confidence", batch, geo.batch)
		}

		n, err := resolveNumClasses(l.Name, geo.confDepth, geo.k, numClasses, i == 0 && a.NumClasses == 0)
		if err != nil {
			return nil, nil, err
		}
		numClasses = n

		block, err := layerBlock(l, geo, numClasses)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to assemble layer %s", l.Name)
		}
		blocks = append(blocks, block)
		sizes = append(sizes, [2]int{geo.height, geo.width})
	}

	out, err := utils.Stack(1, blocks)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to concatenate layers")
	}
	if singleImage {
		shape := out.Shape()
		if err = out.Reshape(shape[1], shape[2]); err != nil {
			return nil, nil, errors.Wrap(err, "failed to drop the batch axis")
		}
	}
	return out, sizes, nil
}

type layerGeometry struct {
	singleImage bool
	batch       int
	height      int
	width       int
	k           int
	confDepth   int
}

func checkLayerOutput(l LayerOutput) (layerGeometry, error) {
	var geo layerGeometry
	if l.Confidence == nil || l.Location == nil || l.Anchors == nil || l.Variances == nil {
		return geo, config.NewShapeMismatchError(l.Name, "outputs", "confidence, location, anchors and variances", "missing tensor")
	}

	anchors := l.Anchors.Shape()
	if len(anchors) != 4 || anchors[3] != 4 {
		return geo, config.NewShapeMismatchError(l.Name, "anchors", "(h, w, k, 4)", anchors)
	}
	geo.height, geo.width, geo.k = anchors[0], anchors[1], anchors[2]
	if !l.Variances.Shape().Eq(tensor.Shape{geo.k, 4}) {
		return geo, config.NewShapeMismatchError(l.Name, "variances", tensor.Shape{geo.k, 4}, l.Variances.Shape())
	}

	conf, loc := l.Confidence.Shape(), l.Location.Shape()
	switch len(conf) {
	case 3:
		geo.singleImage = true
		geo.batch = 1
		conf = append(tensor.Shape{1}, conf...)
	case 4:
		geo.batch = conf[0]
	default:
		return geo, config.NewShapeMismatchError(l.Name, "confidence", "(b, h, w, k*n_classes)", conf)
	}
	if len(loc) == 3 && geo.singleImage {
		loc = append(tensor.Shape{1}, loc...)
	}
	if len(loc) != 4 {
		return geo, config.NewShapeMismatchError(l.Name, "location", "(b, h, w, k*4)", loc)
	}

	if conf[1] != geo.height || conf[2] != geo.width {
		return geo, config.NewShapeMismatchError(l.Name, "confidence", [2]int{geo.height, geo.width}, [2]int{conf[1], conf[2]})
	}
	expectedLoc := tensor.Shape{geo.batch, geo.height, geo.width, geo.k * 4}
	if !loc.Eq(expectedLoc) {
		return geo, config.NewShapeMismatchError(l.Name, "location", expectedLoc, loc)
	}
	geo.confDepth = conf[3]
	return geo, nil
}

// resolveNumClasses checks that the confidence depth partitions into k boxes of numClasses
// scores. With infer set the class count is taken from this layer.
func resolveNumClasses(layer string, depth, k, numClasses int, infer bool) (int, error) {
	if k <= 0 || depth%k != 0 {
		return 0, config.NewShapeMismatchError(layer, "confidence", fmt.Sprintf("a multiple of k=%d", k), depth)
	}
	n := depth / k
	switch {
	case infer:
		if n <= 1 {
			return 0, config.NewConfigError("n_classes", fmt.Sprintf("layer %s yields too few classes", layer), "> 1", n)
		}
		return n, nil
	case n != numClasses:
		return 0, config.NewConfigError("n_classes", fmt.Sprintf("layer %s disagrees on the number of classes", layer), numClasses, n)
	}
	return numClasses, nil
}

// layerBlock flattens one layer into (b, h*w*k, n+12) with normalized scores.
func layerBlock(l LayerOutput, geo layerGeometry, numClasses int) (*tensor.Dense, error) {
	boxes := geo.height * geo.width * geo.k

	conf := utils.Contiguous(l.Confidence).Clone().(*tensor.Dense)
	if err := conf.Reshape(geo.batch, boxes, numClasses); err != nil {
		return nil, err
	}
	scores, err := tensor.SoftMax(conf, 2)
	if err != nil {
		return nil, errors.Wrap(err, "softmax failed")
	}

	loc := utils.Contiguous(l.Location).Clone().(*tensor.Dense)
	if err = loc.Reshape(geo.batch, boxes, 4); err != nil {
		return nil, err
	}

	anchors := AnchorBlock(l.Anchors, l.Variances)
	tiled := TileBatch(anchors, geo.batch)

	return utils.Stack(2, []*tensor.Dense{scores.(*tensor.Dense), loc, tiled})
}

// AnchorBlock pairs every anchor of a (h, w, k, 4) grid with the variances of its box index
// and returns them as a (h*w*k, 8) tensor.
func AnchorBlock(anchors, variances *tensor.Dense) *tensor.Dense {
	shape := anchors.Shape()
	k := shape[2]
	boxes := shape[0] * shape[1] * k
	coords := utils.Contiguous(anchors).Float32s()
	vars := utils.Contiguous(variances).Float32s()

	backing := make([]float32, boxes*8)
	for i := range boxes {
		copy(backing[i*8:i*8+4], coords[i*4:i*4+4])
		a := i % k
		copy(backing[i*8+4:i*8+8], vars[a*4:a*4+4])
	}
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(boxes, 8),
		tensor.WithBacking(backing),
	)
}

// TileBatch repeats a (boxes, d) tensor into (batch, boxes, d).
func TileBatch(t *tensor.Dense, batch int) *tensor.Dense {
	data := utils.Contiguous(t).Float32s()
	backing := make([]float32, 0, batch*len(data))
	for range batch {
		backing = append(backing, data...)
	}
	shape := t.Shape()
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(batch, shape[0], shape[1]),
		tensor.WithBacking(backing),
	)
}

// AssembleNodes builds the prediction node of a batch of images from the NCHW head nodes.
// Anchors and variances enter the graph as constant values tiled over the batch.
func (a *MultiScaleAssembler) AssembleNodes(g *gorgonia.ExprGraph, layers []NodeOutput, batch int) (*gorgonia.Node, error) {
	if len(layers) == 0 {
		return nil, config.NewConfigError("layers", "at least one classifier layer is required", "> 0", 0)
	}
	if batch <= 0 {
		return nil, config.NewConfigError("batch_size", "must be positive", "> 0", batch)
	}

	numClasses := a.NumClasses
	confs := make([]*gorgonia.Node, 0, len(layers))
	locs := make([]*gorgonia.Node, 0, len(layers))
	anchorBlocks := make([]*tensor.Dense, 0, len(layers))

	for i, l := range layers {
		if l.Confidence == nil || l.Location == nil || l.Anchors == nil || l.Variances == nil {
			return nil, config.NewShapeMismatchError(l.Name, "outputs", "confidence, location, anchors and variances", "missing node")
		}
		anchors := l.Anchors.Shape()
		if len(anchors) != 4 || anchors[3] != 4 {
			return nil, config.NewShapeMismatchError(l.Name, "anchors", "(h, w, k, 4)", anchors)
		}
		h, w, k := anchors[0], anchors[1], anchors[2]

		conf, loc := l.Confidence.Shape(), l.Location.Shape()
		if len(conf) != 4 || conf[0] != batch || conf[2] != h || conf[3] != w {
			return nil, config.NewShapeMismatchError(l.Name, "confidence", fmt.Sprintf("(%d, k*n_classes, %d, %d)", batch, h, w), conf)
		}
		expectedLoc := tensor.Shape{batch, k * 4, h, w}
		if !loc.Eq(expectedLoc) {
			return nil, config.NewShapeMismatchError(l.Name, "location", expectedLoc, loc)
		}
		n, err := resolveNumClasses(l.Name, conf[1], k, numClasses, i == 0 && a.NumClasses == 0)
		if err != nil {
			return nil, err
		}
		numClasses = n

		boxes := h * w * k
		confFlat, err := flattenNode(l.Confidence, tensor.Shape{batch, boxes, numClasses})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to flatten %s confidence", l.Name)
		}
		locFlat, err := flattenNode(l.Location, tensor.Shape{batch, boxes, 4})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to flatten %s location", l.Name)
		}
		confs = append(confs, confFlat)
		locs = append(locs, locFlat)
		anchorBlocks = append(anchorBlocks, AnchorBlock(l.Anchors, l.Variances))
	}

	conf, err := concatNodes(1, confs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to concatenate confidences")
	}
	scores, err := gorgonia.SoftMax(conf, 2)
	if err != nil {
		return nil, errors.Wrap(err, "softmax failed")
	}
	loc, err := concatNodes(1, locs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to concatenate locations")
	}

	allAnchors, err := utils.VStack(anchorBlocks)
	if err != nil {
		return nil, errors.Wrap(err, "failed to concatenate anchors")
	}
	tiled := TileBatch(allAnchors, batch)
	anchorNode := gorgonia.NewTensor(g, tensor.Float32, 3,
		gorgonia.WithShape(tiled.Shape()...),
		gorgonia.WithName("mbox_priorbox"),
		gorgonia.WithValue(tiled),
	)

	out, err := gorgonia.Concat(2, scores, loc, anchorNode)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build predictions")
	}
	return out, nil
}

// flattenNode turns a (b, d, h, w) node into (b, h*w*k, d/k) following the row-major box order.
func flattenNode(n *gorgonia.Node, shape tensor.Shape) (*gorgonia.Node, error) {
	nhwc, err := gorgonia.Transpose(n, 0, 2, 3, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(nhwc, shape)
}

func concatNodes(axis int, nodes []*gorgonia.Node) (*gorgonia.Node, error) {
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return gorgonia.Concat(axis, nodes...)
}
