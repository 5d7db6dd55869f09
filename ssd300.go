package go_ssd300

import (
	"sync"

	"github.com/okieraised/go-ssd300/config"
	"github.com/okieraised/go-ssd300/modules"
	"github.com/okieraised/go-ssd300/processing"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Backbone extracts the classifier feature maps from the (b, h, w, c) input node. It returns
// one (b, channels, grid_h, grid_w) node per configured layer, in layer order.
type Backbone interface {
	FeatureMaps(g *gorgonia.ExprGraph, input *gorgonia.Node) ([]*gorgonia.Node, error)
}

// BackboneFunc adapts a function to the Backbone interface.
type BackboneFunc func(g *gorgonia.ExprGraph, input *gorgonia.Node) ([]*gorgonia.Node, error)

func (f BackboneFunc) FeatureMaps(g *gorgonia.ExprGraph, input *gorgonia.Node) ([]*gorgonia.Node, error) {
	return f(g, input)
}

// Model is an SSD300 graph: backbone, prediction heads and the assembled prediction node.
type Model struct {
	Params *config.SSD300Params

	g         *gorgonia.ExprGraph
	vm        gorgonia.VM
	input     *gorgonia.Node
	out       *gorgonia.Node
	batchSize int
	layers    []processing.LayerDescriptor
	heads     []*modules.PredictionHead
	mu        sync.Mutex
}

// Build validates params, wires the backbone to one prediction head per layer and assembles
// the (batchSize, total_boxes, n_classes+12) prediction node. It also returns the (h, w)
// grid of every layer, in prediction order.
func Build(params *config.SSD300Params, backbone Backbone, batchSize int) (*Model, [][2]int, error) {
	if batchSize <= 0 {
		return nil, nil, config.NewConfigError("batch_size", "must be positive", "> 0", batchSize)
	}
	layers, err := processing.ResolveLayers(params)
	if err != nil {
		return nil, nil, err
	}
	anchors, variances, err := processing.GenerateLayerAnchors(params, layers)
	if err != nil {
		return nil, nil, err
	}

	g := gorgonia.NewGraph()
	input := gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(batchSize, params.ImageHeight(), params.ImageWidth(), params.ImageChannels()),
		gorgonia.WithName("input_1"),
	)

	features, err := backbone.FeatureMaps(g, input)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build backbone")
	}
	if len(features) != len(layers) {
		return nil, nil, config.NewShapeMismatchError("backbone", "feature maps", len(layers), len(features))
	}

	heads := make([]*modules.PredictionHead, len(layers))
	outputs := make([]modules.NodeOutput, len(layers))
	for i, l := range layers {
		expected := tensor.Shape{batchSize, l.Channels, l.GridHeight, l.GridWidth}
		if features[i] == nil || !features[i].Shape().Eq(expected) {
			var actual interface{} = "nil"
			if features[i] != nil {
				actual = features[i].Shape()
			}
			return nil, nil, config.NewShapeMismatchError(l.Name, "feature map", expected, actual)
		}

		head, err := modules.NewPredictionHead(l.Name, l.NumBoxes, params.NumClasses)
		if err != nil {
			return nil, nil, err
		}
		conf, loc, err := head.Build(g, features[i])
		if err != nil {
			return nil, nil, err
		}
		heads[i] = head
		outputs[i] = modules.NodeOutput{
			Name:       l.Name,
			Confidence: conf,
			Location:   loc,
			Anchors:    anchors[i],
			Variances:  variances[i],
		}
	}

	out, err := modules.NewMultiScaleAssembler(params.NumClasses).AssembleNodes(g, outputs, batchSize)
	if err != nil {
		return nil, nil, err
	}

	sizes := processing.ClassifierSizes(layers)
	zap.L().Debug("built prediction graph",
		zap.Int("layers", len(layers)),
		zap.Any("classifier_sizes", sizes),
		zap.Int("total_boxes", processing.TotalBoxes(layers)),
		zap.Ints("output_shape", out.Shape()),
	)

	return &Model{
		Params:    params,
		g:         g,
		vm:        gorgonia.NewTapeMachine(g),
		input:     input,
		out:       out,
		batchSize: batchSize,
		layers:    layers,
		heads:     heads,
	}, sizes, nil
}

// Forward runs a (batch, h, w, c) image tensor through the graph and returns the
// (batch, total_boxes, n_classes+12) predictions.
func (m *Model) Forward(images *tensor.Dense) (*tensor.Dense, error) {
	expected := m.input.Shape()
	if !images.Shape().Eq(expected) {
		return nil, config.NewShapeMismatchError("input", "images", expected, images.Shape())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.vm.Reset()

	if err := gorgonia.Let(m.input, images); err != nil {
		return nil, errors.Wrap(err, "failed to bind input")
	}
	if err := m.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass failed")
	}

	value, ok := m.out.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.Errorf("unexpected prediction value %T", m.out.Value())
	}
	return value.Clone().(*tensor.Dense), nil
}

// ClassifierSizes returns the (h, w) grid of every layer.
func (m *Model) ClassifierSizes() [][2]int {
	return processing.ClassifierSizes(m.layers)
}

// TotalBoxes is the number of predictions per image.
func (m *Model) TotalBoxes() int {
	return processing.TotalBoxes(m.layers)
}

// Learnables returns the kernels and biases of the prediction heads.
func (m *Model) Learnables() gorgonia.Nodes {
	nodes := make(gorgonia.Nodes, 0, 4*len(m.heads))
	for _, h := range m.heads {
		nodes = append(nodes, h.Learnables()...)
	}
	return nodes
}

func (m *Model) Close() error {
	return m.vm.Close()
}
