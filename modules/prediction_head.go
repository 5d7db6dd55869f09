package modules

import (
	"fmt"

	"github.com/okieraised/go-ssd300/config"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

const headKernelSize = 3

// PredictionHead attaches the class and box offset convolutions to one feature map.
type PredictionHead struct {
	Name       string
	NumBoxes   int
	NumClasses int

	confKernels, confBiases *gorgonia.Node
	locKernels, locBiases   *gorgonia.Node
}

func NewPredictionHead(name string, numBoxes, numClasses int) (*PredictionHead, error) {
	if numBoxes <= 0 {
		return nil, config.NewConfigError(fmt.Sprintf("%s.num_boxes", name), "anchor count per cell must be positive", "> 0", numBoxes)
	}
	if numClasses <= 1 {
		return nil, config.NewConfigError("n_classes", "must include the background class and at least one object class", "> 1", numClasses)
	}
	return &PredictionHead{
		Name:       name,
		NumBoxes:   numBoxes,
		NumClasses: numClasses,
	}, nil
}

// ConfDepth is the channel depth of the class score map.
func (h *PredictionHead) ConfDepth() int {
	return h.NumBoxes * h.NumClasses
}

// LocDepth is the channel depth of the box offset map.
func (h *PredictionHead) LocDepth() int {
	return h.NumBoxes * 4
}

// Build adds a 3x3 stride 1 convolution with bias for the class scores and another one for
// the box offsets on top of the (b, c, h, w) feature node. Both outputs keep the spatial size
// of the feature map.
func (h *PredictionHead) Build(g *gorgonia.ExprGraph, feature *gorgonia.Node) (conf, loc *gorgonia.Node, err error) {
	if feature.Dims() != 4 {
		return nil, nil, config.NewShapeMismatchError(h.Name, "feature map", "(b, c, h, w)", feature.Shape())
	}

	conf, h.confKernels, h.confBiases, err = conv3x3(g, feature, h.ConfDepth(), fmt.Sprintf("%s_mbox_conf", h.Name))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "can't prepare %s class convolution", h.Name)
	}
	loc, h.locKernels, h.locBiases, err = conv3x3(g, feature, h.LocDepth(), fmt.Sprintf("%s_mbox_loc", h.Name))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "can't prepare %s box convolution", h.Name)
	}
	return conf, loc, nil
}

// Learnables returns the kernels and biases created by Build.
func (h *PredictionHead) Learnables() gorgonia.Nodes {
	return gorgonia.Nodes{h.confKernels, h.confBiases, h.locKernels, h.locBiases}
}

func conv3x3(g *gorgonia.ExprGraph, input *gorgonia.Node, filters int, name string) (out, kernels, biases *gorgonia.Node, err error) {
	inChannels := input.Shape()[1]
	kernels = gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(filters, inChannels, headKernelSize, headKernelSize),
		gorgonia.WithName(name+"_kernels"),
		gorgonia.WithInit(gorgonia.GlorotN(1.0)),
	)

	pad := headKernelSize / 2
	convOut, err := gorgonia.Conv2d(input, kernels, tensor.Shape{headKernelSize, headKernelSize}, []int{pad, pad}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, nil, nil, err
	}

	// One bias per output channel, broadcast over batch and spatial axes.
	biases = gorgonia.NewTensor(g, tensor.Float32, 4,
		gorgonia.WithShape(1, filters, 1, 1),
		gorgonia.WithName(name+"_biases"),
		gorgonia.WithInit(gorgonia.Zeroes()),
	)
	out, err = gorgonia.BroadcastAdd(convOut, biases, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, nil, nil, err
	}
	return out, kernels, biases, nil
}
