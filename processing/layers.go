package processing

import (
	"github.com/okieraised/go-ssd300/config"
	"gorgonia.org/tensor"
)

// LayerDescriptor is everything the head needs to know about one classifier layer.
type LayerDescriptor struct {
	Name         string
	GridHeight   int
	GridWidth    int
	Channels     int
	AspectRatios []float32
	ThisScale    float32
	NextScale    float32
	NumBoxes     int
}

// NumAnchors is the number of anchors the layer contributes to the prediction tensor.
func (d LayerDescriptor) NumAnchors() int {
	return d.GridHeight * d.GridWidth * d.NumBoxes
}

// ResolveLayers validates params and derives the ordered layer descriptors.
func ResolveLayers(p *config.SSD300Params) ([]LayerDescriptor, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	nLayers := p.NumLayers()

	scales, err := ScaleSchedule(p.MinScale, p.MaxScale, p.Scales, nLayers)
	if err != nil {
		return nil, err
	}
	ratios, err := ResolveAspectRatios(p.AspectRatiosGlobal, p.AspectRatiosPerLayer, nLayers)
	if err != nil {
		return nil, err
	}
	sizes, err := FeatureMapSizes(p.ImageHeight(), p.ImageWidth(), p.Layers)
	if err != nil {
		return nil, err
	}

	layers := make([]LayerDescriptor, nLayers)
	for i, spec := range p.Layers {
		layers[i] = LayerDescriptor{
			Name:         spec.Name,
			GridHeight:   sizes[i][0],
			GridWidth:    sizes[i][1],
			Channels:     spec.Channels,
			AspectRatios: ratios[i],
			ThisScale:    scales[i],
			NextScale:    scales[i+1],
			NumBoxes:     NumBoxes(ratios[i], p.TwoBoxesForAR1),
		}
	}
	return layers, nil
}

// TotalBoxes is the length of the box axis of the prediction tensor.
func TotalBoxes(layers []LayerDescriptor) int {
	total := 0
	for _, l := range layers {
		total += l.NumAnchors()
	}
	return total
}

// ClassifierSizes returns the (height, width) grid of every layer, in prediction order.
func ClassifierSizes(layers []LayerDescriptor) [][2]int {
	sizes := make([][2]int, len(layers))
	for i, l := range layers {
		sizes[i] = [2]int{l.GridHeight, l.GridWidth}
	}
	return sizes
}

// AnchorBoxConfig builds the anchor generator input of the layer.
func (d LayerDescriptor) AnchorBoxConfig(p *config.SSD300Params) AnchorBoxConfig {
	return AnchorBoxConfig{
		ImageHeight:    p.ImageHeight(),
		ImageWidth:     p.ImageWidth(),
		GridHeight:     d.GridHeight,
		GridWidth:      d.GridWidth,
		ThisScale:      d.ThisScale,
		NextScale:      d.NextScale,
		AspectRatios:   d.AspectRatios,
		TwoBoxesForAR1: p.TwoBoxesForAR1,
		LimitBoxes:     p.LimitBoxes,
		Variances:      p.Variances,
		Coords:         p.Coords,
	}
}

// GenerateLayerAnchors generates the anchors and variances of every layer.
func GenerateLayerAnchors(p *config.SSD300Params, layers []LayerDescriptor) ([]*tensor.Dense, []*tensor.Dense, error) {
	boxes := make([]*tensor.Dense, 0, len(layers))
	variances := make([]*tensor.Dense, 0, len(layers))
	for _, l := range layers {
		b, v, err := GenerateAnchorBoxes(l.AnchorBoxConfig(p))
		if err != nil {
			return nil, nil, err
		}
		boxes = append(boxes, b)
		variances = append(variances, v)
	}
	return boxes, variances, nil
}
