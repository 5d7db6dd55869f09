package config

import (
	"fmt"
	"time"
)

// Coords selects the box coordinate convention of the generated anchors.
type Coords string

const (
	// CoordsCentroids is (cx, cy, w, h).
	CoordsCentroids Coords = "centroids"
	// CoordsMinMax is (xmin, xmax, ymin, ymax).
	CoordsMinMax Coords = "minmax"
)

func (c Coords) Valid() bool {
	return c == CoordsCentroids || c == CoordsMinMax
}

// Padding follows the usual convolution padding modes.
type Padding string

const (
	PaddingSame  Padding = "same"
	PaddingValid Padding = "valid"
)

// ConvStage is one spatial operation (convolution or pooling) of the backbone.
type ConvStage struct {
	Kernel  int     `json:"kernel" yaml:"kernel"`
	Stride  int     `json:"stride" yaml:"stride"`
	Padding Padding `json:"padding" yaml:"padding"`
}

// LayerSpec describes one feature map consumed by the prediction head. Stages lists the
// spatial operations between the previous feature map (the input image for the first
// layer) and this one; only operations that can change the spatial size matter.
type LayerSpec struct {
	Name     string      `json:"name" yaml:"name"`
	Channels int         `json:"channels" yaml:"channels"`
	Stages   []ConvStage `json:"stages" yaml:"stages"`
}

// SSD300LayerNames are the classifier layers of SSD300, in prediction order.
var SSD300LayerNames = [6]string{"conv4_3_norm", "fc7", "conv6_2", "conv7_2", "conv8_2", "conv9_2"}

// SSD300Layers returns the VGG-16 based SSD300 feature map layout.
func SSD300Layers() []LayerSpec {
	pool := ConvStage{Kernel: 2, Stride: 2, Padding: PaddingSame}
	return []LayerSpec{
		{Name: SSD300LayerNames[0], Channels: 512, Stages: []ConvStage{pool, pool, pool}},
		{Name: SSD300LayerNames[1], Channels: 1024, Stages: []ConvStage{pool, {Kernel: 3, Stride: 1, Padding: PaddingSame}}},
		{Name: SSD300LayerNames[2], Channels: 512, Stages: []ConvStage{{Kernel: 3, Stride: 2, Padding: PaddingSame}}},
		{Name: SSD300LayerNames[3], Channels: 256, Stages: []ConvStage{{Kernel: 3, Stride: 2, Padding: PaddingSame}}},
		{Name: SSD300LayerNames[4], Channels: 256, Stages: []ConvStage{{Kernel: 3, Stride: 1, Padding: PaddingValid}}},
		{Name: SSD300LayerNames[5], Channels: 256, Stages: []ConvStage{{Kernel: 3, Stride: 1, Padding: PaddingValid}}},
	}
}

// SSD300AspectRatios returns the per-layer aspect ratios of the published SSD300 model.
func SSD300AspectRatios() [][]float32 {
	return [][]float32{
		{0.5, 1.0, 2.0},
		{1.0 / 3.0, 0.5, 1.0, 2.0, 3.0},
		{1.0 / 3.0, 0.5, 1.0, 2.0, 3.0},
		{1.0 / 3.0, 0.5, 1.0, 2.0, 3.0},
		{0.5, 1.0, 2.0},
		{0.5, 1.0, 2.0},
	}
}

type SSD300Params struct {
	ImageSize            [3]int      `json:"image_size" yaml:"image_size"`
	NumClasses           int         `json:"n_classes" yaml:"n_classes"`
	MinScale             *float32    `json:"min_scale" yaml:"min_scale"`
	MaxScale             *float32    `json:"max_scale" yaml:"max_scale"`
	Scales               []float32   `json:"scales" yaml:"scales"`
	AspectRatiosGlobal   []float32   `json:"aspect_ratios_global" yaml:"aspect_ratios_global"`
	AspectRatiosPerLayer [][]float32 `json:"aspect_ratios_per_layer" yaml:"aspect_ratios_per_layer"`
	TwoBoxesForAR1       bool        `json:"two_boxes_for_ar1" yaml:"two_boxes_for_ar1"`
	LimitBoxes           bool        `json:"limit_boxes" yaml:"limit_boxes"`
	Variances            []float32   `json:"variances" yaml:"variances"`
	Coords               Coords      `json:"coords" yaml:"coords"`
	Layers               []LayerSpec `json:"layers" yaml:"layers"`
}

// DefaultSSD300Params returns a fresh copy of the SSD300 defaults for a 300x300 RGB input
// and the 21 classes of Pascal VOC (20 objects plus background).
func DefaultSSD300Params() *SSD300Params {
	minScale, maxScale := float32(0.1), float32(0.9)
	return &SSD300Params{
		ImageSize:            [3]int{300, 300, 3},
		NumClasses:           21,
		MinScale:             &minScale,
		MaxScale:             &maxScale,
		AspectRatiosPerLayer: SSD300AspectRatios(),
		TwoBoxesForAR1:       true,
		LimitBoxes:           false,
		Variances:            []float32{0.1, 0.1, 0.2, 0.2},
		Coords:               CoordsCentroids,
		Layers:               SSD300Layers(),
	}
}

func NewSSD300Params(imgSize [3]int, numClasses int, minScale, maxScale *float32, scales, aspectRatiosGlobal []float32,
	aspectRatiosPerLayer [][]float32, twoBoxesForAR1, limitBoxes bool, variances []float32, coords Coords) *SSD300Params {
	return &SSD300Params{
		ImageSize:            imgSize,
		NumClasses:           numClasses,
		MinScale:             minScale,
		MaxScale:             maxScale,
		Scales:               scales,
		AspectRatiosGlobal:   aspectRatiosGlobal,
		AspectRatiosPerLayer: aspectRatiosPerLayer,
		TwoBoxesForAR1:       twoBoxesForAR1,
		LimitBoxes:           limitBoxes,
		Variances:            variances,
		Coords:               coords,
		Layers:               SSD300Layers(),
	}
}

// ImageHeight returns the input height in pixels.
func (p *SSD300Params) ImageHeight() int { return p.ImageSize[0] }

// ImageWidth returns the input width in pixels.
func (p *SSD300Params) ImageWidth() int { return p.ImageSize[1] }

// ImageChannels returns the number of input channels.
func (p *SSD300Params) ImageChannels() int { return p.ImageSize[2] }

// NumLayers returns the number of classifier layers.
func (p *SSD300Params) NumLayers() int { return len(p.Layers) }

// Validate checks the field level constraints. Scale and aspect ratio alternatives are
// resolved by the processing package, which calls Validate first.
func (p *SSD300Params) Validate() error {
	for i, name := range []string{"height", "width", "channels"} {
		if p.ImageSize[i] <= 0 {
			return NewConfigError("image_size", fmt.Sprintf("%s must be positive", name), "> 0", p.ImageSize[i])
		}
	}
	if p.NumClasses <= 1 {
		return NewConfigError("n_classes", "must include the background class and at least one object class", "> 1", p.NumClasses)
	}
	if err := ValidateVariances(p.Variances); err != nil {
		return err
	}
	if !p.Coords.Valid() {
		return NewConfigError("coords", "unknown coordinate convention", []Coords{CoordsCentroids, CoordsMinMax}, p.Coords)
	}
	if p.Coords == CoordsMinMax {
		for _, v := range p.Variances {
			if v != 1 {
				return NewConfigError("variances", "variances only apply to centroid coordinates, minmax requires identity variances", []float32{1, 1, 1, 1}, p.Variances)
			}
		}
	}
	if len(p.Layers) == 0 {
		return NewConfigError("layers", "at least one classifier layer is required", "> 0", 0)
	}
	for i, l := range p.Layers {
		if l.Name == "" {
			return NewConfigError(fmt.Sprintf("layers[%d].name", i), "must not be empty", nil, nil)
		}
		if l.Channels <= 0 {
			return NewConfigError(fmt.Sprintf("layers[%d].channels", i), "must be positive", "> 0", l.Channels)
		}
		for j, s := range l.Stages {
			if s.Kernel <= 0 || s.Stride <= 0 {
				return NewConfigError(fmt.Sprintf("layers[%d].stages[%d]", i, j), "kernel and stride must be positive", "> 0", [2]int{s.Kernel, s.Stride})
			}
			if s.Padding != PaddingSame && s.Padding != PaddingValid {
				return NewConfigError(fmt.Sprintf("layers[%d].stages[%d].padding", i, j), "unknown padding", []Padding{PaddingSame, PaddingValid}, s.Padding)
			}
		}
	}
	return nil
}

// ValidateVariances requires exactly 4 strictly positive values.
func ValidateVariances(variances []float32) error {
	if len(variances) != 4 {
		return NewConfigError("variances", "4 variance values must be passed", 4, len(variances))
	}
	for _, v := range variances {
		if v <= 0 {
			return NewConfigError("variances", "all variances must be > 0", "> 0", variances)
		}
	}
	return nil
}

type SSDDetectionParams struct {
	ModelName      string        `json:"model_name" yaml:"model_name"`
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	MaxBatchSize   int           `json:"max_batch_size" yaml:"max_batch_size"`
	NormalizeInput bool          `json:"normalize_input" yaml:"normalize_input"`
}

var DefaultSSDDetectionParams = &SSDDetectionParams{
	ModelName:      "ssd300",
	Timeout:        20 * time.Second,
	MaxBatchSize:   1,
	NormalizeInput: false,
}

func NewSSDDetectionParams(modelName string, timeout time.Duration, maxBatchSize int, normalizeInput bool) *SSDDetectionParams {
	return &SSDDetectionParams{
		ModelName:      modelName,
		Timeout:        timeout,
		MaxBatchSize:   maxBatchSize,
		NormalizeInput: normalizeInput,
	}
}
