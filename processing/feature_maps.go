package processing

import (
	"fmt"

	"github.com/okieraised/go-ssd300/config"
)

// FeatureMapSizes computes the (height, width) grid of every classifier layer by walking the
// backbone stages from the input image. Stages of a layer start from the previous layer's
// output.
func FeatureMapSizes(imgHeight, imgWidth int, layers []config.LayerSpec) ([][2]int, error) {
	sizes := make([][2]int, 0, len(layers))
	h, w := imgHeight, imgWidth
	for i, l := range layers {
		for j, s := range l.Stages {
			var err error
			if h, err = stageOutput(h, s); err != nil {
				return nil, wrapStageError(err, i, j, "height")
			}
			if w, err = stageOutput(w, s); err != nil {
				return nil, wrapStageError(err, i, j, "width")
			}
		}
		sizes = append(sizes, [2]int{h, w})
	}
	return sizes, nil
}

func stageOutput(n int, s config.ConvStage) (int, error) {
	if s.Kernel <= 0 || s.Stride <= 0 {
		return 0, config.NewConfigError("stage", "kernel and stride must be positive", "> 0", [2]int{s.Kernel, s.Stride})
	}
	var out int
	switch s.Padding {
	case config.PaddingSame:
		out = (n + s.Stride - 1) / s.Stride
	case config.PaddingValid:
		if n >= s.Kernel {
			out = (n-s.Kernel)/s.Stride + 1
		}
	default:
		return 0, config.NewConfigError("stage", "unknown padding", []config.Padding{config.PaddingSame, config.PaddingValid}, s.Padding)
	}
	if out <= 0 {
		return 0, config.NewConfigError("stage", "input too small for the backbone", "> 0", out)
	}
	return out, nil
}

func wrapStageError(err error, layer, stage int, axis string) error {
	if cfgErr, ok := err.(*config.ConfigError); ok {
		cfgErr.Field = fmt.Sprintf("layers[%d].stages[%d] (%s)", layer, stage, axis)
		return cfgErr
	}
	return err
}
