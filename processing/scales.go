package processing

import (
	"github.com/okieraised/go-ssd300/config"
)

// ScaleSchedule returns the nLayers+1 anchor scales, as fractions of the shorter image side.
// Element i is the scale of layer i; the last element only sizes the second ratio-1 box of
// the last layer. A non-empty scales list overrides minScale and maxScale; otherwise the
// scales are linearly interpolated from minScale to maxScale inclusive.
func ScaleSchedule(minScale, maxScale *float32, scales []float32, nLayers int) ([]float32, error) {
	if nLayers <= 0 {
		return nil, config.NewConfigError("layers", "at least one classifier layer is required", "> 0", nLayers)
	}

	if len(scales) > 0 {
		if len(scales) != nLayers+1 {
			return nil, config.NewConfigError("scales", "one scale per classifier layer plus one trailing scale is required", nLayers+1, len(scales))
		}
		for _, s := range scales {
			if s <= 0 {
				return nil, config.NewConfigError("scales", "all scaling factors must be > 0", "> 0", scales)
			}
		}
		out := make([]float32, len(scales))
		copy(out, scales)
		return out, nil
	}

	if minScale == nil || maxScale == nil {
		return nil, config.NewConfigError("scales", "either min_scale and max_scale or scales need to be specified", nil, nil)
	}
	lo, hi := *minScale, *maxScale
	if lo <= 0 || hi <= 0 {
		return nil, config.NewConfigError("min_scale/max_scale", "scaling factors must be > 0", "> 0", [2]float32{lo, hi})
	}
	if lo > hi {
		return nil, config.NewConfigError("min_scale/max_scale", "min_scale must not exceed max_scale", "min_scale <= max_scale", [2]float32{lo, hi})
	}

	return linspace(lo, hi, nLayers+1), nil
}

func linspace(start, stop float32, num int) []float32 {
	out := make([]float32, num)
	if num == 1 {
		out[0] = start
		return out
	}
	step := (float64(stop) - float64(start)) / float64(num-1)
	for i := range num {
		out[i] = float32(float64(start) + float64(i)*step)
	}
	out[num-1] = stop
	return out
}
