package processing

import (
	"fmt"

	"github.com/okieraised/go-ssd300/config"
)

// ResolveAspectRatios returns one aspect ratio list per layer. A non-empty perLayer list
// takes precedence over global, which is otherwise shared by every layer. The returned
// lists never alias the inputs.
func ResolveAspectRatios(global []float32, perLayer [][]float32, nLayers int) ([][]float32, error) {
	if len(global) == 0 && len(perLayer) == 0 {
		return nil, config.NewConfigError("aspect_ratios", "aspect_ratios_global and aspect_ratios_per_layer cannot both be empty", nil, nil)
	}

	resolved := make([][]float32, nLayers)
	if len(perLayer) > 0 {
		if len(perLayer) != nLayers {
			return nil, config.NewConfigError("aspect_ratios_per_layer", "one aspect ratio list per classifier layer is required", nLayers, len(perLayer))
		}
		for i, ratios := range perLayer {
			resolved[i] = append([]float32(nil), ratios...)
		}
	} else {
		for i := range resolved {
			resolved[i] = append([]float32(nil), global...)
		}
	}

	for i, ratios := range resolved {
		if len(ratios) == 0 {
			return nil, config.NewConfigError(fmt.Sprintf("aspect_ratios[%d]", i), "aspect ratio list must not be empty", "> 0", 0)
		}
		for _, ar := range ratios {
			if ar <= 0 {
				return nil, config.NewConfigError(fmt.Sprintf("aspect_ratios[%d]", i), "aspect ratios must be > 0", "> 0", ratios)
			}
		}
	}
	return resolved, nil
}

// NumBoxes is the anchor count per grid cell for one layer.
func NumBoxes(aspectRatios []float32, twoBoxesForAR1 bool) int {
	if twoBoxesForAR1 && hasUnitRatio(aspectRatios) {
		return len(aspectRatios) + 1
	}
	return len(aspectRatios)
}

func hasUnitRatio(aspectRatios []float32) bool {
	for _, ar := range aspectRatios {
		if ar == 1 {
			return true
		}
	}
	return false
}
