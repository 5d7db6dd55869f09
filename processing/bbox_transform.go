package processing

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/okieraised/go-ssd300/config"
	"github.com/okieraised/go-ssd300/utils"
	"gorgonia.org/tensor"
)

// ConvertCoordinates converts boxes stored along the last axis (size 4) between the centroid
// and corner conventions. The input is left untouched.
func ConvertCoordinates(boxes *tensor.Dense, from, to config.Coords) (*tensor.Dense, error) {
	if err := checkBoxes(boxes); err != nil {
		return nil, err
	}
	if !from.Valid() || !to.Valid() {
		return nil, config.NewConfigError("coords", "unknown coordinate convention", []config.Coords{config.CoordsCentroids, config.CoordsMinMax}, [2]config.Coords{from, to})
	}

	src := utils.Contiguous(boxes).Float32s()
	dst := make([]float32, len(src))
	for i := 0; i < len(src); i += 4 {
		a, b, c, d := src[i], src[i+1], src[i+2], src[i+3]
		switch {
		case from == to:
			dst[i], dst[i+1], dst[i+2], dst[i+3] = a, b, c, d
		case from == config.CoordsCentroids:
			// (cx, cy, w, h) -> (xmin, xmax, ymin, ymax)
			dst[i] = a - c/2
			dst[i+1] = a + c/2
			dst[i+2] = b - d/2
			dst[i+3] = b + d/2
		default:
			// (xmin, xmax, ymin, ymax) -> (cx, cy, w, h)
			dst[i] = (a + b) / 2
			dst[i+1] = (c + d) / 2
			dst[i+2] = b - a
			dst[i+3] = d - c
		}
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(boxes.Shape().Clone()...),
		tensor.WithBacking(dst),
	), nil
}

// ClipBoxes limits box coordinates to [0, imgWidth] horizontally and [0, imgHeight]
// vertically. Centroid boxes are clipped on their corners.
func ClipBoxes(boxes *tensor.Dense, imgHeight, imgWidth int, coords config.Coords) (*tensor.Dense, error) {
	if coords == config.CoordsCentroids {
		corners, err := ConvertCoordinates(boxes, config.CoordsCentroids, config.CoordsMinMax)
		if err != nil {
			return nil, err
		}
		clipped, err := ClipBoxes(corners, imgHeight, imgWidth, config.CoordsMinMax)
		if err != nil {
			return nil, err
		}
		return ConvertCoordinates(clipped, config.CoordsMinMax, config.CoordsCentroids)
	}
	if err := checkBoxes(boxes); err != nil {
		return nil, err
	}

	width := float32(imgWidth)
	height := float32(imgHeight)

	clipped := utils.Contiguous(boxes).Clone().(*tensor.Dense)
	data := clipped.Float32s()
	for i := 0; i < len(data); i += 4 {
		data[i] = clamp(data[i], 0, width)
		data[i+1] = clamp(data[i+1], 0, width)
		data[i+2] = clamp(data[i+2], 0, height)
		data[i+3] = clamp(data[i+3], 0, height)
	}
	return clipped, nil
}

func clamp(x, lo, hi float32) float32 {
	return math32.Max(math32.Min(x, hi), lo)
}

func checkBoxes(boxes *tensor.Dense) error {
	shape := boxes.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != 4 {
		return fmt.Errorf("expected boxes with a last axis of size 4, got shape %v", shape)
	}
	if boxes.Dtype() != tensor.Float32 {
		return fmt.Errorf("expected float32 boxes, got %v", boxes.Dtype())
	}
	return nil
}
