package processing

import (
	"fmt"

	"gorgonia.org/tensor"
)

// TileAnchors spreads the (k, 2) per-cell box sizes over a height x width grid and returns
// centroid boxes of shape (height, width, k, 4). Cell centers sit half a step from the grid
// origin so that the cells exactly tile the image.
func TileAnchors(height, width int, stepY, stepX float32, boxSizes *tensor.Dense) (*tensor.Dense, error) {
	shape := boxSizes.Shape()
	if len(shape) != 2 || shape[1] != 2 {
		return nil, fmt.Errorf("expected box sizes of shape (k, 2), got %v", shape)
	}
	k := shape[0]
	sizes := boxSizes.Float32s()

	backing := make([]float32, height*width*k*4)
	for ih := range height {
		cy := (float32(ih) + 0.5) * stepY
		for iw := range width {
			cx := (float32(iw) + 0.5) * stepX
			for a := range k {
				offset := ((ih*width+iw)*k + a) * 4
				backing[offset] = cx
				backing[offset+1] = cy
				backing[offset+2] = sizes[a*2]
				backing[offset+3] = sizes[a*2+1]
			}
		}
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(height, width, k, 4),
		tensor.WithBacking(backing),
	), nil
}
