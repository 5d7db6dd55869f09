package processing

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/okieraised/go-ssd300/config"
	"gorgonia.org/tensor"
)

// AnchorBoxConfig is the input of GenerateAnchorBoxes for one feature map.
type AnchorBoxConfig struct {
	ImageHeight    int
	ImageWidth     int
	GridHeight     int
	GridWidth      int
	ThisScale      float32
	NextScale      float32
	AspectRatios   []float32
	TwoBoxesForAR1 bool
	LimitBoxes     bool
	Variances      []float32
	Coords         config.Coords
}

// GenerateAnchorBoxes returns the anchors of one feature map as a (gridH, gridW, k, 4) tensor
// in cfg.Coords, and the (k, 4) variances shared by every cell. Boxes inside a cell follow
// the aspect ratio order; with TwoBoxesForAR1 the first ratio-1 box is followed by a second
// one sized from the geometric mean of ThisScale and NextScale.
func GenerateAnchorBoxes(cfg AnchorBoxConfig) (*tensor.Dense, *tensor.Dense, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	size := float32(min(cfg.ImageHeight, cfg.ImageWidth))
	wh, err := boxSizes(cfg.AspectRatios, cfg.ThisScale, cfg.NextScale, size, cfg.TwoBoxesForAR1)
	if err != nil {
		return nil, nil, err
	}

	stepY := float32(cfg.ImageHeight) / float32(cfg.GridHeight)
	stepX := float32(cfg.ImageWidth) / float32(cfg.GridWidth)
	boxes, err := TileAnchors(cfg.GridHeight, cfg.GridWidth, stepY, stepX, wh)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LimitBoxes {
		boxes, err = ConvertCoordinates(boxes, config.CoordsCentroids, config.CoordsMinMax)
		if err != nil {
			return nil, nil, err
		}
		boxes, err = ClipBoxes(boxes, cfg.ImageHeight, cfg.ImageWidth, config.CoordsMinMax)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Coords == config.CoordsCentroids {
			boxes, err = ConvertCoordinates(boxes, config.CoordsMinMax, config.CoordsCentroids)
			if err != nil {
				return nil, nil, err
			}
		}
	} else if cfg.Coords == config.CoordsMinMax {
		boxes, err = ConvertCoordinates(boxes, config.CoordsCentroids, config.CoordsMinMax)
		if err != nil {
			return nil, nil, err
		}
	}

	k := wh.Shape()[0]
	variances := make([]float32, 0, k*4)
	for range k {
		variances = append(variances, cfg.Variances...)
	}

	return boxes, tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(k, 4),
		tensor.WithBacking(variances),
	), nil
}

func (cfg AnchorBoxConfig) validate() error {
	if cfg.ImageHeight <= 0 || cfg.ImageWidth <= 0 {
		return config.NewConfigError("image_size", "image dimensions must be positive", "> 0", [2]int{cfg.ImageHeight, cfg.ImageWidth})
	}
	if cfg.GridHeight <= 0 || cfg.GridWidth <= 0 {
		return config.NewConfigError("grid", "feature map dimensions must be positive", "> 0", [2]int{cfg.GridHeight, cfg.GridWidth})
	}
	if len(cfg.AspectRatios) == 0 {
		return config.NewConfigError("aspect_ratios", "aspect ratio list must not be empty", "> 0", 0)
	}
	if !cfg.Coords.Valid() {
		return config.NewConfigError("coords", "unknown coordinate convention", []config.Coords{config.CoordsCentroids, config.CoordsMinMax}, cfg.Coords)
	}
	return config.ValidateVariances(cfg.Variances)
}

// boxSizes lists the (width, height) of every box of a cell as a (k, 2) tensor.
func boxSizes(aspectRatios []float32, thisScale, nextScale, size float32, twoBoxesForAR1 bool) (*tensor.Dense, error) {
	wh := make([]float32, 0, 2*(len(aspectRatios)+1))
	extraAdded := false
	for _, ar := range aspectRatios {
		w, h := ratioEnum(thisScale*size, ar)
		wh = append(wh, w, h)
		if ar == 1 && twoBoxesForAR1 && !extraAdded {
			w, h = ratioEnum(math32.Sqrt(thisScale*nextScale)*size, ar)
			wh = append(wh, w, h)
			extraAdded = true
		}
	}

	for i := 0; i < len(wh); i += 2 {
		if !(wh[i] > 0) || !(wh[i+1] > 0) {
			return nil, config.NewConfigError(fmt.Sprintf("anchor box %d", i/2), "box width and height must be positive", "> 0", [2]float32{wh[i], wh[i+1]})
		}
	}

	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(len(wh)/2, 2),
		tensor.WithBacking(wh),
	), nil
}

func ratioEnum(side, aspectRatio float32) (float32, float32) {
	sq := math32.Sqrt(aspectRatio)
	return side * sq, side / sq
}
