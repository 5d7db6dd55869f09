package processing

import (
	"testing"

	"github.com/okieraised/go-ssd300/config"
	"github.com/okieraised/go-ssd300/utils"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func TestScaleSchedule_Interpolated(t *testing.T) {
	scales, err := ScaleSchedule(utils.RefPointer[float32](0.1), utils.RefPointer[float32](0.9), nil, 6)
	require.NoError(t, err)
	require.Len(t, scales, 7)
	assert.Equal(t, float32(0.1), scales[0])
	assert.Equal(t, float32(0.9), scales[6])
	assert.InDelta(t, 0.1+0.8/6, scales[1], 1e-6)
	for i := 1; i < len(scales); i++ {
		assert.GreaterOrEqual(t, scales[i], scales[i-1])
	}
}

func TestScaleSchedule_Explicit(t *testing.T) {
	explicit := []float32{0.1, 0.2, 0.37, 0.54, 0.71, 0.88, 1.05}
	scales, err := ScaleSchedule(nil, nil, explicit, 6)
	require.NoError(t, err)
	assert.Equal(t, explicit, scales)

	scales[0] = 42
	assert.Equal(t, float32(0.1), explicit[0])

	// Explicit scales override min and max.
	scales, err = ScaleSchedule(utils.RefPointer[float32](0.3), utils.RefPointer[float32](0.4), explicit, 6)
	require.NoError(t, err)
	assert.Equal(t, float32(1.05), scales[6])
}

func TestScaleSchedule_Errors(t *testing.T) {
	var cfgErr *config.ConfigError

	_, err := ScaleSchedule(nil, nil, []float32{0.1, 0.2, 0.3, 0.4, 0.5}, 6)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "scales", cfgErr.Field)
	assert.Equal(t, 7, cfgErr.Expected)
	assert.Equal(t, 5, cfgErr.Actual)
	assert.Contains(t, err.Error(), "expected 7, got 5")

	_, err = ScaleSchedule(utils.RefPointer[float32](0.1), nil, nil, 6)
	assert.True(t, errors.As(err, &cfgErr))

	_, err = ScaleSchedule(nil, nil, []float32{0.1, 0.2, 0, 0.4, 0.5, 0.6, 0.7}, 6)
	assert.True(t, errors.As(err, &cfgErr))

	_, err = ScaleSchedule(utils.RefPointer[float32](0.9), utils.RefPointer[float32](0.1), nil, 6)
	assert.True(t, errors.As(err, &cfgErr))

	_, err = ScaleSchedule(utils.RefPointer[float32](-0.1), utils.RefPointer[float32](0.9), nil, 6)
	assert.True(t, errors.As(err, &cfgErr))
}

func TestResolveAspectRatios_Global(t *testing.T) {
	global := []float32{0.5, 1.0, 2.0}
	ratios, err := ResolveAspectRatios(global, nil, 6)
	require.NoError(t, err)
	require.Len(t, ratios, 6)
	for _, r := range ratios {
		assert.Equal(t, global, r)
	}

	ratios[0][0] = 42
	assert.Equal(t, float32(0.5), global[0])
	assert.Equal(t, float32(0.5), ratios[1][0])
}

func TestResolveAspectRatios_PerLayerWins(t *testing.T) {
	perLayer := config.SSD300AspectRatios()
	ratios, err := ResolveAspectRatios([]float32{1.0}, perLayer, 6)
	require.NoError(t, err)
	assert.Equal(t, perLayer, ratios)

	k := make([]int, len(ratios))
	for i, r := range ratios {
		k[i] = NumBoxes(r, true)
	}
	assert.Equal(t, []int{4, 6, 6, 6, 4, 4}, k)
}

func TestResolveAspectRatios_Errors(t *testing.T) {
	var cfgErr *config.ConfigError

	_, err := ResolveAspectRatios(nil, nil, 6)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "aspect_ratios", cfgErr.Field)

	_, err = ResolveAspectRatios(nil, config.SSD300AspectRatios()[:5], 6)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, 6, cfgErr.Expected)
	assert.Equal(t, 5, cfgErr.Actual)

	perLayer := config.SSD300AspectRatios()
	perLayer[3] = nil
	_, err = ResolveAspectRatios(nil, perLayer, 6)
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "aspect_ratios[3]", cfgErr.Field)
}

func TestNumBoxes(t *testing.T) {
	assert.Equal(t, 4, NumBoxes([]float32{0.5, 1.0, 2.0}, true))
	assert.Equal(t, 3, NumBoxes([]float32{0.5, 1.0, 2.0}, false))
	assert.Equal(t, 2, NumBoxes([]float32{0.5, 2.0}, true))
}

func TestFeatureMapSizes_SSD300(t *testing.T) {
	sizes, err := FeatureMapSizes(300, 300, config.SSD300Layers())
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{38, 38}, {19, 19}, {10, 10}, {5, 5}, {3, 3}, {1, 1}}, sizes)

	sizes, err = FeatureMapSizes(300, 500, config.SSD300Layers())
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{38, 63}, {19, 32}, {10, 16}, {5, 8}, {3, 6}, {1, 4}}, sizes)
}

func TestFeatureMapSizes_TooSmall(t *testing.T) {
	_, err := FeatureMapSizes(16, 16, config.SSD300Layers())
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Field, "layers[4]")
}

func TestResolveLayers_SSD300(t *testing.T) {
	params := config.DefaultSSD300Params()
	layers, err := ResolveLayers(params)
	require.NoError(t, err)
	require.Len(t, layers, 6)

	assert.Equal(t, 8732, TotalBoxes(layers))
	assert.Equal(t, 4*38*38+6*19*19+6*10*10+6*5*5+4*3*3+4*1*1, TotalBoxes(layers))
	assert.Equal(t, [][2]int{{38, 38}, {19, 19}, {10, 10}, {5, 5}, {3, 3}, {1, 1}}, ClassifierSizes(layers))

	for i, l := range layers {
		assert.Equal(t, config.SSD300LayerNames[i], l.Name)
		assert.Equal(t, NumBoxes(l.AspectRatios, true), l.NumBoxes)
		assert.Less(t, l.ThisScale, l.NextScale)
	}
	assert.Equal(t, float32(0.9), layers[5].NextScale)
	assert.Equal(t, 1024, layers[1].Channels)
}

func TestResolveLayers_ConfigErrorBeforeTensors(t *testing.T) {
	params := config.DefaultSSD300Params()
	params.AspectRatiosGlobal = nil
	params.AspectRatiosPerLayer = nil

	layers, err := ResolveLayers(params)
	assert.Nil(t, layers)
	var cfgErr *config.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestGenerateLayerAnchors(t *testing.T) {
	params := config.DefaultSSD300Params()
	params.Scales = []float32{0.1, 0.2, 0.37, 0.54, 0.71, 0.88, 1.05}
	layers, err := ResolveLayers(params)
	require.NoError(t, err)

	boxes, variances, err := GenerateLayerAnchors(params, layers)
	require.NoError(t, err)
	require.Len(t, boxes, 6)

	total := 0
	for i, b := range boxes {
		assert.Equal(t, tensor.Shape{layers[i].GridHeight, layers[i].GridWidth, layers[i].NumBoxes, 4}, b.Shape())
		assert.Equal(t, tensor.Shape{layers[i].NumBoxes, 4}, variances[i].Shape())
		total += b.Shape().TotalSize() / 4
	}
	assert.Equal(t, 8732, total)

	// Last layer: second ratio-1 box uses sqrt(0.88 * 1.05).
	last := boxes[5].Float32s()
	assert.InDelta(t, 0.88*300, last[1*4+2], 1e-3)
	assert.InDelta(t, 288.3747, last[2*4+2], 1e-3)
}

func TestConvertCoordinates_RoundTrip(t *testing.T) {
	boxes := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(2, 4),
		tensor.WithBacking([]float32{10, 20, 4, 6, 150, 150, 300, 100}),
	)
	corners, err := ConvertCoordinates(boxes, config.CoordsCentroids, config.CoordsMinMax)
	require.NoError(t, err)
	assert.Equal(t, []float32{8, 12, 17, 23, 0, 300, 100, 200}, corners.Float32s())

	back, err := ConvertCoordinates(corners, config.CoordsMinMax, config.CoordsCentroids)
	require.NoError(t, err)
	assert.InDeltaSlice(t, boxes.Float32s(), back.Float32s(), 1e-5)

	// The input is not modified.
	assert.Equal(t, []float32{10, 20, 4, 6, 150, 150, 300, 100}, boxes.Float32s())

	_, err = ConvertCoordinates(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 3)), config.CoordsCentroids, config.CoordsMinMax)
	assert.Error(t, err)
}

func TestClipBoxes(t *testing.T) {
	boxes := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 4),
		tensor.WithBacking([]float32{-5, 320, -1, 250}),
	)
	clipped, err := ClipBoxes(boxes, 200, 300, config.CoordsMinMax)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 300, 0, 200}, clipped.Float32s())

	centroids := tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(1, 4),
		tensor.WithBacking([]float32{0, 0, 20, 10}),
	)
	clipped, err = ClipBoxes(centroids, 200, 300, config.CoordsCentroids)
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 2.5, 10, 5}, clipped.Float32s())
}
