package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSSD300Params_Valid(t *testing.T) {
	params := DefaultSSD300Params()
	assert.NoError(t, params.Validate())
	assert.Equal(t, 6, params.NumLayers())
	assert.Equal(t, 300, params.ImageHeight())
	assert.Equal(t, 300, params.ImageWidth())
	assert.Equal(t, 3, params.ImageChannels())
}

func TestDefaultSSD300Params_FreshCopy(t *testing.T) {
	a := DefaultSSD300Params()
	a.AspectRatiosPerLayer[0][0] = 42
	a.Variances[0] = 42
	*a.MinScale = 42

	b := DefaultSSD300Params()
	assert.Equal(t, float32(0.5), b.AspectRatiosPerLayer[0][0])
	assert.Equal(t, float32(0.1), b.Variances[0])
	assert.Equal(t, float32(0.1), *b.MinScale)
}

func TestValidate_Variances(t *testing.T) {
	params := DefaultSSD300Params()
	params.Variances = []float32{0.1, 0.1, 0.2}
	err := params.Validate()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "variances", cfgErr.Field)
	assert.Equal(t, 4, cfgErr.Expected)
	assert.Equal(t, 3, cfgErr.Actual)

	params.Variances = []float32{0.1, 0, 0.2, 0.2}
	err = params.Validate()
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "> 0")
}

func TestValidate_MinMaxRequiresIdentityVariances(t *testing.T) {
	params := DefaultSSD300Params()
	params.Coords = CoordsMinMax
	err := params.Validate()
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "variances", cfgErr.Field)

	params.Variances = []float32{1, 1, 1, 1}
	assert.NoError(t, params.Validate())
}

func TestValidate_Fields(t *testing.T) {
	cases := map[string]func(p *SSD300Params){
		"image_size": func(p *SSD300Params) { p.ImageSize = [3]int{300, 0, 3} },
		"n_classes":  func(p *SSD300Params) { p.NumClasses = 1 },
		"coords":     func(p *SSD300Params) { p.Coords = "corners" },
		"layers":     func(p *SSD300Params) { p.Layers = nil },
		"layers[2].channels": func(p *SSD300Params) {
			p.Layers[2].Channels = 0
		},
		"layers[4].stages[0].padding": func(p *SSD300Params) {
			p.Layers[4].Stages[0].Padding = "full"
		},
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			params := DefaultSSD300Params()
			mutate(params)
			err := params.Validate()
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "expected ConfigError, got %v", err)
			assert.Equal(t, field, cfgErr.Field)
		})
	}
}

func TestConfigError_Message(t *testing.T) {
	err := NewConfigError("scales", "wrong length", 7, 5)
	assert.Equal(t, "invalid config scales: wrong length (expected 7, got 5)", err.Error())

	err = NewConfigError("aspect_ratios", "both absent", nil, nil)
	assert.Equal(t, "invalid config aspect_ratios: both absent", err.Error())
}

func TestParseFile_Overlay(t *testing.T) {
	f, err := ParseFile([]byte(`
model:
  n_classes: 5
  limit_boxes: true
  aspect_ratios_global: [0.5, 1.0, 2.0]
detection:
  model_name: ssd300_custom
  timeout: 5s
`))
	require.NoError(t, err)
	assert.Equal(t, 5, f.Model.NumClasses)
	assert.True(t, f.Model.LimitBoxes)
	assert.Equal(t, []float32{0.5, 1.0, 2.0}, f.Model.AspectRatiosGlobal)
	assert.Nil(t, f.Model.AspectRatiosPerLayer)
	assert.Equal(t, [3]int{300, 300, 3}, f.Model.ImageSize)
	assert.Len(t, f.Model.Layers, 6)
	assert.Equal(t, "ssd300_custom", f.Detection.ModelName)
	assert.Equal(t, "5s", f.Detection.Timeout.String())
	assert.Equal(t, "ssd300", DefaultSSDDetectionParams.ModelName)
}

func TestParseFile_Invalid(t *testing.T) {
	_, err := ParseFile([]byte(`
model:
  variances: [0.1, 0.1]
`))
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = ParseFile([]byte("model: [unterminated"))
	assert.Error(t, err)
}

func TestLoadSSD300Params(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssd300.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model:\n  n_classes: 4\n  two_boxes_for_ar1: false\n"), 0o600))

	params, err := LoadSSD300Params(path)
	require.NoError(t, err)
	assert.Equal(t, 4, params.NumClasses)
	assert.False(t, params.TwoBoxesForAR1)
	assert.Equal(t, SSD300AspectRatios(), params.AspectRatiosPerLayer)

	_, err = LoadSSD300Params(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")

	require.NoError(t, os.WriteFile(path, []byte("model:\n  n_classes: 1\n"), 0o600))
	_, err = LoadSSD300Params(path)
	var cfgErr *ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
