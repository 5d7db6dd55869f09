package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a model configuration.
//
//	model:
//	  image_size: [300, 300, 3]
//	  n_classes: 21
//	  aspect_ratios_global: [0.5, 1.0, 2.0]
//	detection:
//	  model_name: ssd300
//	  timeout: 20s
type File struct {
	Model     *SSD300Params       `yaml:"model"`
	Detection *SSDDetectionParams `yaml:"detection"`
}

// LoadFile reads a YAML configuration, overlays it on the defaults and validates the
// model section.
func LoadFile(path string) (*File, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	}
	return ParseFile(content)
}

// ParseFile is LoadFile on an in-memory document.
func ParseFile(content []byte) (*File, error) {
	detection := *DefaultSSDDetectionParams
	f := &File{
		Model:     DefaultSSD300Params(),
		Detection: &detection,
	}
	if err := yaml.Unmarshal(content, f); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}

	// The per-layer default would silently win over a global list given in the file.
	var raw struct {
		Model map[string]interface{} `yaml:"model"`
	}
	if err := yaml.Unmarshal(content, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	if _, ok := raw.Model["aspect_ratios_global"]; ok {
		if _, ok := raw.Model["aspect_ratios_per_layer"]; !ok {
			f.Model.AspectRatiosPerLayer = nil
		}
	}

	if err := f.Model.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadSSD300Params returns only the model section of the file at path.
func LoadSSD300Params(path string) (*SSD300Params, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return f.Model, nil
}
