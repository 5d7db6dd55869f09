package config

import (
	"fmt"
)

// ConfigError reports an invalid or contradictory construction option.
type ConfigError struct {
	Field    string
	Reason   string
	Expected interface{}
	Actual   interface{}
}

func NewConfigError(field, reason string, expected, actual interface{}) *ConfigError {
	return &ConfigError{
		Field:    field,
		Reason:   reason,
		Expected: expected,
		Actual:   actual,
	}
}

func (e *ConfigError) Error() string {
	if e.Expected == nil && e.Actual == nil {
		return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid config %s: %s (expected %v, got %v)", e.Field, e.Reason, e.Expected, e.Actual)
}

// ShapeMismatchError reports a tensor whose shape disagrees with the declared layer layout.
type ShapeMismatchError struct {
	Layer    string
	Tensor   string
	Expected interface{}
	Actual   interface{}
}

func NewShapeMismatchError(layer, tensorName string, expected, actual interface{}) *ShapeMismatchError {
	return &ShapeMismatchError{
		Layer:    layer,
		Tensor:   tensorName,
		Expected: expected,
		Actual:   actual,
	}
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch in layer %s %s: expected %v, got %v", e.Layer, e.Tensor, e.Expected, e.Actual)
}
