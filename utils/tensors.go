package utils

import (
	"encoding/binary"
	"fmt"
	"math"

	"gorgonia.org/tensor"
)

// Stack concatenates tensors along axis, skipping tensors that are empty along that axis.
func Stack(axis int, tensors []*tensor.Dense) (*tensor.Dense, error) {
	var nonEmptyTensors []*tensor.Dense
	for _, t := range tensors {
		shape := t.Shape()
		if axis >= len(shape) {
			return nil, fmt.Errorf("axis %d out of range for shape %v", axis, shape)
		}
		if shape[axis] > 0 {
			nonEmptyTensors = append(nonEmptyTensors, Contiguous(t))
		}
	}

	if len(nonEmptyTensors) == 0 {
		return nil, fmt.Errorf("no tensor to concatenate along axis %d", axis)
	}
	if len(nonEmptyTensors) == 1 {
		return nonEmptyTensors[0].Clone().(*tensor.Dense), nil
	}

	result, err := nonEmptyTensors[0].Concat(axis, nonEmptyTensors[1:]...)
	if err != nil {
		return nil, fmt.Errorf("error concatenating tensors: %v", err)
	}

	return result, nil
}

// VStack concatenates tensors along the first axis.
func VStack(tensors []*tensor.Dense) (*tensor.Dense, error) {
	return Stack(0, tensors)
}

// Contiguous returns t itself when its backing is already laid out in row-major order,
// otherwise a materialized copy.
func Contiguous(t *tensor.Dense) *tensor.Dense {
	if t.IsMaterializable() {
		return t.Materialize().(*tensor.Dense)
	}
	return t
}

// ArgMax returns the index of the largest element of a float32 tensor.
func ArgMax(t *tensor.Dense) (int, error) {
	data, ok := Contiguous(t).Data().([]float32)
	if !ok || len(data) == 0 {
		return 0, fmt.Errorf("expected a non-empty float32 tensor, got %v", t.Dtype())
	}
	best := 0
	for i, v := range data {
		if v > data[best] {
			best = i
		}
	}
	return best, nil
}

// BytesToT32 decodes little endian 32-bit values, as returned in raw inference outputs.
func BytesToT32[T float32 | int32 | uint32](b []byte) []T {
	out := make([]T, len(b)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(b[i*4:])
		var v T
		switch p := any(&v).(type) {
		case *float32:
			*p = math.Float32frombits(bits)
		case *int32:
			*p = int32(bits)
		case *uint32:
			*p = bits
		}
		out[i] = v
	}
	return out
}

func RefPointer[T any](v T) *T {
	return &v
}

func DerefPointer[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
