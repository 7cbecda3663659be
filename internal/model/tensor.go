package model

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when a tensor does not match the shape a
// model expects.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor of the given shape.
func NewTensor(shape []int64) *Tensor {
	return &Tensor{
		Shape: append([]int64(nil), shape...),
		Data:  make([]float32, elementCount(shape)),
	}
}

// Validate reports an ErrShapeMismatch when the tensor shape differs from
// expected or its data length disagrees with its own shape.
func (t *Tensor) Validate(expected []int64) error {
	if t == nil {
		return fmt.Errorf("%w: nil tensor", ErrShapeMismatch)
	}
	if len(t.Shape) != len(expected) {
		return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, expected, t.Shape)
	}
	for i := range expected {
		if t.Shape[i] != expected[i] {
			return fmt.Errorf("%w: expected %v, got %v", ErrShapeMismatch, expected, t.Shape)
		}
	}
	if want := elementCount(t.Shape); int64(len(t.Data)) != want {
		return fmt.Errorf("%w: shape %v needs %d values, got %d", ErrShapeMismatch, t.Shape, want, len(t.Data))
	}
	return nil
}

func elementCount(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
