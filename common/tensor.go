package common

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Float32s returns the backing data of a float32 tensor, checking its shape.
//
// A negative entry in shape matches any size along that axis.
//
// Arguments:
//   - name: Used in error messages.
//   - t: The tensor to read.
//   - shape: Expected shape.
//
// Returns:
//   - []float32: The row-major backing slice (a copy for single-element tensors).
//   - error: Wraps ErrShapeMismatch when t is nil, not float32, or shaped differently.
func Float32s(name string, t *tensor.Dense, shape ...int) ([]float32, error) {
	if t == nil {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: nil tensor", name)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: expected float32, got %v", name, t.Dtype())
	}
	got := t.Shape()
	if len(got) != len(shape) {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: expected rank %d, got shape %v", name, len(shape), got)
	}
	for i, want := range shape {
		if want >= 0 && got[i] != want {
			return nil, errors.Wrapf(ErrShapeMismatch, "%s: expected shape %v, got %v", name, shape, got)
		}
	}
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		// Single-element tensors report their data as a scalar.
		return []float32{data}, nil
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "%s: tensor data is %T", name, data)
	}
}

// NewFloat32 builds a float32 tensor of the given shape over data.
func NewFloat32(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}
