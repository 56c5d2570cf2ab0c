// Package tensors - Helpers over gorgonia dense tensors.
//
// Every layout the heatmap layer consumes or produces is a row-major
// *tensor.Dense of float32. Gathers and scatters over (batch, class, slot)
// keys work on the backing slices; axis permutes and sub-tensor copies go
// through the tensor API.
package tensors

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShapeMismatch is returned when an input tensor does not have the layout a
// builder expects.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Any matches any extent in CheckShape.
const Any = -1

// New wraps data in a float32 tensor of the given shape.
func New(data []float32, shape ...int) *tensor.Dense {
	return tensor.New(
		tensor.Of(tensor.Float32),
		tensor.WithShape(shape...),
		tensor.WithBacking(data),
	)
}

// Zeros allocates a zero filled float32 tensor.
func Zeros(shape ...int) *tensor.Dense {
	return New(make([]float32, tensor.Shape(shape).TotalSize()), shape...)
}

// CheckShape verifies the rank and extents of t.
//
// Arguments:
//   - t: The tensor to check.
//   - name: Name used in the error message.
//   - dims: Expected extents, Any to accept any extent on that axis.
//
// Returns:
//   - error: A wrapped ErrShapeMismatch if t does not match.
func CheckShape(t *tensor.Dense, name string, dims ...int) error {
	if t == nil {
		return errors.Wrapf(ErrShapeMismatch, "%s is nil", name)
	}

	shape := t.Shape()
	if len(shape) != len(dims) {
		return errors.Wrapf(ErrShapeMismatch, "%s: expected rank %d, got shape %v", name, len(dims), shape)
	}

	for i, d := range dims {
		if d != Any && shape[i] != d {
			return errors.Wrapf(ErrShapeMismatch, "%s: expected %s, got shape %v", name, fmtDims(dims), shape)
		}
	}

	return nil
}

func fmtDims(dims []int) string {
	s := "("
	for i, d := range dims {
		if i > 0 {
			s += ", "
		}
		if d == Any {
			s += "?"
		} else {
			s += fmt.Sprint(d)
		}
	}
	return s + ")"
}

// Float32s returns the backing slice of a float32 tensor.
func Float32s(t *tensor.Dense) ([]float32, error) {
	switch data := t.Data().(type) {
	case []float32:
		return data, nil
	case float32:
		return []float32{data}, nil
	default:
		return nil, fmt.Errorf("expected float32 tensor, got %v", t.Dtype())
	}
}

// Ints returns the values of an integer (or integral float) tensor as ints.
//
// Ground-truth class ids arrive as int32 from the dataset loader, but callers
// that build every input as float32 are accepted too.
func Ints(t *tensor.Dense) ([]int, error) {
	var out []int
	switch data := t.Data().(type) {
	case []int32:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	case []int64:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	case []int:
		out = append(out, data...)
	case []float32:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	case []float64:
		out = make([]int, len(data))
		for i, v := range data {
			out[i] = int(v)
		}
	default:
		return nil, fmt.Errorf("expected integer tensor, got %v", t.Dtype())
	}
	return out, nil
}

// Index copies the i-th sub-tensor along the first axis.
//
// Arguments:
//   - t: A tensor of rank >= 2.
//   - i: The index along the first axis.
//
// Returns:
//   - *tensor.Dense: A new tensor of shape t.Shape()[1:].
//   - error: An error if i is out of range.
//
// @example
// img0, err := tensors.Index(heatmap, 0) // (H', W', C)
func Index(t *tensor.Dense, i int) (*tensor.Dense, error) {
	shape := t.Shape()
	if len(shape) < 2 {
		return nil, errors.Wrapf(ErrShapeMismatch, "cannot index tensor of shape %v", shape)
	}
	if i < 0 || i >= shape[0] {
		return nil, fmt.Errorf("index %d is out of bounds for shape %v", i, shape)
	}

	if tensor.Shape(shape[1:]).TotalSize() == 1 {
		// Single element slices come back as scalars.
		coords := make([]int, len(shape))
		coords[0] = i
		v, err := t.At(coords...)
		if err != nil {
			return nil, err
		}
		out := tensor.New(tensor.Of(t.Dtype()), tensor.WithShape(shape[1:]...))
		if err := out.SetAt(v, make([]int, len(shape)-1)...); err != nil {
			return nil, err
		}
		return out, nil
	}

	view, err := t.Slice(tensor.S(i))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to slice index %d of %v", i, shape)
	}
	return Materialize(view, shape[1:]...)
}

// Materialize copies a view into a new tensor of the given shape. Slicing drops
// unit axes, so the shape is restored explicitly.
func Materialize(v tensor.View, shape ...int) (*tensor.Dense, error) {
	out, ok := tensor.Materialize(v).(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("expected dense tensor, got %T", v)
	}
	if !out.Shape().Eq(tensor.Shape(shape)) {
		if err := out.Reshape(shape...); err != nil {
			return nil, errors.Wrapf(err, "failed to reshape %v to %v", out.Shape(), shape)
		}
	}
	return out, nil
}

// ChannelsLast permutes a (B, C, H, W) tensor into (B, H, W, C) in place.
func ChannelsLast(t *tensor.Dense) error {
	if len(t.Shape()) != 4 {
		return errors.Wrapf(ErrShapeMismatch, "expected rank 4, got shape %v", t.Shape())
	}
	if err := t.T(0, 2, 3, 1); err != nil {
		return errors.Wrap(err, "failed to permute axes")
	}
	return errors.Wrap(t.Transpose(), "failed to transpose")
}

// MinNormalizer is the smallest maximum used as a divisor. Groups whose maximum
// falls below it are divided by 1 so that empty groups stay zero instead of
// turning into NaN.
const MinNormalizer = 1.0e-15

// Normalizer returns the divisor for a group with the given maximum.
func Normalizer(peak float32) float32 {
	if peak < MinNormalizer {
		return 1
	}
	return peak
}

// Max returns the largest value of v, or 0 if v is empty.
func Max(v []float32) float32 {
	if len(v) == 0 {
		return 0
	}
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// NormalizeMax scales v in place so that its maximum becomes 1.
func NormalizeMax(v []float32) {
	n := Normalizer(Max(v))
	for i := range v {
		v[i] /= n
	}
}
