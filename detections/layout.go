// Package detections - Per-image, per-class detection tensors.
//
// A detection tensor has shape (B, C, K, NumCols): for every image and class it
// holds up to K rows ordered by original RoI position, followed by all-zero
// padding rows. Rows whose box coordinates are all zero are padding and carry
// no detection.
package detections

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Column layout of a detection row.
const (
	ColY1 = iota
	ColX1
	ColY2
	ColX2
	ColClass
	ColScore
	ColNormScore
	// ColSequence orders rows by original RoI position and is dropped by Trim.
	ColSequence

	// NumCols is the width of the tensors built in this package.
	NumCols
)

// NumOutputCols is the width of a trimmed detection tensor.
const NumOutputCols = ColSequence

// Entry is one real (non-padding) row of a detection tensor together with the
// (batch, class, slot) key it was gathered from.
type Entry struct {
	Batch, Class, Slot int
	Row                [NumCols]float32
}

// Box returns the box of the entry in image pixels.
func (e *Entry) Box() common.Box {
	return common.BoxFromSlice(e.Row[:4])
}

// NormScore returns the per-class normalized score of the entry.
func (e *Entry) NormScore() float32 {
	return e.Row[ColNormScore]
}

// Dims returns the (B, C, K, cols) extents of a detection tensor.
func Dims(t *tensor.Dense) (batch, classes, slots, cols int, err error) {
	if err = tensors.CheckShape(t, "detections", tensors.Any, tensors.Any, tensors.Any, tensors.Any); err != nil {
		return
	}
	shape := t.Shape()
	batch, classes, slots, cols = shape[0], shape[1], shape[2], shape[3]
	if cols < NumOutputCols {
		err = errors.Wrapf(tensors.ErrShapeMismatch, "detections: expected at least %d columns, got shape %v", NumOutputCols, shape)
	}
	return
}

// Compact gathers the real rows of a detection tensor into a dense list.
//
// Entries are returned in row-major (batch, class, slot) order. Downstream
// builders evaluate only these entries and scatter results back by key, so
// their cost follows the number of real detections rather than C x K.
//
// Arguments:
//   - t: A detection tensor of shape (B, C, K, 7) or (B, C, K, 8).
//
// Returns:
//   - []Entry: The real rows.
//   - error: An error if t is not a detection tensor.
func Compact(t *tensor.Dense) ([]Entry, error) {
	batch, classes, slots, cols, err := Dims(t)
	if err != nil {
		return nil, err
	}
	data, err := tensors.Float32s(t)
	if err != nil {
		return nil, err
	}

	n := min(cols, NumCols)
	entries := make([]Entry, 0)
	for b := 0; b < batch; b++ {
		for c := 0; c < classes; c++ {
			for k := 0; k < slots; k++ {
				row := data[((b*classes+c)*slots+k)*cols:][:cols]
				if common.BoxFromSlice(row).IsZero() {
					continue
				}
				e := Entry{Batch: b, Class: c, Slot: k}
				copy(e.Row[:n], row[:n])
				entries = append(entries, e)
			}
		}
	}

	return entries, nil
}

// ClassCounts returns the number of real rows per (image, class).
func ClassCounts(t *tensor.Dense) ([][]int, error) {
	entries, err := Compact(t)
	if err != nil {
		return nil, err
	}
	batch, classes, _, _, _ := Dims(t)

	counts := make([][]int, batch)
	for b := range counts {
		counts[b] = make([]int, classes)
	}
	for _, e := range entries {
		counts[e.Batch][e.Class]++
	}
	return counts, nil
}

// Trim drops the sequence column, returning a (B, C, K, 7) tensor.
func Trim(t *tensor.Dense) (*tensor.Dense, error) {
	batch, classes, slots, _, err := Dims(t)
	if err != nil {
		return nil, err
	}

	view, err := t.Slice(nil, nil, nil, tensor.S(0, NumOutputCols))
	if err != nil {
		return nil, errors.Wrap(err, "failed to slice detection columns")
	}
	return tensors.Materialize(view, batch, classes, slots, NumOutputCols)
}
