package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/layer"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Batch is one batch of detection head outputs, as dumped by the training
// pipeline.
type Batch struct {
	// Path is the path of the batch file.
	Path string `json:"-"`
	// Index is the batch number taken from the file name.
	Index int `json:"-"`

	// ImageMeta is (B, M); ImageMeta[b][0] is the dataset image id.
	ImageMeta [][]float32 `json:"image_meta"`
	// Proposals are (B, R) normalized (y1, x1, y2, x2) RoIs.
	Proposals [][][4]float32 `json:"proposals"`
	// ClassScores are (B, R, C) class probabilities.
	ClassScores [][][]float32 `json:"class_scores"`
	// BBoxDeltas are (B, R, C) (dy, dx, log dh, log dw) deltas.
	BBoxDeltas [][][][4]float32 `json:"bbox_deltas"`
	// GTClassIDs are (B, G) ground-truth class ids, 0 for padding.
	GTClassIDs [][]int32 `json:"gt_class_ids,omitempty"`
	// GTBoxes are (B, G) normalized ground-truth boxes.
	GTBoxes [][][4]float32 `json:"gt_boxes,omitempty"`
}

// LoadBatch reads one batch file.
//
// Arguments:
//   - path: Path of a JSON batch file.
//
// Returns:
//   - *Batch: The decoded batch.
//   - error: Error if the file cannot be read or decoded.
func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading batch %s", path)
	}

	b := &Batch{Path: path}
	if err := json.Unmarshal(data, b); err != nil {
		return nil, errors.Wrapf(err, "decoding batch %s", path)
	}
	return b, nil
}

// LoadDirectoryBatches reads all batch files from a directory.
//
// Batch files are named batch-N.json and are returned ordered by N.
//
// Arguments:
// - dir: Directory path containing batch files.
//
// Returns:
// - []*Batch: The decoded batches.
// - error: Error if loading fails.
func LoadDirectoryBatches(dir string) ([]*Batch, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var batches []*Batch
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		name := strings.TrimSuffix(file.Name(), ".json")
		if !strings.HasPrefix(name, "batch-") {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, "batch-"))
		if err != nil {
			return nil, errors.Wrapf(err, "batch file %s", file.Name())
		}

		b, err := LoadBatch(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		b.Index = index
		batches = append(batches, b)
	}

	sort.Slice(batches, func(i, j int) bool {
		return batches[i].Index < batches[j].Index
	})

	return batches, nil
}

// Inputs converts the batch to layer inputs. Ground truth is included when the
// batch carries it.
func (b *Batch) Inputs() (layer.Inputs, error) {
	var in layer.Inputs
	var err error

	if in.Proposals, err = boxes("proposals", b.Proposals); err != nil {
		return in, err
	}
	if in.ClassScores, err = scores("class_scores", b.ClassScores); err != nil {
		return in, err
	}
	if in.BBoxDeltas, err = deltas("bbox_deltas", b.BBoxDeltas); err != nil {
		return in, err
	}

	if len(b.GTClassIDs) == 0 && len(b.GTBoxes) == 0 {
		return in, nil
	}
	if in.GTClassIDs, err = classIDs("gt_class_ids", b.GTClassIDs); err != nil {
		return in, err
	}
	if in.GTBoxes, err = boxes("gt_boxes", b.GTBoxes); err != nil {
		return in, err
	}
	return in, nil
}

// Meta returns the (B, M) image meta tensor.
func (b *Batch) Meta() (*tensor.Dense, error) {
	n, m, err := dims("image_meta", b.ImageMeta)
	if err != nil {
		return nil, err
	}
	data := make([]float32, 0, n*m)
	for _, row := range b.ImageMeta {
		data = append(data, row...)
	}
	return tensors.New(data, n, m), nil
}

// dims returns the extents of a rectangular, non-empty nested slice.
func dims[T any](name string, v [][]T) (int, int, error) {
	if len(v) == 0 || len(v[0]) == 0 {
		return 0, 0, errors.Wrapf(tensors.ErrShapeMismatch, "%s is empty", name)
	}
	for i, row := range v {
		if len(row) != len(v[0]) {
			return 0, 0, errors.Wrapf(tensors.ErrShapeMismatch, "%s[%d] has %d entries, expected %d",
				name, i, len(row), len(v[0]))
		}
	}
	return len(v), len(v[0]), nil
}

func boxes(name string, v [][][4]float32) (*tensor.Dense, error) {
	n, r, err := dims(name, v)
	if err != nil {
		return nil, err
	}
	data := make([]float32, 0, n*r*4)
	for _, img := range v {
		for _, box := range img {
			data = append(data, box[:]...)
		}
	}
	return tensors.New(data, n, r, 4), nil
}

func scores(name string, v [][][]float32) (*tensor.Dense, error) {
	n, r, err := dims(name, v)
	if err != nil {
		return nil, err
	}
	_, c, err := dims(name+"[0]", v[0])
	if err != nil {
		return nil, err
	}

	data := make([]float32, 0, n*r*c)
	for i, img := range v {
		for j, roi := range img {
			if len(roi) != c {
				return nil, errors.Wrapf(tensors.ErrShapeMismatch, "%s[%d][%d] has %d classes, expected %d",
					name, i, j, len(roi), c)
			}
			data = append(data, roi...)
		}
	}
	return tensors.New(data, n, r, c), nil
}

func deltas(name string, v [][][][4]float32) (*tensor.Dense, error) {
	n, r, err := dims(name, v)
	if err != nil {
		return nil, err
	}
	_, c, err := dims(name+"[0]", v[0])
	if err != nil {
		return nil, err
	}

	data := make([]float32, 0, n*r*c*4)
	for i, img := range v {
		for j, roi := range img {
			if len(roi) != c {
				return nil, errors.Wrapf(tensors.ErrShapeMismatch, "%s[%d][%d] has %d classes, expected %d",
					name, i, j, len(roi), c)
			}
			for _, d := range roi {
				data = append(data, d[:]...)
			}
		}
	}
	return tensors.New(data, n, r, c, 4), nil
}

func classIDs(name string, v [][]int32) (*tensor.Dense, error) {
	n, g, err := dims(name, v)
	if err != nil {
		return nil, err
	}
	data := make([]int32, 0, n*g)
	for _, img := range v {
		data = append(data, img...)
	}
	return tensor.New(tensor.WithShape(n, g), tensor.WithBacking(data)), nil
}
