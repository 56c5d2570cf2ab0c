// Package archive - Per-image heatmap archives.
//
// Every image of a batch is written to its own compressed archive, hm_NNNNN.npz,
// holding one .npy array per output. The layout is readable by numpy.load.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/layer"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Array names stored in a heatmap archive.
const (
	ImageMeta          = "input_image_meta"
	PredictionHeatmap  = "pr_hm_norm"
	PredictionScores   = "pr_hm_scores"
	GroundTruthHeatmap = "gt_hm_norm"
	GroundTruthScores  = "gt_hm_scores"
)

const npyExt = ".npy"

// Image holds the arrays of one image.
type Image struct {
	// ID is the dataset image id, the first value of the image meta.
	ID int
	// Arrays maps array names to per-image tensors.
	Arrays map[string]*tensor.Dense
}

// FileName returns the archive file name of an image.
//
// @example
// archive.FileName(42) // "hm_00042.npz"
func FileName(imageID int) string {
	return fmt.Sprintf("hm_%05d.npz", imageID)
}

// Split slices a forward pass into per-image arrays.
//
// Arguments:
//   - res: The layer result.
//   - meta: The (B, M) image meta tensor; meta[b, 0] is the image id.
//
// Returns:
//   - []Image: One entry per image of the batch.
//   - error: An error if meta does not match the batch.
func Split(res *layer.Result, meta *tensor.Dense) ([]Image, error) {
	if err := tensors.CheckShape(meta, "image meta", tensors.Any, tensors.Any); err != nil {
		return nil, err
	}
	batch := meta.Shape()[0]
	if got := res.Predictions.Heatmap.Shape()[0]; got != batch {
		return nil, errors.Wrapf(tensors.ErrShapeMismatch, "image meta has %d images, heatmap has %d", batch, got)
	}

	named := map[string]*tensor.Dense{
		PredictionHeatmap: res.Predictions.Heatmap,
		PredictionScores:  res.Predictions.Scores,
	}
	if res.GroundTruth != nil {
		named[GroundTruthHeatmap] = res.GroundTruth.Heatmap
		named[GroundTruthScores] = res.GroundTruth.Scores
	}

	images := make([]Image, batch)
	for b := range images {
		m, err := tensors.Index(meta, b)
		if err != nil {
			return nil, err
		}
		values, err := tensors.Float32s(m)
		if err != nil {
			return nil, errors.Wrap(err, "image meta")
		}

		images[b] = Image{
			ID:     int(values[0]),
			Arrays: map[string]*tensor.Dense{ImageMeta: m},
		}
		for name, t := range named {
			if images[b].Arrays[name], err = tensors.Index(t, b); err != nil {
				return nil, errors.Wrapf(err, "slicing %s", name)
			}
		}
	}

	return images, nil
}

// Write writes arrays to w as a compressed npz archive. Arrays are stored in
// name order.
func Write(w io.Writer, arrays map[string]*tensor.Dense) error {
	names := make([]string, 0, len(arrays))
	for name := range arrays {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(w)
	for _, name := range names {
		f, err := zw.CreateHeader(&zip.FileHeader{
			Name:   name + npyExt,
			Method: zip.Deflate,
		})
		if err != nil {
			return errors.Wrapf(err, "creating %s", name)
		}
		if err := arrays[name].WriteNpy(f); err != nil {
			return errors.Wrapf(err, "writing %s", name)
		}
	}

	return errors.Wrap(zw.Close(), "closing archive")
}

// WriteImage writes the archive of one image into dir.
//
// Arguments:
//   - dir: The destination directory. It is created if missing.
//   - img: The image arrays.
//
// Returns:
//   - string: The path of the written archive.
//   - error: An error if the archive cannot be written.
func WriteImage(dir string, img Image) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating %s", dir)
	}

	path := filepath.Join(dir, FileName(img.ID))
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrapf(err, "creating %s", path)
	}

	if err := Write(f, img.Arrays); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", errors.Wrapf(err, "closing %s", path)
	}

	return path, nil
}

// Read reads every array of an npz archive.
func Read(r io.ReaderAt, size int64) (map[string]*tensor.Dense, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, errors.Wrap(err, "opening archive")
	}

	arrays := make(map[string]*tensor.Dense, len(zr.File))
	for _, f := range zr.File {
		name, ok := strings.CutSuffix(f.Name, npyExt)
		if !ok {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", f.Name)
		}
		t := new(tensor.Dense)
		err = t.ReadNpy(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", f.Name)
		}
		arrays[name] = t
	}

	return arrays, nil
}

// ReadFile reads every array of the npz archive at path.
func ReadFile(path string) (map[string]*tensor.Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Read(bytes.NewReader(data), int64(len(data)))
}
