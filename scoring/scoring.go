// Package scoring - Per-detection confidence scores from Gaussian mass.
//
// A detection's score is the Gaussian mass that falls inside its own box. The
// mass is taken from the full density surface, not from the neighbourhood
// clipped surface that feeds the heatmap.
package scoring

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/detections"
	"github.com/nvr-ai/go-heatmap/heatmap"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Columns appended to a trimmed detection tensor.
const (
	ColMass = detections.NumOutputCols + iota
	ColArea
	ColWeightedMass

	// NumCols is the width of a scored detection tensor.
	NumCols
)

// NumScoreCols is the number of score columns per detection.
const NumScoreCols = NumCols - detections.NumOutputCols

// Score is the score triple of one detection.
type Score struct {
	// Mass is the sum of the density inside the detection box.
	Mass float32
	// Area is the box area in grid pixels.
	Area float32
	// WeightedMass is Mass multiplied by the normalized class score.
	WeightedMass float32
}

// ScoreDetections computes the score triple of every detection.
//
// Arguments:
//   - densities: One density surface per detection, height*width values each.
//   - boxes: The detection boxes in grid coordinates.
//   - normScores: The per-class normalized scores.
//   - height, width: The grid size.
//   - normalized: Integrate the density scaled to a peak of 1 instead of the raw
//     density.
//
// Returns:
//   - []Score: One triple per detection.
//   - error: A wrapped tensors.ErrShapeMismatch if the inputs disagree in length.
func ScoreDetections(densities [][]float32, boxes []common.Box, normScores []float32, height, width int, normalized bool) ([]Score, error) {
	if len(boxes) != len(densities) || len(normScores) != len(densities) {
		return nil, errors.Wrapf(tensors.ErrShapeMismatch, "scoring: %d densities, %d boxes, %d scores",
			len(densities), len(boxes), len(normScores))
	}

	scores := make([]Score, len(densities))
	for i, density := range densities {
		if len(density) != height*width {
			return nil, errors.Wrapf(tensors.ErrShapeMismatch, "scoring: density %d has %d values, expected %dx%d",
				i, len(density), height, width)
		}

		mass := boxMass(density, boxes[i], height, width)
		if normalized {
			mass /= tensors.Normalizer(tensors.Max(density))
		}

		scores[i] = Score{
			Mass:         mass,
			Area:         boxes[i].Area(),
			WeightedMass: mass * normScores[i],
		}
	}

	return scores, nil
}

// boxMass sums density over the grid points covered by box.
func boxMass(density []float32, box common.Box, height, width int) float32 {
	y0, y1, x0, x1 := heatmap.BoxSpan(box, height, width)

	var sum float32
	for y := y0; y < y1; y++ {
		for _, v := range density[y*width+x0 : y*width+x1] {
			sum += v
		}
	}
	return sum
}

// Attach scatters the score triples back to their (batch, class, slot) keys and
// appends them to the trimmed detection tensor.
//
// Arguments:
//   - det: The (B, C, K, 7) or (B, C, K, 8) detection tensor.
//   - entries: The real rows of det, as returned by detections.Compact.
//   - scores: One triple per entry.
//
// Returns:
//   - *tensor.Dense: The (B, C, K, 10) scored detection tensor. Padding rows
//     stay all zero.
//   - error: An error if det is malformed or an entry key is out of range.
func Attach(det *tensor.Dense, entries []detections.Entry, scores []Score) (*tensor.Dense, error) {
	batch, classes, slots, _, err := detections.Dims(det)
	if err != nil {
		return nil, err
	}
	if len(entries) != len(scores) {
		return nil, errors.Wrapf(tensors.ErrShapeMismatch, "scoring: %d entries, %d scores", len(entries), len(scores))
	}

	data := make([]float32, batch*classes*slots*NumScoreCols)
	for i, e := range entries {
		if e.Batch >= batch || e.Class >= classes || e.Slot >= slots {
			return nil, errors.Errorf("scoring: entry (%d, %d, %d) is outside shape %v",
				e.Batch, e.Class, e.Slot, det.Shape())
		}
		row := data[((e.Batch*classes+e.Class)*slots+e.Slot)*NumScoreCols:][:NumScoreCols]
		row[0] = scores[i].Mass
		row[1] = scores[i].Area
		row[2] = scores[i].WeightedMass
	}

	trimmed, err := detections.Trim(det)
	if err != nil {
		return nil, err
	}

	scored, err := trimmed.Concat(3, tensors.New(data, batch, classes, slots, NumScoreCols))
	if err != nil {
		return nil, errors.Wrap(err, "appending score columns")
	}
	return scored, nil
}

// Build scores every detection of a heatmap result and returns the scored
// detection tensor.
//
// @example
// res, _ := heatmap.Build(det, cfg)
// scored, err := scoring.Build(det, res, cfg) // (B, C, K, 10)
func Build(det *tensor.Dense, res *heatmap.Result, cfg *config.Config) (*tensor.Dense, error) {
	normScores := make([]float32, len(res.Entries))
	for i := range res.Entries {
		normScores[i] = res.Entries[i].NormScore()
	}

	scores, err := ScoreDetections(res.Densities, res.Boxes, normScores, res.GridHeight, res.GridWidth, cfg.ScoreNormalized)
	if err != nil {
		return nil, err
	}

	return Attach(det, res.Entries, scores)
}
