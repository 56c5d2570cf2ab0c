package detections

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// BuildPredictions splits the RoIs of every image by predicted class.
//
// Each RoI is explained only by its winning class: the class with the highest
// score is selected, that class's score and box delta are gathered, the delta
// is rescaled by the configured standard deviations and applied to the RoI in
// pixel coordinates, and the refined box is clipped to the image. Rows are then
// grouped by (image, class), given a per-class normalized score and kept in
// original RoI order, at most cfg.DetectionsPerClass per class. All-zero RoIs
// are padding and are not scattered.
//
// Arguments:
//   - proposals: (B, R, 4) RoIs in normalized (y1, x1, y2, x2) coordinates.
//   - classScores: (B, R, C) per-class probabilities.
//   - bboxDeltas: (B, R, C, 4) per-class (dy, dx, log dh, log dw) deltas.
//   - cfg: The layer configuration.
//
// Returns:
//   - *tensor.Dense: (B, C, K, NumCols) detection tensor.
//   - error: A wrapped tensors.ErrShapeMismatch if the inputs are malformed.
//
// @example
// det, err := detections.BuildPredictions(rois, mrcnnClass, mrcnnBBox, cfg)
//
//	if err != nil {
//	    return err
//	}
func BuildPredictions(proposals, classScores, bboxDeltas *tensor.Dense, cfg *config.Config) (*tensor.Dense, error) {
	numClasses := cfg.NumClasses
	if err := tensors.CheckShape(classScores, "class scores", tensors.Any, tensors.Any, numClasses); err != nil {
		return nil, err
	}
	shape := classScores.Shape()
	batch, rois := shape[0], shape[1]
	if batch < 1 || rois < 1 {
		return nil, errors.Wrapf(tensors.ErrShapeMismatch, "class scores: empty shape %v", shape)
	}
	if err := tensors.CheckShape(proposals, "proposals", batch, rois, 4); err != nil {
		return nil, err
	}
	if err := tensors.CheckShape(bboxDeltas, "bbox deltas", batch, rois, numClasses, 4); err != nil {
		return nil, err
	}

	scores, err := tensors.Float32s(classScores)
	if err != nil {
		return nil, errors.Wrap(err, "class scores")
	}
	rois4, err := tensors.Float32s(proposals)
	if err != nil {
		return nil, errors.Wrap(err, "proposals")
	}
	deltas, err := tensors.Float32s(bboxDeltas)
	if err != nil {
		return nil, errors.Wrap(err, "bbox deltas")
	}

	h, w := float32(cfg.ImageHeight), float32(cfg.ImageWidth)
	std := cfg.BBoxStdDev

	rows := make([]roiRow, 0, batch*rois)
	for b := 0; b < batch; b++ {
		for r := 0; r < rois; r++ {
			i := b*rois + r
			roi := common.BoxFromSlice(rois4[i*4:])
			if roi.IsZero() {
				continue
			}
			roiScores := scores[i*numClasses : (i+1)*numClasses]
			class := argmax(roiScores)

			d := deltas[(i*numClasses+class)*4:][:4]
			delta := common.Delta{
				DY:    d[0] * std[0],
				DX:    d[1] * std[1],
				LogDH: d[2] * std[2],
				LogDW: d[3] * std[3],
			}

			box := roi.
				Scale(h, w).
				ApplyDelta(delta).
				Clip(h, w)

			rows = append(rows, roiRow{
				batch:    b,
				class:    class,
				slot:     r,
				box:      box,
				score:    roiScores[class],
				sequence: float32(rois - r),
			})
		}
	}

	return assemble(rows, batch, numClasses, rois, cfg.DetectionsPerClass), nil
}

// argmax returns the index of the first maximum of v.
func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
