package detections

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// BuildGroundTruth builds a detection tensor from ground-truth instances.
//
// The result has the same layout and ordering as BuildPredictions so that both
// flow through the heatmap and scoring builders unchanged. Instances are not
// refined: their boxes are only converted to pixels. Present instances score
// 1.0. Instances with class id 0 (background, used as padding by the dataset
// loader) are left out.
//
// Arguments:
//   - classIDs: (B, G) integer class ids.
//   - boxes: (B, G, 4) boxes in normalized (y1, x1, y2, x2) coordinates.
//   - cfg: The layer configuration.
//
// Returns:
//   - *tensor.Dense: (B, C, K, NumCols) ground-truth tensor.
//   - error: An error if the inputs are malformed or a class id is out of range.
func BuildGroundTruth(classIDs, boxes *tensor.Dense, cfg *config.Config) (*tensor.Dense, error) {
	if err := tensors.CheckShape(classIDs, "gt class ids", tensors.Any, tensors.Any); err != nil {
		return nil, err
	}
	shape := classIDs.Shape()
	batch, instances := shape[0], shape[1]
	if batch < 1 || instances < 1 {
		return nil, errors.Wrapf(tensors.ErrShapeMismatch, "gt class ids: empty shape %v", shape)
	}
	if err := tensors.CheckShape(boxes, "gt boxes", batch, instances, 4); err != nil {
		return nil, err
	}

	ids, err := tensors.Ints(classIDs)
	if err != nil {
		return nil, errors.Wrap(err, "gt class ids")
	}
	coords, err := tensors.Float32s(boxes)
	if err != nil {
		return nil, errors.Wrap(err, "gt boxes")
	}

	h, w := float32(cfg.ImageHeight), float32(cfg.ImageWidth)

	rows := make([]roiRow, 0, batch*instances)
	for b := 0; b < batch; b++ {
		for g := 0; g < instances; g++ {
			i := b*instances + g
			class := ids[i]
			if class <= 0 {
				continue
			}
			if class >= cfg.NumClasses {
				return nil, fmt.Errorf("gt class id %d out of range for %d classes (image %d, instance %d)",
					class, cfg.NumClasses, b, g)
			}

			rows = append(rows, roiRow{
				batch:    b,
				class:    class,
				slot:     g,
				box:      common.BoxFromSlice(coords[i*4:]).Scale(h, w),
				score:    1,
				sequence: float32(instances - g),
			})
		}
	}

	return assemble(rows, batch, cfg.NumClasses, instances, cfg.DetectionsPerClass), nil
}
