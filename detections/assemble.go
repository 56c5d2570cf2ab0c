package detections

import (
	"sort"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// roiRow is one RoI (or ground-truth instance) keyed by the slot it scatters to.
type roiRow struct {
	batch, class, slot int
	box                common.Box
	score              float32
	sequence           float32
}

// assemble scatters rows into a (B, C, slots, NumCols) buffer keyed by
// (batch, class, slot), normalizes the score column per (image, class),
// orders every slice by descending sequence and keeps the first k rows.
//
// Sequence numbers are unique and positive for real rows, so the ordering is
// total over real rows and padding (sequence 0) always sorts last. The same
// ordering is applied to predictions and ground truth, which keeps both
// tensors index aligned.
func assemble(rows []roiRow, batch, classes, slots, k int) *tensor.Dense {
	scatt := make([]float32, batch*classes*slots*NumCols)
	for _, r := range rows {
		v := scatt[((r.batch*classes+r.class)*slots+r.slot)*NumCols:][:NumCols]
		v[ColY1] = r.box.Y1
		v[ColX1] = r.box.X1
		v[ColY2] = r.box.Y2
		v[ColX2] = r.box.X2
		v[ColClass] = float32(r.class)
		v[ColScore] = r.score
		v[ColSequence] = r.sequence
	}

	out := make([]float32, batch*classes*k*NumCols)
	order := make([]int, slots)
	keep := min(k, slots)

	for b := 0; b < batch; b++ {
		for c := 0; c < classes; c++ {
			slice := scatt[(b*classes+c)*slots*NumCols:][:slots*NumCols]

			peak := slice[ColScore]
			for s := 1; s < slots; s++ {
				if v := slice[s*NumCols+ColScore]; v > peak {
					peak = v
				}
			}
			normalizer := tensors.Normalizer(peak)
			for s := 0; s < slots; s++ {
				slice[s*NumCols+ColNormScore] = slice[s*NumCols+ColScore] / normalizer
			}

			for i := range order {
				order[i] = i
			}
			sort.SliceStable(order, func(i, j int) bool {
				return slice[order[i]*NumCols+ColSequence] > slice[order[j]*NumCols+ColSequence]
			})

			dst := out[(b*classes+c)*k*NumCols:]
			for i := 0; i < keep; i++ {
				copy(dst[i*NumCols:(i+1)*NumCols], slice[order[i]*NumCols:(order[i]+1)*NumCols])
			}
		}
	}

	return tensors.New(out, batch, classes, k, NumCols)
}
