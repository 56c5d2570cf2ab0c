package heatmap

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/detections"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Reference computes the same heatmap as Build one image, class and detection
// at a time, in float64, using gonum's normal distributions. Distribution
// parameters and windows are derived from the rows directly. It is slow and
// exists to cross-check Build.
func Reference(det *tensor.Dense, cfg *config.Config) (*tensor.Dense, error) {
	batch, classes, slots, cols, err := detections.Dims(det)
	if err != nil {
		return nil, err
	}
	data, err := tensors.Float32s(det)
	if err != nil {
		return nil, err
	}

	gh, gw := cfg.GridHeight(), cfg.GridWidth()
	scale := float32(cfg.HeatmapScale)
	out := make([]float32, batch*gh*gw*classes)

	classSum := make([]float64, gh*gw)
	surface := make([]float64, gh*gw)

	for b := 0; b < batch; b++ {
		for c := 0; c < classes; c++ {
			clear(classSum)

			for k := 0; k < slots; k++ {
				row := data[((b*classes+c)*slots+k)*cols:][:cols]
				y1, x1 := row[detections.ColY1]/scale, row[detections.ColX1]/scale
				y2, x2 := row[detections.ColY2]/scale, row[detections.ColX2]/scale
				if y1 == 0 && x1 == 0 && y2 == 0 && x2 == 0 {
					continue
				}

				cy, cx := float64(y1+y2)/2, float64(x1+x2)/2
				sy, sx := math.Sqrt(float64(y2-y1)/2), math.Sqrt(float64(x2-x1)/2)
				if !(sx > 0 && sy > 0) {
					continue
				}
				nx := distuv.Normal{Mu: cx, Sigma: sx}
				ny := distuv.Normal{Mu: cy, Sigma: sy}

				rows := windowMask(cy, sy, gh)
				columns := windowMask(cx, sx, gw)

				clear(surface)
				for y := 0; y < gh; y++ {
					if !rows[y] {
						continue
					}
					py := ny.Prob(float64(y))
					for x := 0; x < gw; x++ {
						if columns[x] {
							surface[y*gw+x] = py * nx.Prob(float64(x))
						}
					}
				}

				peak := floats.Max(surface)
				if peak < tensors.MinNormalizer {
					peak = 1
				}
				floats.Scale(float64(row[detections.ColNormScore])/peak, surface)
				floats.Add(classSum, surface)
			}

			peak := floats.Max(classSum)
			if peak < tensors.MinNormalizer {
				peak = 1
			}
			for y := 0; y < gh; y++ {
				for x := 0; x < gw; x++ {
					out[((b*gh+y)*gw+x)*classes+c] = float32(classSum[y*gw+x] / peak)
				}
			}
		}
	}

	return tensors.New(out, batch, gh, gw, classes), nil
}

// windowMask marks the grid indices int(lo + k), k = 0, 1, ..., with lo + k
// below hi, where [lo, hi) is mean -/+ sigma clamped to [0, n].
func windowMask(mean, sigma float64, n int) []bool {
	mask := make([]bool, n)
	lo := float32(math.Max(mean-sigma, 0))
	hi := float32(math.Min(mean+sigma, float64(n)))
	for k := 0; lo+float32(k) < hi; k++ {
		if i := int(lo + float32(k)); i >= 0 && i < n {
			mask[i] = true
		}
	}
	return mask
}
