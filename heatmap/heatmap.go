// Package heatmap - Per-class Gaussian heatmaps built from detection tensors.
//
// Every real detection contributes a diagonal Gaussian centered on its box. The
// density is clipped to a window one scale parameter around the center,
// normalized to a peak of 1 and weighted by the detection's per-class
// normalized score. The weighted surfaces of a class are summed and the sum is
// normalized to a peak of 1 again, so a single dominant detection cannot wash
// out its neighbours before summation.
package heatmap

import (
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-heatmap/common"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/detections"
	"github.com/nvr-ai/go-heatmap/tensors"
)

// Result holds the heatmap and the per-detection intermediates needed to score
// the detections.
type Result struct {
	// Heatmap is the (B, H', W', C) normalized heatmap tensor.
	Heatmap *tensor.Dense

	// Entries are the real rows of the detection tensor, in (batch, class, slot)
	// order. The slices below are indexed like Entries.
	Entries []detections.Entry

	// Boxes are the entry boxes in grid coordinates.
	Boxes []common.Box

	// Gaussians are the per-detection distribution parameters.
	Gaussians []Gaussian

	// Densities are the raw densities over the whole grid: not clipped, not
	// normalized. Each holds GridHeight*GridWidth values in (y, x) order.
	Densities [][]float32

	GridHeight, GridWidth int
}

// Build computes the heatmap of a detection tensor.
//
// Arguments:
//   - det: A (B, C, K, 7) or (B, C, K, 8) detection tensor in image pixels.
//   - cfg: The layer configuration; supplies the scale factor, grid size and
//     the number of density workers.
//
// Returns:
//   - *Result: The heatmap and per-detection intermediates.
//   - error: A wrapped tensors.ErrShapeMismatch if det is malformed.
//
// @example
// res, err := heatmap.Build(det, cfg)
//
//	if err != nil {
//	    return err
//	}
//
// hm := res.Heatmap // (B, H', W', C)
func Build(det *tensor.Dense, cfg *config.Config) (*Result, error) {
	batch, classes, _, _, err := detections.Dims(det)
	if err != nil {
		return nil, err
	}
	if classes != cfg.NumClasses {
		return nil, errors.Wrapf(tensors.ErrShapeMismatch, "detections: expected %d classes, got shape %v",
			cfg.NumClasses, det.Shape())
	}

	entries, err := detections.Compact(det)
	if err != nil {
		return nil, err
	}

	gh, gw := cfg.GridHeight(), cfg.GridWidth()
	scale := float32(cfg.HeatmapScale)
	n := len(entries)

	res := &Result{
		Entries:    entries,
		Boxes:      make([]common.Box, n),
		Gaussians:  make([]Gaussian, n),
		Densities:  make([][]float32, n),
		GridHeight: gh,
		GridWidth:  gw,
	}
	for i := range entries {
		res.Boxes[i] = entries[i].Box().Downscale(scale)
		res.Gaussians[i] = NewGaussian(res.Boxes[i])
	}

	surfaces := make([][]float32, n)
	parallel(n, cfg.NumWorkers, func(i int) {
		g := res.Gaussians[i]

		density := make([]float32, gh*gw)
		g.Density(density, gh, gw)
		res.Densities[i] = density

		surface := make([]float32, gh*gw)
		y0, y1, x0, x1 := g.Window(gh, gw)
		maskWindow(surface, density, gw, y0, y1, x0, x1)
		tensors.NormalizeMax(surface)

		weight := entries[i].NormScore()
		for j := range surface {
			surface[j] *= weight
		}
		surfaces[i] = surface
	})

	plane := gh * gw
	heat := make([]float32, batch*classes*plane)
	for i, e := range entries {
		dst := heat[(e.Batch*classes+e.Class)*plane:][:plane]
		for j, v := range surfaces[i] {
			dst[j] += v
		}
	}
	for bc := 0; bc < batch*classes; bc++ {
		tensors.NormalizeMax(heat[bc*plane : (bc+1)*plane])
	}

	res.Heatmap = tensors.New(heat, batch, classes, gh, gw)
	if err := tensors.ChannelsLast(res.Heatmap); err != nil {
		return nil, err
	}
	return res, nil
}

// parallel runs fn for every index in [0, n) on a pool of workers. Each index
// is handled exactly once, so fn may write to per-index slots without locking.
func parallel(n, workers int, fn func(i int)) {
	if n == 0 {
		return
	}
	workers = max(1, min(workers, n))

	jobs := make(chan int, n)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
