package heatmap

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-heatmap/common"
)

// Gaussian is a diagonal 2-D normal distribution over the heatmap grid.
type Gaussian struct {
	// CX, CY is the mean: the center of the detection box in grid coordinates.
	CX, CY float32
	// SX, SY are the scale parameters: the square roots of the box half-width
	// and half-height.
	SX, SY float32
}

// NewGaussian builds the distribution of a box given in grid coordinates.
func NewGaussian(box common.Box) Gaussian {
	w := box.Width()
	h := box.Height()
	return Gaussian{
		CX: box.X1 + w/2,
		CY: box.Y1 + h/2,
		SX: math32.Sqrt(w * 0.5),
		SY: math32.Sqrt(h * 0.5),
	}
}

// Degenerate reports whether the covariance is singular (zero width or height)
// or not a number. Degenerate distributions have zero density everywhere.
func (g Gaussian) Degenerate() bool {
	return !(g.SX > 0) || !(g.SY > 0)
}

// Density writes the probability density at every grid point into dst, which
// must hold height*width values in row-major (y, x) order. Non-finite values
// are written as zero.
func (g Gaussian) Density(dst []float32, height, width int) {
	if g.Degenerate() {
		clear(dst)
		return
	}

	ex := make([]float32, width)
	for x := range ex {
		d := (float32(x) - g.CX) / g.SX
		ex[x] = math32.Exp(-0.5 * d * d)
	}

	norm := 1 / (2 * math32.Pi * g.SX * g.SY)
	for y := 0; y < height; y++ {
		d := (float32(y) - g.CY) / g.SY
		ey := norm * math32.Exp(-0.5*d*d)
		row := dst[y*width : (y+1)*width]
		for x := range row {
			v := ey * ex[x]
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				v = 0
			}
			row[x] = v
		}
	}
}

// Window returns the half-open grid window [y0, y1) x [x0, x1) spanning one
// scale parameter either side of the mean.
func (g Gaussian) Window(height, width int) (y0, y1, x0, x1 int) {
	y0, y1 = span(math32.Max(g.CY-g.SY, 0), math32.Min(g.CY+g.SY, float32(height)), height)
	x0, x1 = span(math32.Max(g.CX-g.SX, 0), math32.Min(g.CX+g.SX, float32(width)), width)
	return
}

// BoxSpan returns the half-open grid window covered by a box in grid
// coordinates.
func BoxSpan(box common.Box, height, width int) (y0, y1, x0, x1 int) {
	y0, y1 = span(box.Y1, box.Y2, height)
	x0, x1 = span(box.X1, box.X2, width)
	return
}

// span returns the half-open index range holding int(start + k) for every
// k = 0, 1, ... with start + k < end, limited to [0, n).
func span(start, end float32, n int) (lo, hi int) {
	count := math32.Ceil(end - start)
	if !(count > 0) {
		return 0, 0
	}

	lo = int(start)
	hi = int(start+count-1) + 1
	lo = max(lo, 0)
	hi = min(hi, n)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// maskWindow zeroes every value of src outside [y0, y1) x [x0, x1).
func maskWindow(dst, src []float32, width, y0, y1, x0, x1 int) {
	clear(dst)
	for y := y0; y < y1; y++ {
		copy(dst[y*width+x0:y*width+x1], src[y*width+x0:y*width+x1])
	}
}
