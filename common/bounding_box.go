// Package common - Box geometry shared by the detection and heatmap builders.
package common

import (
	"fmt"

	"github.com/chewxy/math32"
)

// Box is an axis aligned bounding box in (y1, x1, y2, x2) order, the order used
// by the Mask R-CNN heads that produce it.
type Box struct {
	Y1, X1, Y2, X2 float32
}

// Delta is a box regression target: center shift and log scale.
type Delta struct {
	DY, DX, LogDH, LogDW float32
}

// BoxFromSlice builds a box from the first four values of v.
func BoxFromSlice(v []float32) Box {
	return Box{Y1: v[0], X1: v[1], Y2: v[2], X2: v[3]}
}

func (b Box) String() string {
	return fmt.Sprintf("(%f, %f), (%f, %f)", b.Y1, b.X1, b.Y2, b.X2)
}

// Height is y2 - y1.
func (b Box) Height() float32 {
	return b.Y2 - b.Y1
}

// Width is x2 - x1.
func (b Box) Width() float32 {
	return b.X2 - b.X1
}

// Center returns the (cy, cx) center of the box.
func (b Box) Center() (float32, float32) {
	return b.Y1 + 0.5*b.Height(), b.X1 + 0.5*b.Width()
}

// Area is height * width, in the units of the box coordinates.
func (b Box) Area() float32 {
	return b.Height() * b.Width()
}

// IsZero reports whether the coordinates sum to zero in absolute value, which
// is how padding rows are recognized.
func (b Box) IsZero() bool {
	return math32.Abs(b.Y1)+math32.Abs(b.X1)+math32.Abs(b.Y2)+math32.Abs(b.X2) <= 0
}

// Scale multiplies y coordinates by sy and x coordinates by sx.
//
// Arguments:
//   - sy: The vertical scale factor.
//   - sx: The horizontal scale factor.
//
// Returns:
//   - Box: The scaled box.
//
// @example
// norm := Box{Y1: 0, X1: 0, Y2: 0.5, X2: 0.5}
// px := norm.Scale(100, 100) // (0, 0), (50, 50)
func (b Box) Scale(sy, sx float32) Box {
	return Box{Y1: b.Y1 * sy, X1: b.X1 * sx, Y2: b.Y2 * sy, X2: b.X2 * sx}
}

// Downscale divides every coordinate by f.
func (b Box) Downscale(f float32) Box {
	return Box{Y1: b.Y1 / f, X1: b.X1 / f, Y2: b.Y2 / f, X2: b.X2 / f}
}

// ApplyDelta refines the box with a regression delta.
//
// The center is shifted by (dy * height, dx * width) and the height and width
// are multiplied by exp(log dh) and exp(log dw).
//
// Arguments:
//   - d: The delta, already multiplied by the configured standard deviations.
//
// Returns:
//   - Box: The refined box.
func (b Box) ApplyDelta(d Delta) Box {
	h := b.Height()
	w := b.Width()
	cy := b.Y1 + 0.5*h
	cx := b.X1 + 0.5*w

	cy += d.DY * h
	cx += d.DX * w
	h *= math32.Exp(d.LogDH)
	w *= math32.Exp(d.LogDW)

	return Box{
		Y1: cy - 0.5*h,
		X1: cx - 0.5*w,
		Y2: cy + 0.5*h,
		X2: cx + 0.5*w,
	}
}

// Clip clamps every coordinate into the window [0, height] x [0, width].
func (b Box) Clip(height, width float32) Box {
	return Box{
		Y1: clamp(b.Y1, 0, height),
		X1: clamp(b.X1, 0, width),
		Y2: clamp(b.Y2, 0, height),
		X2: clamp(b.X2, 0, width),
	}
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(math32.Min(v, hi), lo)
}
