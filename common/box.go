// Package common - Box geometry shared by the proposal and refinement stages.
package common

import "fmt"

// Box is an axis-aligned box in corner form.
//
// Width and height are X2-X1 and Y2-Y1 (no +1 pixel convention), which keeps the
// corner/center conversion lossless.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// CenterBox is a box in center form.
type CenterBox struct {
	CX, CY, W, H float32
}

// InvalidBox is the sentinel written over proposals removed by the min-size filter.
var InvalidBox = Box{X1: -1, Y1: -1, X2: -1, Y2: -1}

// GroundTruth is an annotated box with its 0-based foreground class id.
type GroundTruth struct {
	Box   Box
	Class int
}

// Width returns X2-X1.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns Y2-Y1.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the box area, or 0 for degenerate boxes.
func (b Box) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IsInvalid reports whether b is the InvalidBox sentinel.
func (b Box) IsInvalid() bool { return b == InvalidBox }

// Center converts the box to center form.
//
// Returns:
//   - CenterBox: The center form of b. CenterBox.Corner is its exact inverse.
//
// @example
// c := Box{X1: 0, Y1: 0, X2: 10, Y2: 20}.Center() // {CX: 5, CY: 10, W: 10, H: 20}
func (b Box) Center() CenterBox {
	w, h := b.Width(), b.Height()
	return CenterBox{CX: b.X1 + w*0.5, CY: b.Y1 + h*0.5, W: w, H: h}
}

// Corner converts the box to corner form.
func (c CenterBox) Corner() Box {
	return Box{
		X1: c.CX - c.W*0.5,
		Y1: c.CY - c.H*0.5,
		X2: c.CX + c.W*0.5,
		Y2: c.CY + c.H*0.5,
	}
}

// Clip clamps every coordinate into [0, width] x [0, height].
func (b Box) Clip(width, height float32) Box {
	return Box{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

// Inside reports whether the box lies entirely within [0, width] x [0, height].
func (b Box) Inside(width, height float32) bool {
	return b.X1 >= 0 && b.Y1 >= 0 && b.X2 <= width && b.Y2 <= height
}

// Intersection calculates the overlapping area between two boxes.
//
// Arguments:
//   - other: The other box.
//
// Returns:
//   - The intersection area, 0 when the boxes only touch or do not overlap.
func (b Box) Intersection(other Box) float32 {
	iw := min(b.X2, other.X2) - max(b.X1, other.X1)
	ih := min(b.Y2, other.Y2) - max(b.Y1, other.Y1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	return iw * ih
}

// IoU calculates the Intersection over Union between two boxes.
//
// Union(A, B) = Area(A) + Area(B) - Intersection(A, B). A zero union (both
// boxes degenerate) yields 0 rather than NaN.
//
// @example
// a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
// b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
// iou := a.IoU(b) // 25 / 175 = 0.142857
func (b Box) IoU(other Box) float32 {
	inter := b.Intersection(other)
	if inter == 0 {
		return 0
	}
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func (b Box) String() string {
	return fmt.Sprintf("(%.2f, %.2f), (%.2f, %.2f)", b.X1, b.Y1, b.X2, b.Y2)
}

// Boxes extracts the boxes of a ground-truth set.
func Boxes(gts []GroundTruth) []Box {
	out := make([]Box, len(gts))
	for i, gt := range gts {
		out[i] = gt.Box
	}
	return out
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
