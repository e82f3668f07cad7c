// Package boxes - axis-aligned bounding box geometry shared across the head.
package boxes

import "github.com/chewxy/math32"

// Box is an axis-aligned rectangle in corner form. Every box in this module
// uses the same (X1, Y1, X2, Y2) convention, with X2/Y2 exclusive in the same
// sense as image.Rectangle.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the area of the box. The result is negative for inverted
// coordinates.
func (b Box) Area() float32 { return b.Width() * b.Height() }

// CenterX returns the x coordinate of the box center.
func (b Box) CenterX() float32 { return (b.X1 + b.X2) / 2 }

// CenterY returns the y coordinate of the box center.
func (b Box) CenterY() float32 { return (b.Y1 + b.Y2) / 2 }

// Offset returns the box translated by (dx, dy).
func (b Box) Offset(dx, dy float32) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// IoU returns the Intersection over Union of b and o, a value between 0 and 1
// measuring how much the two boxes overlap. Non-overlapping boxes score 0.
//
// The intersection corner coordinates are the max of the top-left corners and
// the min of the bottom-right corners; the union follows from
// inclusion-exclusion: Area(b) + Area(o) - intersection.
func (b Box) IoU(o Box) float32 {
	ix1 := math32.Max(b.X1, o.X1)
	iy1 := math32.Max(b.Y1, o.Y1)
	ix2 := math32.Min(b.X2, o.X2)
	iy2 := math32.Min(b.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH

	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// BatchedBox is a Box tagged with the index of the image it belongs to, used
// when boxes from several images are flattened into one sequence. Image must
// lie in [0, batch size).
type BatchedBox struct {
	Image int
	Box
}

// MaxCoord returns the largest coordinate value across all boxes, or 0 for an
// empty slice. It picks the per-class offset that places different classes'
// boxes in disjoint coordinate ranges for a single suppression pass.
func MaxCoord(bs []Box) float32 {
	var m float32
	for i, b := range bs {
		v := math32.Max(math32.Max(b.X1, b.Y1), math32.Max(b.X2, b.Y2))
		if i == 0 || v > m {
			m = v
		}
	}
	return m
}
