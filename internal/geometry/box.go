// Package geometry provides normalized bounding-box math used to relate OCR text
// to detected bottle regions.
package geometry

import (
	"image"
	"math"
)

// BoundingBox is an axis-aligned box normalized to [0,1] relative to image
// dimensions, origin top-left.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewBox constructs a BoundingBox from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) BoundingBox {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Right returns the right edge.
func (b BoundingBox) Right() float64 { return b.X + b.Width }

// Bottom returns the bottom edge.
func (b BoundingBox) Bottom() float64 { return b.Y + b.Height }

// Area returns the box area, zero for degenerate boxes.
func (b BoundingBox) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the box center point.
func (b BoundingBox) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Valid reports whether the box has finite coordinates and a positive area.
// Untrusted input must pass through Clamp before use.
func (b BoundingBox) Valid() bool {
	for _, v := range []float64{b.X, b.Y, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.Width > 0 && b.Height > 0
}

// Clamp returns the box intersected with the unit square.
func (b BoundingBox) Clamp() BoundingBox {
	if !b.Valid() {
		return BoundingBox{}
	}
	x1 := clamp01(b.X)
	y1 := clamp01(b.Y)
	x2 := clamp01(b.Right())
	y2 := clamp01(b.Bottom())
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// IntersectionArea returns the area shared by a and b.
func IntersectionArea(a, b BoundingBox) float64 {
	w := math.Min(a.Right(), b.Right()) - math.Max(a.X, b.X)
	h := math.Min(a.Bottom(), b.Bottom()) - math.Max(a.Y, b.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ContainmentRatio returns the fraction of inner's area that lies within outer.
func ContainmentRatio(inner, outer BoundingBox) float64 {
	area := inner.Area()
	if area == 0 {
		return 0
	}
	return IntersectionArea(inner, outer) / area
}

// OverlapRatio returns the intersection-over-union of a and b.
func OverlapRatio(a, b BoundingBox) float64 {
	inter := IntersectionArea(a, b)
	if inter == 0 {
		return 0
	}
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// CenterDistance returns the euclidean distance between the box centers.
func CenterDistance(a, b BoundingBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}

// ReadingLess orders boxes top-to-bottom, then left-to-right. Boxes whose
// vertical centers are within half the smaller height sit on the same line.
func ReadingLess(a, b BoundingBox) bool {
	_, ay := a.Center()
	_, by := b.Center()
	tol := math.Min(a.Height, b.Height) / 2
	if math.Abs(ay-by) <= tol {
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	}
	return ay < by
}

// ToRect converts a normalized box to a pixel rectangle within bounds.
func (b BoundingBox) ToRect(bounds image.Rectangle) image.Rectangle {
	c := b.Clamp()
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())
	x1 := bounds.Min.X + int(math.Floor(c.X*w))
	y1 := bounds.Min.Y + int(math.Floor(c.Y*h))
	x2 := bounds.Min.X + int(math.Ceil(c.Right()*w))
	y2 := bounds.Min.Y + int(math.Ceil(c.Bottom()*h))
	return image.Rect(x1, y1, x2, y2).Intersect(bounds)
}

// FromPixels normalizes a pixel-space rectangle against image dimensions.
func FromPixels(x1, y1, x2, y2 float64, width, height int) BoundingBox {
	if width <= 0 || height <= 0 {
		return BoundingBox{}
	}
	w := float64(width)
	h := float64(height)
	return NewBox(x1/w, y1/h, x2/w, y2/h).Clamp()
}
