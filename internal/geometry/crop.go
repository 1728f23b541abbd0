package geometry

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Crop returns the region of img covered by the normalized box.
// Empty intersections yield a zero-sized image.
func Crop(img image.Image, b BoundingBox) image.Image {
	rect := b.ToRect(img.Bounds())
	if rect.Empty() {
		return imaging.New(0, 0, color.Transparent)
	}
	return imaging.Crop(img, rect)
}
