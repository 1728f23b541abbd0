package vision

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ImageInfo describes a decoded upload.
type ImageInfo struct {
	Format string
	Width  int
	Height int
	Bytes  int
}

// ContentHash returns the hex SHA-256 of the image bytes. Byte-identical
// uploads always share a hash regardless of session or filename.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Inspect decodes data, applying EXIF orientation, and reports its shape.
// Any decode failure is reported as ErrUnprocessableInput.
func Inspect(data []byte) (image.Image, ImageInfo, error) {
	if len(data) == 0 {
		return nil, ImageInfo{}, fmt.Errorf("%w: empty image", ErrUnprocessableInput)
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("%w: %v", ErrUnprocessableInput, err)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("%w: %v", ErrUnprocessableInput, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, ImageInfo{}, fmt.Errorf("%w: zero-sized image", ErrUnprocessableInput)
	}
	return img, ImageInfo{Format: format, Width: b.Dx(), Height: b.Dy(), Bytes: len(data)}, nil
}
