// Package photo decodes uploaded images and cuts person crops out of them.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/png"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var (
	// ErrDegenerateBox means a box has no area left after clamping to the image.
	ErrDegenerateBox = errors.New("degenerate crop box")
	ErrEmptyImage    = errors.New("empty image")
	ErrDecode        = errors.New("failed to decode image")
)

// Decode decodes JPEG, PNG, GIF, BMP, TIFF and WebP data and applies the
// EXIF orientation so boxes line up with what the detector saw.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, ErrEmptyImage
	}
	return img, nil
}

// CropRect converts a normalized center/size box into pixel corners inside
// bounds. Corners are rounded to the nearest pixel and clamped; a box with
// nothing left is rejected with ErrDegenerateBox.
func CropRect(bounds image.Rectangle, cx, cy, w, h float64) (image.Rectangle, error) {
	imgW, imgH := float64(bounds.Dx()), float64(bounds.Dy())

	absCX, absCY := cx*imgW, cy*imgH
	absW, absH := w*imgW, h*imgH

	x1 := max(0, math.Round(absCX-absW/2))
	y1 := max(0, math.Round(absCY-absH/2))
	x2 := min(imgW, math.Round(absCX+absW/2))
	y2 := min(imgH, math.Round(absCY+absH/2))

	if math.IsNaN(x1+y1+x2+y2) || x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}, fmt.Errorf("%w: (%.0f,%.0f)-(%.0f,%.0f)", ErrDegenerateBox, x1, y1, x2, y2)
	}

	return image.Rect(int(x1), int(y1), int(x2), int(y2)).Add(bounds.Min), nil
}

// Crop returns the rect region of img as a new image.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	return imaging.Crop(img, rect)
}

// CropBox combines CropRect and Crop.
func CropBox(img image.Image, cx, cy, w, h float64) (image.Image, error) {
	rect, err := CropRect(img.Bounds(), cx, cy, w, h)
	if err != nil {
		return nil, err
	}
	return Crop(img, rect), nil
}

// Fit downsizes img so its longer side is at most maxSize, keeping the
// aspect ratio. Smaller images are returned unchanged.
func Fit(img image.Image, maxSize int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxSize <= 0 || (width <= maxSize && height <= maxSize) {
		return img
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// EncodeJPEG encodes img for transport to the model servers.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
