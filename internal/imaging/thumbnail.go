// Package imaging holds the pure-Go image processing used when mirroring
// carousel images: dimension probing and thumbnail generation.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDimension is the maximum width or height of a thumbnail.
const DefaultMaxDimension = 512

const jpegQuality = 80

// Thumbnail decodes an image and returns a JPEG thumbnail scaled to fit
// within maxDimension, plus the original dimensions. Images already small
// enough are re-encoded without resizing so the output format is uniform.
func Thumbnail(data []byte, maxDimension int) (thumb []byte, width, height int, err error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	width = bounds.Dx()
	height = bounds.Dy()

	out := img
	if width > maxDimension || height > maxDimension {
		newW, newH := fitDimensions(width, height, maxDimension)
		resized := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
		out = resized
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, 0, 0, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), width, height, nil
}

// fitDimensions scales (w, h) down proportionally so the larger side
// equals maxDimension.
func fitDimensions(w, h, maxDimension int) (int, int) {
	if w >= h {
		nh := h * maxDimension / w
		if nh < 1 {
			nh = 1
		}
		return maxDimension, nh
	}
	nw := w * maxDimension / h
	if nw < 1 {
		nw = 1
	}
	return nw, maxDimension
}
