package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnailResizesLargeImage(t *testing.T) {
	data := encodePNG(t, 1080, 1350)

	thumb, w, h, err := Thumbnail(data, 512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 1080 || h != 1350 {
		t.Errorf("original dimensions wrong: %dx%d", w, h)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	b := decoded.Bounds()
	if b.Dy() != 512 {
		t.Errorf("expected height 512, got %d", b.Dy())
	}
	if b.Dx() >= 512 {
		t.Errorf("width should shrink proportionally, got %d", b.Dx())
	}
}

func TestThumbnailKeepsSmallImage(t *testing.T) {
	data := encodePNG(t, 100, 80)

	thumb, w, h, err := Thumbnail(data, 512)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 100 || h != 80 {
		t.Errorf("original dimensions wrong: %dx%d", w, h)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("thumbnail is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 100 || decoded.Bounds().Dy() != 80 {
		t.Errorf("small image should keep its size, got %v", decoded.Bounds())
	}
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	if _, _, _, err := Thumbnail([]byte("not an image"), 512); err == nil {
		t.Fatal("expected error for undecodable input")
	}
}

func TestFitDimensions(t *testing.T) {
	cases := []struct {
		w, h, max        int
		expectW, expectH int
	}{
		{1080, 1350, 512, 409, 512},
		{1350, 1080, 512, 512, 409},
		{2000, 2000, 512, 512, 512},
		{10000, 10, 512, 512, 1},
	}
	for _, c := range cases {
		w, h := fitDimensions(c.w, c.h, c.max)
		if w != c.expectW || h != c.expectH {
			t.Errorf("fitDimensions(%d, %d, %d) = %dx%d, want %dx%d", c.w, c.h, c.max, w, h, c.expectW, c.expectH)
		}
	}
}
