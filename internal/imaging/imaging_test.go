package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 77, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestIsImage(t *testing.T) {
	if !IsImage(encodePNG(t, 4, 4)) {
		t.Fatalf("expected png bytes to decode as image")
	}
	if IsImage([]byte("definitely not pixels")) {
		t.Fatalf("expected junk bytes to be rejected")
	}
}

func TestThumbnailScalesTallImages(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 400, 700))
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if got := img.Bounds().Dy(); got != ThumbnailHeight {
		t.Fatalf("expected height %d, got %d", ThumbnailHeight, got)
	}
	if got := img.Bounds().Dx(); got != 200 {
		t.Fatalf("expected proportional width 200, got %d", got)
	}
}

func TestThumbnailKeepsShortImages(t *testing.T) {
	out, err := Thumbnail(encodePNG(t, 120, 80))
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 80 {
		t.Fatalf("expected untouched dimensions, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
}

func TestThumbnailRejectsJunk(t *testing.T) {
	if _, err := Thumbnail([]byte("junk")); err == nil {
		t.Fatalf("expected decode error")
	}
}
