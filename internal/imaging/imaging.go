// Package imaging decodes film posters and produces the fixed-height PNG
// thumbnails the catalog stores.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// ThumbnailHeight matches the poster pane of the till UI.
const ThumbnailHeight = 350

// IsImage reports whether data decodes as a supported image format.
func IsImage(data []byte) bool {
	_, _, err := image.Decode(bytes.NewReader(data))
	return err == nil
}

// Thumbnail scales the image down to ThumbnailHeight preserving aspect
// ratio and re-encodes it as PNG. Images already shorter than the target
// are re-encoded without scaling.
func Thumbnail(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	bounds := src.Bounds()
	if bounds.Dy() > ThumbnailHeight {
		width := bounds.Dx() * ThumbnailHeight / bounds.Dy()
		if width < 1 {
			width = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, width, ThumbnailHeight))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
