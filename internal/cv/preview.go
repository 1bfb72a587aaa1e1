package cv

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/nfnt/resize"
)

// Preview is a small JPEG rendition of a frame for status surfaces.
type Preview struct {
	Image  string `json:"image"` // base64 JPEG
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// EncodePreview shrinks frame to fit maxW x maxH, keeping aspect, and encodes it.
func EncodePreview(frame image.Image, maxW, maxH uint, quality int) (Preview, error) {
	if frame == nil || frame.Bounds().Empty() {
		return Preview{}, fmt.Errorf("empty frame")
	}
	thumb := resize.Thumbnail(maxW, maxH, frame, resize.Bilinear)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: quality}); err != nil {
		return Preview{}, fmt.Errorf("failed to encode preview: %w", err)
	}
	b := thumb.Bounds()
	return Preview{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
