package cv

import (
	"context"
	"image"
	"image/draw"

	"github.com/nfnt/resize"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
)

// Screencapper grabs the full device display.
type Screencapper interface {
	Screencap(ctx context.Context) (image.Image, error)
}

// ADBSource captures from an emulator through adb instead of the desktop. The
// device display is scaled into the window's client area below the title bar,
// so frame coordinates stay window coordinates.
type ADBSource struct {
	dev      Screencapper
	titleBar int
}

func NewADBSource(dev Screencapper, titleBar int) *ADBSource {
	return &ADBSource{dev: dev, titleBar: max(titleBar, 0)}
}

func (s *ADBSource) Name() string { return string(CaptureMethodADB) }

func (s *ADBSource) Capture(ctx context.Context, rect platform.Rect) (*image.RGBA, error) {
	if err := CheckRegion(rect); err != nil {
		return nil, err
	}
	img, err := s.dev.Screencap(ctx)
	if err != nil {
		return nil, faults.New(faults.ErrDetection, faults.StageCapture, "screencap", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, rect.Width, rect.Height))
	h := rect.Height - s.titleBar
	if h <= 0 {
		return nil, faults.Newf(faults.ErrInvalidRegion, faults.StageCapture, "screencap",
			"rectangle %s is no taller than the %dpx title bar", rect, s.titleBar)
	}
	scaled := resize.Resize(uint(rect.Width), uint(h), img, resize.Bilinear)
	draw.Draw(frame, image.Rect(0, s.titleBar, rect.Width, rect.Height), scaled, scaled.Bounds().Min, draw.Src)
	return frame, nil
}
