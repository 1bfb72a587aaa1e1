package cv

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/kbinani/screenshot"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
)

// FrameSource captures a screen rectangle into an RGBA buffer starting at (0,0).
type FrameSource interface {
	Name() string
	Capture(ctx context.Context, rect platform.Rect) (*image.RGBA, error)
}

// CaptureMethod defines how frames are captured
type CaptureMethod string

const (
	// CaptureMethodScreen reads the desktop through kbinani/screenshot
	CaptureMethodScreen CaptureMethod = "screen"
	// CaptureMethodGDI copies from the desktop DC with BitBlt (Windows)
	CaptureMethodGDI CaptureMethod = "gdi"
	// CaptureMethodADB pulls a screencap from an Android device
	CaptureMethodADB CaptureMethod = "adb"
)

// ParseCaptureMethod validates a configured method name.
func ParseCaptureMethod(s string) (CaptureMethod, error) {
	switch m := CaptureMethod(strings.ToLower(s)); m {
	case CaptureMethodScreen, CaptureMethodGDI, CaptureMethodADB:
		return m, nil
	case "":
		return CaptureMethodScreen, nil
	}
	return "", fmt.Errorf("unknown capture method %q", s)
}

// CheckRegion rejects rectangles with no area before any platform call.
func CheckRegion(rect platform.Rect) error {
	if rect.Empty() {
		return faults.Newf(faults.ErrInvalidRegion, faults.StageCapture, "capture", "rectangle %s has no area", rect)
	}
	return nil
}

// ScreenSource captures through the portable screenshot library.
type ScreenSource struct {
	grab func(image.Rectangle) (*image.RGBA, error)
}

func NewScreenSource() *ScreenSource {
	return &ScreenSource{grab: screenshot.CaptureRect}
}

func (s *ScreenSource) Name() string { return string(CaptureMethodScreen) }

func (s *ScreenSource) Capture(ctx context.Context, rect platform.Rect) (*image.RGBA, error) {
	if err := CheckRegion(rect); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := s.grab(rect.Image())
	if err != nil {
		return nil, faults.New(faults.ErrDetection, faults.StageCapture, "screenshot", err)
	}
	return Normalize(img), nil
}

// DisplayBounds lists the bounds of every active display.
func DisplayBounds() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// DesktopSize returns the union of every display, the coordinate space for
// absolute pointer input.
func DesktopSize() image.Rectangle {
	var all image.Rectangle
	for _, b := range DisplayBounds() {
		all = all.Union(b)
	}
	return all
}
