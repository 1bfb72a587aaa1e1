package input

import (
	"fmt"
	"image"
)

// Translator maps window-local pixels to device pixels for a device rendered
// inside a window below a title bar.
type Translator struct {
	SourceWidth    int // window client width
	SourceHeight   int // window client height below the title bar
	TargetWidth    int // device display width
	TargetHeight   int
	TitleBarHeight int
}

// Validate ensures the translator can scale.
func (t Translator) Validate() error {
	switch {
	case t.SourceWidth <= 0 || t.SourceHeight <= 0:
		return fmt.Errorf("invalid source size %dx%d", t.SourceWidth, t.SourceHeight)
	case t.TargetWidth <= 0 || t.TargetHeight <= 0:
		return fmt.Errorf("invalid device size %dx%d", t.TargetWidth, t.TargetHeight)
	case t.TitleBarHeight < 0:
		return fmt.Errorf("invalid title bar height %d", t.TitleBarHeight)
	}
	return nil
}

// Scale returns the X and Y factors from window to device.
func (t Translator) Scale() (float64, float64) {
	sx, sy := 1.0, 1.0
	if t.SourceWidth > 0 && t.TargetWidth > 0 {
		sx = float64(t.TargetWidth) / float64(t.SourceWidth)
	}
	if t.SourceHeight > 0 && t.TargetHeight > 0 {
		sy = float64(t.TargetHeight) / float64(t.SourceHeight)
	}
	return sx, sy
}

// Point translates a window-local point, clamped to the device display.
func (t Translator) Point(p image.Point) image.Point {
	sx, sy := t.Scale()
	x := int(float64(p.X) * sx)
	y := int(float64(p.Y-t.TitleBarHeight) * sy)
	if t.TargetWidth > 0 {
		x = max(0, min(x, t.TargetWidth-1))
	}
	if t.TargetHeight > 0 {
		y = max(0, min(y, t.TargetHeight-1))
	}
	return image.Pt(x, y)
}

func (t Translator) String() string {
	sx, sy := t.Scale()
	return fmt.Sprintf("Translator{Source: %dx%d, Target: %dx%d, TitleBar: %dpx, ScaleX: %.3f, ScaleY: %.3f}",
		t.SourceWidth, t.SourceHeight, t.TargetWidth, t.TargetHeight, t.TitleBarHeight, sx, sy)
}
