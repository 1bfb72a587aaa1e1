package input

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"jordanella.com/aimloop/internal/adb"
	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
)

// ADBConfig selects the emulator reached through adb.
type ADBConfig struct {
	Path     string `mapstructure:"path"`
	Device   string `mapstructure:"device"`
	TitleBar int    `mapstructure:"title_bar"`
}

// Device is the slice of adb.Controller the injector needs.
type Device interface {
	Tap(ctx context.Context, x, y int) error
	Press(ctx context.Context, x, y int, hold time.Duration) error
	KeyEvent(ctx context.Context, keycode string) error
	Text(ctx context.Context, text string) error
	WindowSize(ctx context.Context) (int, int, error)
}

// ADBInjector sends taps and keys to an emulator. Screen points are mapped
// into the emulator window and then onto the device display.
type ADBInjector struct {
	dev      Device
	window   func() platform.Rect
	titleBar int

	mu      sync.Mutex
	deviceW int
	deviceH int
}

// NewADBInjector creates an injector; window returns the emulator window's
// current screen rectangle.
func NewADBInjector(dev Device, window func() platform.Rect, titleBar int) *ADBInjector {
	return &ADBInjector{dev: dev, window: window, titleBar: titleBar}
}

func (a *ADBInjector) Name() string { return "adb" }

func (a *ADBInjector) translator(ctx context.Context) (Translator, platform.Rect, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deviceW == 0 {
		w, h, err := a.dev.WindowSize(ctx)
		if err != nil {
			return Translator{}, platform.Rect{}, err
		}
		a.deviceW, a.deviceH = w, h
	}
	rect := a.window()
	t := Translator{
		SourceWidth:    rect.Width,
		SourceHeight:   rect.Height - a.titleBar,
		TargetWidth:    a.deviceW,
		TargetHeight:   a.deviceH,
		TitleBarHeight: a.titleBar,
	}
	return t, rect, t.Validate()
}

// ClickAt taps the device at a screen point.
func (a *ADBInjector) ClickAt(ctx context.Context, p image.Point, _ Button, hold time.Duration) error {
	t, rect, err := a.translator(ctx)
	if err != nil {
		return fmt.Errorf("cannot map click: %w", err)
	}
	d := t.Point(p.Sub(image.Pt(rect.X, rect.Y)))
	if hold > 50*time.Millisecond {
		return a.dev.Press(ctx, d.X, d.Y, hold)
	}
	return a.dev.Tap(ctx, d.X, d.Y)
}

func (a *ADBInjector) MoveTo(context.Context, image.Point, PointerPath) error {
	return faults.Unsupported("pointer move", "adb devices have no cursor")
}

func (a *ADBInjector) ButtonDown(context.Context, Button) error {
	return faults.Unsupported("button down", "adb only supports whole taps")
}

func (a *ADBInjector) ButtonUp(context.Context, Button) error { return nil }

// KeyDown sends the whole key event; adb cannot hold keys.
func (a *ADBInjector) KeyDown(ctx context.Context, key string) error {
	return a.dev.KeyEvent(ctx, adb.Keycode(KeyName(key)))
}

func (a *ADBInjector) KeyUp(context.Context, string) error { return nil }

func (a *ADBInjector) TypeRune(ctx context.Context, r rune) error {
	if r == ' ' {
		return a.dev.KeyEvent(ctx, "KEYCODE_SPACE")
	}
	return a.dev.Text(ctx, string(r))
}
