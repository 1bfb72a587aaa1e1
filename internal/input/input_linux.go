//go:build linux

package input

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgb/xtest"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/keybind"

	"jordanella.com/aimloop/internal/platform"
)

// X keysym names for the normalized key names that differ.
var keysyms = map[string]string{
	"enter":     "Return",
	"esc":       "Escape",
	"space":     "space",
	"tab":       "Tab",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"shift":     "Shift_L",
	"ctrl":      "Control_L",
	"alt":       "Alt_L",
	"left":      "Left",
	"right":     "Right",
	"up":        "Up",
	"down":      "Down",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Prior",
	"pagedown":  "Next",
}

type xtestInjector struct {
	xu   *xgbutil.XUtil
	once sync.Once
}

// NewNative returns the XTest injector on the shared X connection.
func NewNative() (Injector, error) {
	xu, err := platform.X()
	if err != nil {
		return nil, err
	}
	if err := xtest.Init(xu.Conn()); err != nil {
		return nil, fmt.Errorf("XTEST extension unavailable: %w", err)
	}
	return &xtestInjector{xu: xu}, nil
}

func (x *xtestInjector) Name() string { return "xtest" }

func (x *xtestInjector) fake(kind byte, detail byte, p image.Point) error {
	return xtest.FakeInputChecked(x.xu.Conn(), kind, detail, 0, x.xu.RootWin(),
		int16(p.X), int16(p.Y), 0).Check()
}

func (x *xtestInjector) MoveTo(_ context.Context, p image.Point, path PointerPath) error {
	if path == PathSoft || path == PathBoth {
		err := xproto.WarpPointerChecked(x.xu.Conn(), xproto.WindowNone, x.xu.RootWin(),
			0, 0, 0, 0, int16(p.X), int16(p.Y)).Check()
		if err != nil {
			return fmt.Errorf("WarpPointer: %w", err)
		}
	}
	if path == PathHardware || path == PathBoth {
		if err := x.fake(xproto.MotionNotify, 0, p); err != nil {
			return fmt.Errorf("XTest motion: %w", err)
		}
	}
	return nil
}

func buttonDetail(b Button) byte {
	switch b {
	case ButtonMiddle:
		return 2
	case ButtonRight:
		return 3
	}
	return 1
}

func (x *xtestInjector) ButtonDown(_ context.Context, b Button) error {
	return x.fake(xproto.ButtonPress, buttonDetail(b), image.Point{})
}

func (x *xtestInjector) ButtonUp(_ context.Context, b Button) error {
	return x.fake(xproto.ButtonRelease, buttonDetail(b), image.Point{})
}

func (x *xtestInjector) keycode(key string) (xproto.Keycode, error) {
	x.once.Do(func() { keybind.Initialize(x.xu) })
	sym := key
	if s, ok := keysyms[key]; ok {
		sym = s
	}
	codes := keybind.StrToKeycodes(x.xu, sym)
	if len(codes) == 0 {
		return 0, fmt.Errorf("no keycode for key %q", key)
	}
	return codes[0], nil
}

func (x *xtestInjector) KeyDown(_ context.Context, key string) error {
	code, err := x.keycode(key)
	if err != nil {
		return err
	}
	return x.fake(xproto.KeyPress, byte(code), image.Point{})
}

func (x *xtestInjector) KeyUp(_ context.Context, key string) error {
	code, err := x.keycode(key)
	if err != nil {
		return err
	}
	return x.fake(xproto.KeyRelease, byte(code), image.Point{})
}

func (x *xtestInjector) Position(context.Context) (image.Point, error) {
	reply, err := xproto.QueryPointer(x.xu.Conn(), x.xu.RootWin()).Reply()
	if err != nil {
		return image.Point{}, fmt.Errorf("QueryPointer: %w", err)
	}
	return image.Pt(int(reply.RootX), int(reply.RootY)), nil
}
