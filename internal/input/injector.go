package input

import (
	"context"
	"image"
	"strings"
	"time"
)

// Injector is the OS capability surface for pointer and keyboard events.
// Implementations report OS failures as faults.ErrActuation and missing
// capabilities as faults.ErrUnsupported.
type Injector interface {
	Name() string
	MoveTo(ctx context.Context, p image.Point, path PointerPath) error
	ButtonDown(ctx context.Context, b Button) error
	ButtonUp(ctx context.Context, b Button) error
	KeyDown(ctx context.Context, key string) error
	KeyUp(ctx context.Context, key string) error
}

// Typer is implemented by injectors that can type a character directly
// rather than through its key.
type Typer interface {
	TypeRune(ctx context.Context, r rune) error
}

// Locator is implemented by injectors that can read the cursor position.
type Locator interface {
	Position(ctx context.Context) (image.Point, error)
}

// Clicker is implemented by injectors whose device only knows whole taps at a
// point, such as a touch screen over adb.
type Clicker interface {
	ClickAt(ctx context.Context, p image.Point, b Button, hold time.Duration) error
}

var keyAliases = map[string]string{
	"return":     "enter",
	"escape":     "esc",
	"spacebar":   "space",
	" ":          "space",
	"control":    "ctrl",
	"lctrl":      "ctrl",
	"lshift":     "shift",
	"lalt":       "alt",
	"del":        "delete",
	"bksp":       "backspace",
	"arrowup":    "up",
	"arrowdown":  "down",
	"arrowleft":  "left",
	"arrowright": "right",
}

// KeyName normalizes a key name: lower case with common aliases folded.
func KeyName(key string) string {
	if key == " " {
		return "space"
	}
	k := strings.ToLower(strings.TrimSpace(key))
	if a, ok := keyAliases[k]; ok {
		return a
	}
	return k
}
