// Package input turns abstract intents into OS-level input events.
package input

import (
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	"jordanella.com/aimloop/internal/platform"
)

// Kind selects what an Intent does.
type Kind string

const (
	KindPointerMove   Kind = "pointer_move"
	KindClick         Kind = "click"
	KindKeyTap        Kind = "key_tap"
	KindStickDeflect  Kind = "stick_deflect"
	KindText          Kind = "text"
	KindGamepadButton Kind = "gamepad_button"
)

// Space says how an Intent's coordinates are read. An empty Space means the
// intent carries no position.
type Space string

const (
	SpaceAbsolute   Space = "absolute"   // screen pixels
	SpaceFrame      Space = "frame"      // pixels relative to the target rectangle
	SpaceNormalized Space = "normalized" // 0..1 fractions of the target rectangle
)

// Button is a pointer button.
type Button string

const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Stick is one analog stick of the virtual gamepad.
type Stick string

const (
	StickLeft  Stick = "left"
	StickRight Stick = "right"
)

// PointerPath selects how the cursor is moved.
type PointerPath string

const (
	PathSoft     PointerPath = "soft"     // set the cursor position directly
	PathHardware PointerPath = "hardware" // inject a raw absolute motion event
	PathBoth     PointerPath = "both"
)

// Vec is a pair of floats, used for normalized positions and stick deflection.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Intent is one action for the synthesizer. It is built per cycle or per
// request and consumed once.
type Intent struct {
	Kind  Kind        `json:"kind"`
	Space Space       `json:"space,omitempty"`
	Point image.Point `json:"point,omitempty"`
	Norm  Vec         `json:"norm,omitempty"`
	Path  PointerPath `json:"path,omitempty"`

	Button  Button        `json:"button,omitempty"`
	Key     string        `json:"key,omitempty"`
	Text    string        `json:"text,omitempty"`
	Stick   Stick         `json:"stick,omitempty"`
	Deflect Vec           `json:"deflect,omitempty"`
	Pad     PadButton     `json:"pad,omitempty"`
	Hold    time.Duration `json:"hold,omitempty"`

	// Jitter is the random offset already folded into Point, kept for logging.
	Jitter image.Point `json:"jitter,omitempty"`
}

// Positional reports whether the intent moves the pointer first.
func (in Intent) Positional() bool {
	return in.Space != ""
}

// unit reports whether v lies in [0,1]; NaN does not.
func unit(v float64) bool {
	return v >= 0 && v <= 1
}

// Validate rejects intents that cannot be executed.
func (in Intent) Validate() error {
	switch in.Space {
	case "", SpaceAbsolute, SpaceFrame:
	case SpaceNormalized:
		if !unit(in.Norm.X) || !unit(in.Norm.Y) {
			return fmt.Errorf("normalized position (%.3f, %.3f) outside [0,1]", in.Norm.X, in.Norm.Y)
		}
	default:
		return fmt.Errorf("unknown coordinate space %q", in.Space)
	}
	if in.Hold < 0 {
		return fmt.Errorf("hold must not be negative")
	}

	switch in.Kind {
	case KindPointerMove:
		if !in.Positional() {
			return fmt.Errorf("pointer move needs a position")
		}
	case KindClick:
		switch in.Button {
		case "", ButtonLeft, ButtonRight, ButtonMiddle:
		default:
			return fmt.Errorf("unknown button %q", in.Button)
		}
	case KindKeyTap:
		if strings.TrimSpace(in.Key) == "" {
			return fmt.Errorf("key tap needs a key")
		}
	case KindText:
		if in.Text == "" {
			return fmt.Errorf("no text provided")
		}
	case KindStickDeflect:
		if in.Stick != StickLeft && in.Stick != StickRight {
			return fmt.Errorf("unknown stick %q", in.Stick)
		}
		if !(math.Abs(in.Deflect.X) <= 1) || !(math.Abs(in.Deflect.Y) <= 1) {
			return fmt.Errorf("deflection (%.2f, %.2f) outside [-1,1]", in.Deflect.X, in.Deflect.Y)
		}
	case KindGamepadButton:
		if _, ok := padButtons[in.Pad]; !ok {
			return fmt.Errorf("unknown gamepad button %q", in.Pad)
		}
	default:
		return fmt.Errorf("unknown intent kind %q", in.Kind)
	}
	return nil
}

// Resolve converts the intent's position to absolute screen pixels using the
// tracked rectangle.
func (in Intent) Resolve(rect platform.Rect) (image.Point, error) {
	switch in.Space {
	case SpaceAbsolute:
		return in.Point, nil
	case SpaceFrame:
		return image.Pt(rect.X+in.Point.X, rect.Y+in.Point.Y), nil
	case SpaceNormalized:
		if rect.Empty() {
			return image.Point{}, fmt.Errorf("no target rectangle to resolve a normalized position")
		}
		return image.Pt(
			rect.X+int(in.Norm.X*float64(rect.Width)),
			rect.Y+int(in.Norm.Y*float64(rect.Height)),
		), nil
	}
	return image.Point{}, fmt.Errorf("intent has no position")
}

// Axis converts a -1..1 deflection to the device's signed 16-bit range.
// NaN is centred.
func Axis(v float64) int16 {
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(-1, math.Min(1, v))
	return int16(math.Round(v * math.MaxInt16))
}

func (in Intent) String() string {
	switch in.Kind {
	case KindClick:
		if in.Key != "" {
			return fmt.Sprintf("click %s at %v after %s", in.buttonOr(), in.Point, in.Key)
		}
		return fmt.Sprintf("click %s at %v", in.buttonOr(), in.Point)
	case KindKeyTap:
		return "key " + in.Key
	case KindText:
		return fmt.Sprintf("text (%d chars)", len([]rune(in.Text)))
	case KindStickDeflect:
		return fmt.Sprintf("stick %s (%.2f, %.2f)", in.Stick, in.Deflect.X, in.Deflect.Y)
	case KindGamepadButton:
		return "gamepad " + string(in.Pad)
	}
	return fmt.Sprintf("%s %v", in.Kind, in.Point)
}

func (in Intent) buttonOr() Button {
	if in.Button == "" {
		return ButtonLeft
	}
	return in.Button
}
