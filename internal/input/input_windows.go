//go:build windows

package input

import (
	"context"
	"fmt"
	"image"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procSendInput        = user32.NewProc("SendInput")
	procSetCursorPos     = user32.NewProc("SetCursorPos")
	procGetCursorPos     = user32.NewProc("GetCursorPos")
	procGetSystemMetrics = user32.NewProc("GetSystemMetrics")
	procMapVirtualKey    = user32.NewProc("MapVirtualKeyW")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	mouseeventfMove       = 0x0001
	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfAbsolute   = 0x8000

	keyeventfKeyUp   = 0x0002
	keyeventfUnicode = 0x0004

	smCxScreen = 0
	smCyScreen = 1
)

type mouseInput struct {
	Dx, Dy    int32
	MouseData uint32
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
}

type keybdInput struct {
	Vk        uint16
	Scan      uint16
	Flags     uint32
	Time      uint32
	ExtraInfo uintptr
	_         [8]byte // pad to sizeof(MOUSEINPUT)
}

type mouseINPUT struct {
	Type uint32
	Mi   mouseInput
}

type keybdINPUT struct {
	Type uint32
	Ki   keybdInput
}

var virtualKeys = map[string]uint16{
	"backspace": 0x08, "tab": 0x09, "enter": 0x0D, "shift": 0x10, "ctrl": 0x11,
	"alt": 0x12, "pause": 0x13, "capslock": 0x14, "esc": 0x1B, "space": 0x20,
	"pageup": 0x21, "pagedown": 0x22, "end": 0x23, "home": 0x24,
	"left": 0x25, "up": 0x26, "right": 0x27, "down": 0x28,
	"insert": 0x2D, "delete": 0x2E,
}

func virtualKey(key string) (uint16, error) {
	if vk, ok := virtualKeys[key]; ok {
		return vk, nil
	}
	if len(key) == 1 {
		c := key[0]
		switch {
		case c >= 'a' && c <= 'z':
			return uint16(c - 'a' + 'A'), nil
		case c >= '0' && c <= '9':
			return uint16(c), nil
		}
	}
	var n int
	if _, err := fmt.Sscanf(key, "f%d", &n); err == nil && n >= 1 && n <= 24 {
		return uint16(0x70 + n - 1), nil
	}
	return 0, fmt.Errorf("unknown key %q", key)
}

type sendInputInjector struct{}

// NewNative returns the SendInput injector.
func NewNative() (Injector, error) {
	return sendInputInjector{}, nil
}

func (sendInputInjector) Name() string { return "sendinput" }

func sendMouse(dx, dy int32, flags uint32) error {
	in := mouseINPUT{Type: inputMouse, Mi: mouseInput{Dx: dx, Dy: dy, Flags: flags}}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n != 1 {
		return fmt.Errorf("SendInput: %w", err)
	}
	return nil
}

func sendKey(vk, scan uint16, flags uint32) error {
	in := keybdINPUT{Type: inputKeyboard, Ki: keybdInput{Vk: vk, Scan: scan, Flags: flags}}
	n, _, err := procSendInput.Call(1, uintptr(unsafe.Pointer(&in)), unsafe.Sizeof(in))
	if n != 1 {
		return fmt.Errorf("SendInput: %w", err)
	}
	return nil
}

func (sendInputInjector) MoveTo(_ context.Context, p image.Point, path PointerPath) error {
	if path == PathSoft || path == PathBoth {
		if ok, _, err := procSetCursorPos.Call(uintptr(p.X), uintptr(p.Y)); ok == 0 {
			return fmt.Errorf("SetCursorPos: %w", err)
		}
	}
	if path == PathHardware || path == PathBoth {
		sw, _, _ := procGetSystemMetrics.Call(smCxScreen)
		sh, _, _ := procGetSystemMetrics.Call(smCyScreen)
		if sw == 0 || sh == 0 {
			return fmt.Errorf("GetSystemMetrics returned no screen size")
		}
		nx := int32(int64(p.X) * 65535 / int64(sw))
		ny := int32(int64(p.Y) * 65535 / int64(sh))
		return sendMouse(nx, ny, mouseeventfMove|mouseeventfAbsolute)
	}
	return nil
}

func buttonFlags(b Button) (down, up uint32) {
	switch b {
	case ButtonRight:
		return mouseeventfRightDown, mouseeventfRightUp
	case ButtonMiddle:
		return mouseeventfMiddleDown, mouseeventfMiddleUp
	}
	return mouseeventfLeftDown, mouseeventfLeftUp
}

func (sendInputInjector) ButtonDown(_ context.Context, b Button) error {
	down, _ := buttonFlags(b)
	return sendMouse(0, 0, down)
}

func (sendInputInjector) ButtonUp(_ context.Context, b Button) error {
	_, up := buttonFlags(b)
	return sendMouse(0, 0, up)
}

func scanCode(vk uint16) uint16 {
	sc, _, _ := procMapVirtualKey.Call(uintptr(vk), 0) // MAPVK_VK_TO_VSC
	return uint16(sc)
}

func (sendInputInjector) KeyDown(_ context.Context, key string) error {
	vk, err := virtualKey(key)
	if err != nil {
		return err
	}
	return sendKey(vk, scanCode(vk), 0)
}

func (sendInputInjector) KeyUp(_ context.Context, key string) error {
	vk, err := virtualKey(key)
	if err != nil {
		return err
	}
	return sendKey(vk, scanCode(vk), keyeventfKeyUp)
}

// TypeRune types any character as a unicode key event.
func (sendInputInjector) TypeRune(_ context.Context, r rune) error {
	for _, unit := range utf16.Encode([]rune{r}) {
		if err := sendKey(0, unit, keyeventfUnicode); err != nil {
			return err
		}
		if err := sendKey(0, unit, keyeventfUnicode|keyeventfKeyUp); err != nil {
			return err
		}
	}
	return nil
}

func (sendInputInjector) Position(context.Context) (image.Point, error) {
	var pt struct{ X, Y int32 }
	if ok, _, err := procGetCursorPos.Call(uintptr(unsafe.Pointer(&pt))); ok == 0 {
		return image.Point{}, fmt.Errorf("GetCursorPos: %w", err)
	}
	return image.Pt(int(pt.X), int(pt.Y)), nil
}
