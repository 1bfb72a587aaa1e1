// Package platform is the minimal window-system surface the loop needs:
// enumerate visible windows, read a window's title and rectangle, read and set
// the foreground window, launch a program and check process elevation.
package platform

import (
	"fmt"
	"image"
	"strings"
)

// Handle is an opaque window identifier owned by the window system.
// Holding one never keeps the window alive.
type Handle uintptr

func (h Handle) String() string {
	return fmt.Sprintf("0x%X", uintptr(h))
}

// Rect is a window rectangle in screen pixels.
type Rect struct {
	X, Y          int
	Width, Height int
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Image converts to an image.Rectangle in screen coordinates.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// Window is a snapshot of one top-level window.
type Window struct {
	Handle  Handle
	Title   string
	PID     int
	Process string
	Rect    Rect
	Visible bool
}

// Backend is implemented once per window system.
//
// Every method may fail; failures that mean "this platform cannot do that" are
// reported with faults.ErrUnsupported, everything else is an ordinary wrapped error.
// Window returns an error matching faults.ErrStaleHandle when the handle no
// longer names a live window.
type Backend interface {
	Name() string
	Windows() ([]Window, error)
	Window(h Handle) (Window, error)
	Foreground() (Window, error)
	Activate(h Handle) error
}

// Titles returns the titles of the given windows, for diagnostics.
func Titles(windows []Window) []string {
	titles := make([]string, 0, len(windows))
	for _, w := range windows {
		if w.Title != "" {
			titles = append(titles, w.Title)
		}
	}
	return titles
}

// IsURL reports whether target looks like a protocol link (steam://, http://,
// minecraft:) rather than a path to an executable.
func IsURL(target string) bool {
	i := strings.Index(target, ":")
	if i <= 1 {
		// "C:\..." has its colon at index 1
		return false
	}
	for _, c := range target[:i] {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}
