//go:build !windows && !linux

package input

import "jordanella.com/aimloop/internal/faults"

// NewNative reports that native injection is not available on this OS.
func NewNative() (Injector, error) {
	return nil, faults.Unsupported("input", "native injection needs Windows or X11; use the serial or adb backend")
}
