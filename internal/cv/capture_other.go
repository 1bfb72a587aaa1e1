//go:build !windows

package cv

import "jordanella.com/aimloop/internal/faults"

// NewGDISource is only available on Windows.
func NewGDISource() (FrameSource, error) {
	return nil, faults.Unsupported("gdi capture", "GDI capture needs Windows")
}
