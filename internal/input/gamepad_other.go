//go:build !windows

package input

import "jordanella.com/aimloop/internal/faults"

// OpenGamepad reports that no virtual controller driver exists on this OS.
func OpenGamepad() (Gamepad, error) {
	return nil, faults.Unsupported("gamepad", "virtual gamepad requires ViGEmBus on Windows")
}
