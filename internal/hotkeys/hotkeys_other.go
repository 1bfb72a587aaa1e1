//go:build !windows

package hotkeys

import (
	"context"

	"jordanella.com/aimloop/internal/faults"
)

func run(context.Context, *Listener) error {
	return faults.Unsupported("hotkeys", "global keyboard hook needs Windows")
}
