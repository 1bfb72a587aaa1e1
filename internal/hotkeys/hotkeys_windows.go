//go:build windows

package hotkeys

import (
	"context"
	"fmt"

	"github.com/moutend/go-hook/pkg/keyboard"
	"github.com/moutend/go-hook/pkg/types"
)

func run(ctx context.Context, l *Listener) error {
	eventChan := make(chan types.KeyboardEvent, 100)
	if err := keyboard.Install(nil, eventChan); err != nil {
		return fmt.Errorf("failed to install keyboard hook: %w", err)
	}
	defer keyboard.Uninstall()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-eventChan:
			switch event.Message {
			case types.WM_KEYDOWN:
				l.key(uint32(event.VKCode), true)
			case types.WM_KEYUP:
				l.key(uint32(event.VKCode), false)
			}
		}
	}
}
