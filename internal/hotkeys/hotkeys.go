// Package hotkeys watches the keyboard globally for the emergency stop key.
package hotkeys

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/logging"
)

// Windows virtual-key codes for the keys that make sense as a stop key.
var keyCodes = map[string]uint32{
	"ESC":         0x1B,
	"ESCAPE":      0x1B,
	"PAUSE":       0x13,
	"SCROLL":      0x91,
	"SCROLLLOCK":  0x91,
	"CAPSLOCK":    0x14,
	"INSERT":      0x2D,
	"DELETE":      0x2E,
	"HOME":        0x24,
	"END":         0x23,
	"PAGEUP":      0x21,
	"PAGEDOWN":    0x22,
	"BACKSPACE":   0x08,
	"NUMLOCK":     0x90,
	"PRINTSCREEN": 0x2C,
}

func init() {
	for i := 1; i <= 24; i++ {
		keyCodes[fmt.Sprintf("F%d", i)] = 0x70 + uint32(i-1)
	}
	for c := 'A'; c <= 'Z'; c++ {
		keyCodes[string(c)] = uint32(c)
	}
	for c := '0'; c <= '9'; c++ {
		keyCodes[string(c)] = uint32(c)
	}
}

// ParseKey returns the virtual-key code for a key name such as "F8" or "Pause".
func ParseKey(name string) (uint32, error) {
	k := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
	code, ok := keyCodes[k]
	if !ok {
		return 0, fmt.Errorf("unknown hotkey %q", name)
	}
	return code, nil
}

// Listener calls onPress once each time its key goes down. Auto-repeat while
// the key is held does not fire again.
type Listener struct {
	name    string
	code    uint32
	onPress func()
	log     *logging.Logger

	mu   sync.Mutex
	down bool
}

// New creates a listener for key.
func New(key string, onPress func()) (*Listener, error) {
	code, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	return &Listener{
		name:    strings.ToUpper(strings.TrimSpace(key)),
		code:    code,
		onPress: onPress,
		log:     logging.NewLogger("hotkeys"),
	}, nil
}

// Key returns the configured key name.
func (l *Listener) Key() string {
	return l.name
}

// Run installs the global hook and blocks until ctx is done. Platforms
// without a keyboard hook return faults.ErrUnsupported immediately.
func (l *Listener) Run(ctx context.Context) error {
	l.log.InfoWithContext("Installing stop hotkey", map[string]interface{}{"key": l.name})
	err := run(ctx, l)
	if faults.IsUnsupported(err) {
		l.log.WarnWithContext("Global hotkeys are not available on this platform", map[string]interface{}{"key": l.name})
	}
	return err
}

// key feeds one keyboard event through the press filter.
func (l *Listener) key(code uint32, down bool) {
	if code != l.code {
		return
	}
	l.mu.Lock()
	fire := down && !l.down
	l.down = down
	l.mu.Unlock()

	if fire {
		l.log.InfoWithContext("Stop hotkey pressed", map[string]interface{}{"key": l.name})
		l.onPress()
	}
}
