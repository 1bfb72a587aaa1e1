package hotkeys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKey(t *testing.T) {
	tests := map[string]uint32{
		"F8":          0x77,
		"f1":          0x70,
		"F24":         0x87,
		"Pause":       0x13,
		"esc":         0x1B,
		"Q":           'Q',
		"scroll lock": 0x91,
	}
	for name, want := range tests {
		got, err := ParseKey(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseKey("hyper")
	assert.Error(t, err)
}

func TestListenerFiresOncePerPress(t *testing.T) {
	presses := 0
	l, err := New("F8", func() { presses++ })
	require.NoError(t, err)
	assert.Equal(t, "F8", l.Key())

	l.key(0x77, true)
	l.key(0x77, true) // auto-repeat
	l.key(0x41, true)
	assert.Equal(t, 1, presses)

	l.key(0x77, false)
	l.key(0x77, true)
	assert.Equal(t, 2, presses)
}

func TestNewRejectsUnknownKey(t *testing.T) {
	_, err := New("", func() {})
	assert.Error(t, err)
}
