package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	cause := errors.New("GetWindowRect failed")
	err := New(ErrStaleHandle, StageTrack, "revalidate", cause)
	wrapped := fmt.Errorf("cycle: %w", err)

	assert.ErrorIs(t, wrapped, ErrStaleHandle)
	assert.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrActuation)
	assert.Equal(t, "revalidate: stale handle: GetWindowRect failed", err.Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{New(ErrInvalidRegion, StageCapture, "capture", nil), ErrInvalidRegion},
		{fmt.Errorf("x: %w", Unsupported("stick", "no driver")), ErrUnsupported},
		{errors.New("plain"), nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err))
	}
}

func TestStageOf(t *testing.T) {
	err := fmt.Errorf("wrap: %w", New(ErrDetection, StageDetect, "template", nil))
	assert.Equal(t, StageDetect, StageOf(err, StageAct))
	assert.Equal(t, StageAct, StageOf(errors.New("x"), StageAct))
}

func TestUnsupportedIsDistinctFromFailure(t *testing.T) {
	failed := New(ErrActuation, StageAct, "SendInput", errors.New("access denied"))
	assert.False(t, IsUnsupported(failed))
	assert.True(t, IsUnsupported(Unsupported("gamepad", "ViGEmClient.dll not found")))
}
