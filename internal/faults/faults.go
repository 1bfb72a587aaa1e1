// Package faults defines the error kinds shared by every stage of the loop.
//
// Each stage wraps its low-level cause in an *Error carrying the kind, so callers
// can branch with errors.Is(err, faults.ErrStaleHandle) without caring which
// backend produced it.
package faults

import (
	"errors"
	"fmt"
)

// Kind sentinels. An *Error matches its kind through errors.Is.
var (
	ErrTargetNotFound = errors.New("target not found")
	ErrStaleHandle    = errors.New("stale handle")
	ErrInvalidRegion  = errors.New("invalid region")
	ErrDetection      = errors.New("detection error")
	ErrActuation      = errors.New("actuation error")
	ErrUnsupported    = errors.New("unsupported capability")
)

// Stage names the part of the cycle an error came from.
type Stage string

const (
	StageTrack   Stage = "track"
	StageCapture Stage = "capture"
	StageDetect  Stage = "detect"
	StageDecide  Stage = "decide"
	StageAct     Stage = "act"
	StageControl Stage = "control"
)

// Error is a classified failure.
type Error struct {
	Kind  error
	Stage Stage
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New builds a classified error. cause may be nil.
func New(kind error, stage Stage, op string, cause error) *Error {
	return &Error{Kind: kind, Stage: stage, Op: op, Err: cause}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind error, stage Stage, op, format string, args ...any) *Error {
	return New(kind, stage, op, fmt.Errorf(format, args...))
}

// Unsupported reports a capability the current platform or backend lacks.
func Unsupported(op, detail string) *Error {
	return New(ErrUnsupported, "", op, errors.New(detail))
}

// KindOf returns the sentinel the error matches, or nil for unclassified errors.
func KindOf(err error) error {
	for _, k := range []error{ErrTargetNotFound, ErrStaleHandle, ErrInvalidRegion, ErrDetection, ErrActuation, ErrUnsupported} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// StageOf returns the stage recorded on the outermost *Error, or fallback.
func StageOf(err error, fallback Stage) Stage {
	var fe *Error
	if errors.As(err, &fe) && fe.Stage != "" {
		return fe.Stage
	}
	return fallback
}

// IsUnsupported reports whether err means the capability is absent rather than failed.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
