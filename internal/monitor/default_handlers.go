package monitor

import (
	"errors"
	"time"

	"jordanella.com/aimloop/internal/faults"
)

// Handler decides how to recover from one type of error.
type Handler func(event *ErrorEvent) ErrorResponse

// Classify maps an error to its type and severity.
func Classify(err error, stage faults.Stage) *ErrorEvent {
	ev := &ErrorEvent{
		Type:       ErrorUnknown,
		Severity:   SeverityMedium,
		Stage:      string(faults.StageOf(err, stage)),
		Err:        err,
		DetectedAt: time.Now(),
	}
	if err != nil {
		ev.Message = err.Error()
	}

	switch {
	case errors.Is(err, faults.ErrUnsupported):
		ev.Type, ev.Severity = ErrorUnsupported, SeverityHigh
	case errors.Is(err, faults.ErrStaleHandle):
		ev.Type, ev.Severity = ErrorStaleHandle, SeverityMedium
	case errors.Is(err, faults.ErrTargetNotFound):
		ev.Type, ev.Severity = ErrorTargetNotFound, SeverityLow
	case errors.Is(err, faults.ErrInvalidRegion):
		ev.Type, ev.Severity = ErrorInvalidRegion, SeverityLow
	case errors.Is(err, faults.ErrActuation):
		ev.Type, ev.Severity = ErrorActuation, SeverityMedium
	case errors.Is(err, faults.ErrDetection):
		ev.Type, ev.Severity = ErrorDetection, SeverityLow
	}
	return ev
}

// HandleStaleHandle drops the handle so the next cycle re-resolves it.
func HandleStaleHandle(event *ErrorEvent) ErrorResponse {
	return ErrorResponse{
		Handled: true,
		Action:  ActionReconnect,
		Message: "Tracked window is gone, resolving the target again",
	}
}

// HandleTargetNotFound keeps waiting for the window to appear.
func HandleTargetNotFound(event *ErrorEvent) ErrorResponse {
	return ErrorResponse{
		Handled: true,
		Action:  ActionPause,
		Message: "No window matches the target yet",
	}
}

// HandleInvalidRegion waits out a minimized or zero-size window.
func HandleInvalidRegion(event *ErrorEvent) ErrorResponse {
	return ErrorResponse{
		Handled: true,
		Action:  ActionPause,
		Message: "Target window has no visible area",
	}
}

// HandleUnsupported keeps the loop alive; the capability will not appear by
// retrying, so the message says what to change.
func HandleUnsupported(event *ErrorEvent) ErrorResponse {
	return ErrorResponse{
		Handled: false,
		Action:  ActionPause,
		Message: "Capability unavailable on this platform, check the input and capture backends",
	}
}

// HandleTransient covers detection and actuation failures.
func HandleTransient(event *ErrorEvent) ErrorResponse {
	return ErrorResponse{
		Handled: true,
		Action:  ActionRetry,
		Message: "Skipping cycle",
	}
}

// HandleStuck asks the worker to drop the handle after a stall.
func HandleStuck(event *ErrorEvent) ErrorResponse {
	return ErrorResponse{
		Handled: true,
		Action:  ActionReconnect,
		Message: "Loop stalled, reconnecting to the target",
	}
}

// DefaultHandlers returns the built-in recovery table.
func DefaultHandlers() map[ErrorType]Handler {
	return map[ErrorType]Handler{
		ErrorStaleHandle:    HandleStaleHandle,
		ErrorTargetNotFound: HandleTargetNotFound,
		ErrorInvalidRegion:  HandleInvalidRegion,
		ErrorUnsupported:    HandleUnsupported,
		ErrorDetection:      HandleTransient,
		ErrorActuation:      HandleTransient,
		ErrorStuck:          HandleStuck,
		ErrorUnknown:        HandleTransient,
	}
}

// Recovery resolves errors through a handler table.
type Recovery struct {
	handlers map[ErrorType]Handler
}

func NewRecovery() *Recovery {
	return &Recovery{handlers: DefaultHandlers()}
}

// Register replaces the handler for one error type.
func (r *Recovery) Register(t ErrorType, h Handler) {
	r.handlers[t] = h
}

// Respond classifies err and returns the recovery decision.
func (r *Recovery) Respond(err error, stage faults.Stage) (*ErrorEvent, ErrorResponse) {
	ev := Classify(err, stage)
	h, ok := r.handlers[ev.Type]
	if !ok {
		h = HandleTransient
	}
	return ev, h(ev)
}
