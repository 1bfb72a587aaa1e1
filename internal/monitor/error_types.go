package monitor

import "time"

// ErrorType is the category of a cycle failure.
type ErrorType int

const (
	ErrorTargetNotFound ErrorType = iota // no window matched the target id
	ErrorStaleHandle                     // tracked window went away
	ErrorInvalidRegion                   // window has no capturable area (minimized)
	ErrorDetection                       // capture or perception failed
	ErrorActuation                       // OS refused injected input
	ErrorUnsupported                     // capability missing on this platform
	ErrorStuck                           // no cycle completed for too long
	ErrorUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTargetNotFound:
		return "target_not_found"
	case ErrorStaleHandle:
		return "stale_handle"
	case ErrorInvalidRegion:
		return "invalid_region"
	case ErrorDetection:
		return "detection"
	case ErrorActuation:
		return "actuation"
	case ErrorUnsupported:
		return "unsupported"
	case ErrorStuck:
		return "stuck"
	}
	return "unknown"
}

// ErrorSeverity determines how loudly an error is reported.
type ErrorSeverity int

const (
	SeverityCritical ErrorSeverity = iota
	SeverityHigh
	SeverityMedium
	SeverityLow
)

func (s ErrorSeverity) String() string {
	return [...]string{"critical", "high", "medium", "low"}[s]
}

// ErrorAction tells the worker what to do after a failed cycle.
type ErrorAction int

const (
	ActionRetry     ErrorAction = iota // sleep the error interval and run the next cycle
	ActionPause                        // target not actionable right now; wait longer
	ActionReconnect                    // drop the handle and resolve the target again
	ActionStop                         // stop the loop
)

func (a ErrorAction) String() string {
	return [...]string{"retry", "pause", "reconnect", "stop"}[a]
}

// ErrorEvent describes one classified failure.
type ErrorEvent struct {
	Type       ErrorType
	Severity   ErrorSeverity
	Stage      string
	Err        error
	Context    map[string]interface{}
	DetectedAt time.Time
	Message    string
}

// ErrorResponse is the recovery decision for an event.
type ErrorResponse struct {
	Handled bool
	Action  ErrorAction
	Message string
}
