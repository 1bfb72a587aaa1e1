package logging

import (
	"errors"
	"sync"
	"time"

	"jordanella.com/aimloop/internal/faults"
)

// ErrorCategory is the loop stage an error came from
type ErrorCategory string

const (
	ErrorCategoryTrack   ErrorCategory = ErrorCategory(faults.StageTrack)
	ErrorCategoryCapture ErrorCategory = ErrorCategory(faults.StageCapture)
	ErrorCategoryDetect  ErrorCategory = ErrorCategory(faults.StageDetect)
	ErrorCategoryDecide  ErrorCategory = ErrorCategory(faults.StageDecide)
	ErrorCategoryAct     ErrorCategory = ErrorCategory(faults.StageAct)
	ErrorCategoryControl ErrorCategory = ErrorCategory(faults.StageControl)
	ErrorCategorySystem  ErrorCategory = "system"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorReport represents a detailed error report
type ErrorReport struct {
	Timestamp   time.Time              `json:"timestamp"`
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Message     string                 `json:"message"`
	Error       error                  `json:"-"`
	Kind        string                 `json:"kind,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// ErrorCallback is called on the reporting goroutine and must not block
type ErrorCallback func(report *ErrorReport)

// ErrorReporter keeps a bounded history of loop errors
type ErrorReporter struct {
	logger         *Logger
	errorHistory   []*ErrorReport
	errorHistoryMu sync.RWMutex
	maxHistory     int

	callbacks   map[ErrorSeverity][]ErrorCallback
	callbacksMu sync.RWMutex
}

// NewErrorReporter creates a new error reporter
func NewErrorReporter() *ErrorReporter {
	return &ErrorReporter{
		logger:     NewLogger("ErrorReporter"),
		maxHistory: 1000,
		callbacks:  make(map[ErrorSeverity][]ErrorCallback),
	}
}

// SetLogger sets the logger for the error reporter
func (er *ErrorReporter) SetLogger(logger *Logger) {
	er.logger = logger
}

// Report records an error
func (er *ErrorReporter) Report(report *ErrorReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	if report.Kind == "" && report.Error != nil {
		if k := faults.KindOf(report.Error); k != nil {
			report.Kind = k.Error()
		}
	}

	er.logError(report)
	er.addToHistory(report)
	er.invokeCallbacks(report)
}

// ReportCycleError classifies err by stage and kind and records it as recoverable.
func (er *ErrorReporter) ReportCycleError(component string, err error, context map[string]interface{}) *ErrorReport {
	report := &ErrorReport{
		Category:    ErrorCategory(faults.StageOf(err, faults.Stage(ErrorCategorySystem))),
		Severity:    SeverityFor(err),
		Component:   component,
		Message:     "cycle failed",
		Error:       err,
		Context:     context,
		Recoverable: true,
	}
	er.Report(report)
	return report
}

// SeverityFor maps a fault kind to a severity.
func SeverityFor(err error) ErrorSeverity {
	switch {
	case errors.Is(err, faults.ErrUnsupported):
		return ErrorSeverityHigh
	case errors.Is(err, faults.ErrActuation), errors.Is(err, faults.ErrStaleHandle):
		return ErrorSeverityMedium
	default:
		return ErrorSeverityLow
	}
}

func (er *ErrorReporter) logError(report *ErrorReport) {
	context := map[string]interface{}{
		"category":    string(report.Category),
		"severity":    string(report.Severity),
		"component":   report.Component,
		"recoverable": report.Recoverable,
	}
	if report.Kind != "" {
		context["kind"] = report.Kind
	}
	for k, v := range report.Context {
		context[k] = v
	}

	switch report.Severity {
	case ErrorSeverityCritical, ErrorSeverityHigh:
		er.logger.ErrorWithContext(report.Message, report.Error, context)
	case ErrorSeverityMedium:
		context["error"] = errorText(report.Error)
		er.logger.WarnWithContext(report.Message, context)
	default:
		context["error"] = errorText(report.Error)
		er.logger.DebugWithContext(report.Message, context)
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (er *ErrorReporter) addToHistory(report *ErrorReport) {
	er.errorHistoryMu.Lock()
	defer er.errorHistoryMu.Unlock()

	er.errorHistory = append(er.errorHistory, report)
	if len(er.errorHistory) > er.maxHistory {
		er.errorHistory = er.errorHistory[len(er.errorHistory)-er.maxHistory:]
	}
}

func (er *ErrorReporter) invokeCallbacks(report *ErrorReport) {
	er.callbacksMu.RLock()
	callbacks := er.callbacks[report.Severity]
	er.callbacksMu.RUnlock()

	for _, callback := range callbacks {
		callback(report)
	}
}

// OnError registers a callback for a specific error severity
func (er *ErrorReporter) OnError(severity ErrorSeverity, callback ErrorCallback) {
	er.callbacksMu.Lock()
	defer er.callbacksMu.Unlock()

	er.callbacks[severity] = append(er.callbacks[severity], callback)
}

// GetRecentErrors returns the N most recent errors, oldest first
func (er *ErrorReporter) GetRecentErrors(n int) []*ErrorReport {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	if n > len(er.errorHistory) {
		n = len(er.errorHistory)
	}
	result := make([]*ErrorReport, n)
	copy(result, er.errorHistory[len(er.errorHistory)-n:])
	return result
}

// Last returns the most recent error, or nil.
func (er *ErrorReporter) Last() *ErrorReport {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()
	if len(er.errorHistory) == 0 {
		return nil
	}
	return er.errorHistory[len(er.errorHistory)-1]
}

// GetErrorsByCategory returns errors filtered by category, newest first
func (er *ErrorReporter) GetErrorsByCategory(category ErrorCategory, limit int) []*ErrorReport {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	result := make([]*ErrorReport, 0)
	for i := len(er.errorHistory) - 1; i >= 0 && len(result) < limit; i-- {
		if er.errorHistory[i].Category == category {
			result = append(result, er.errorHistory[i])
		}
	}
	return result
}

// GetErrorStats counts errors by severity, category and recoverability
func (er *ErrorReporter) GetErrorStats() map[string]int {
	er.errorHistoryMu.RLock()
	defer er.errorHistoryMu.RUnlock()

	stats := map[string]int{
		"total":           len(er.errorHistory),
		"recoverable":     0,
		"non_recoverable": 0,
	}
	for _, report := range er.errorHistory {
		stats["severity_"+string(report.Severity)]++
		stats["category_"+string(report.Category)]++
		if report.Recoverable {
			stats["recoverable"]++
		} else {
			stats["non_recoverable"]++
		}
	}
	return stats
}

// Clear clears the error history
func (er *ErrorReporter) Clear() {
	er.errorHistoryMu.Lock()
	defer er.errorHistoryMu.Unlock()

	er.errorHistory = nil
}
