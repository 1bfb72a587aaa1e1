package logging

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/faults"
)

func TestComponentLoggerFollowsReplace(t *testing.T) {
	t.Cleanup(ResetForTest)

	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))

	l := NewLogger("Tracker")
	l.InfoWithContext("hooked", map[string]interface{}{"title": "osu!"})
	l.Error("lost", errors.New("gone"))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Tracker", entries[0].LoggerName)
	assert.Equal(t, "osu!", entries[0].ContextMap()["title"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "gone", entries[1].ContextMap()["error"])
}

func TestContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := NewWithZap("Loop", zap.New(core))

	l.WithContext(map[string]interface{}{"stage": "capture"}).Warn("slow capture")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "capture", logs.All()[0].ContextMap()["stage"])
}

func TestErrorReporterClassifiesCycleErrors(t *testing.T) {
	er := NewErrorReporter()
	er.SetLogger(NewWithZap("ErrorReporter", zap.NewNop()))

	var high int
	er.OnError(ErrorSeverityHigh, func(*ErrorReport) { high++ })

	er.ReportCycleError("loop", faults.New(faults.ErrInvalidRegion, faults.StageCapture, "capture", nil), nil)
	er.ReportCycleError("loop", fmt.Errorf("act: %w", faults.Unsupported("stick", "no driver")), nil)
	er.ReportCycleError("loop", faults.New(faults.ErrActuation, faults.StageAct, "SendInput", errors.New("denied")), nil)

	stats := er.GetErrorStats()
	assert.Equal(t, 3, stats["total"])
	assert.Equal(t, 1, stats["category_capture"])
	assert.Equal(t, 1, stats["category_act"])
	assert.Equal(t, 1, stats["severity_high"])
	assert.Equal(t, 1, high)

	last := er.Last()
	require.NotNil(t, last)
	assert.Equal(t, faults.ErrActuation.Error(), last.Kind)

	capture := er.GetErrorsByCategory(ErrorCategoryCapture, 10)
	require.Len(t, capture, 1)
	assert.Equal(t, "invalid region", capture[0].Kind)
}

func TestErrorReporterHistoryIsBounded(t *testing.T) {
	er := NewErrorReporter()
	er.SetLogger(NewWithZap("ErrorReporter", zap.NewNop()))
	er.maxHistory = 5

	for i := 0; i < 12; i++ {
		er.Report(&ErrorReport{Category: ErrorCategoryDetect, Severity: ErrorSeverityLow, Message: fmt.Sprint(i)})
	}
	recent := er.GetRecentErrors(100)
	require.Len(t, recent, 5)
	assert.Equal(t, "7", recent[0].Message)
	assert.Equal(t, "11", recent[4].Message)
}

func TestEventLoggerLogsEvents(t *testing.T) {
	t.Cleanup(ResetForTest)
	core, logs := observer.New(zapcore.DebugLevel)
	Replace(zap.New(core))

	bus := events.NewEventBus(8)
	el := NewEventLogger(bus)

	bus.PublishSync(events.NewLoopStartedEvent("osu", "hybrid"))
	bus.PublishSync(events.NewCycleErrorEvent("capture", "invalid region", nil, "osu"))
	require.NoError(t, el.Close())
	bus.Stop()

	entries := logs.FilterLoggerName("EventLogger").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Event: loop.started", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, 0, bus.GetSubscriberCount(events.EventTypeLoopStarted))
}
