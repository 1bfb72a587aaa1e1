package gui

import (
	"fmt"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"jordanella.com/aimloop/internal/events"
)

// LogLevel represents log severity
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Source    string
	Message   string
}

// LevelFor ranks an engine event for the log view.
func LevelFor(e events.Event) LogLevel {
	switch e.Type {
	case events.EventTypeCycleError, events.EventTypeTargetLost:
		return LogLevelError
	case events.EventTypeLoopStalled, events.EventTypeLoopPaused:
		return LogLevelWarn
	case events.EventTypeCycleAction, events.EventTypeCycleMiss, events.EventTypeTemplateDetected:
		return LogLevelDebug
	}
	return LogLevelInfo
}

// Describe renders an engine event as one log line.
func Describe(e events.Event) string {
	switch e.Type {
	case events.EventTypeTargetConnected:
		return fmt.Sprintf("Connected to %s (%s)", e.String("title"), e.String("target_id"))
	case events.EventTypeTargetDisconnected:
		return fmt.Sprintf("Disconnected from %s", e.String("target_id"))
	case events.EventTypeTargetRehooked:
		return fmt.Sprintf("Re-hooked %s: %#x -> %#x", e.String("title"), e.Int("from"), e.Int("to"))
	case events.EventTypeTargetLost:
		return fmt.Sprintf("Lost %s: %s", e.String("target_id"), e.String("error"))
	case events.EventTypeLoopStarted:
		return fmt.Sprintf("Loop started on %s (%s)", e.String("target_id"), e.String("mode"))
	case events.EventTypeLoopStopped:
		return fmt.Sprintf("Loop stopped after %d cycles, %d actions", e.Int("cycles"), e.Int("actions"))
	case events.EventTypeLoopPaused:
		if fg := e.String("foreground"); fg != "" {
			return fmt.Sprintf("Paused: %s (foreground %s)", e.String("reason"), fg)
		}
		return fmt.Sprintf("Paused: %s", e.String("reason"))
	case events.EventTypeLoopStalled:
		return fmt.Sprintf("No completed cycle for %dms", e.Int("idle_ms"))
	case events.EventTypeCycleAction:
		if key := e.String("key"); key != "" {
			return fmt.Sprintf("%s %s via %s", e.String("kind"), key, e.String("detector"))
		}
		return fmt.Sprintf("%s at (%d, %d) via %s %.2f",
			e.String("kind"), e.Int("x"), e.Int("y"), e.String("detector"), e.Float("score"))
	case events.EventTypeCycleMiss:
		return fmt.Sprintf("No target found by %s", e.String("detector"))
	case events.EventTypeCycleError:
		return fmt.Sprintf("%s error (%s): %s", e.String("stage"), e.String("kind"), e.String("error"))
	case events.EventTypeTemplateDetected:
		return fmt.Sprintf("Found object: %s at (%d, %d) %.2f",
			e.String("template"), e.Int("x"), e.Int("y"), e.Float("score"))
	}
	return string(e.Type)
}

// LogTab displays engine events
type LogTab struct {
	controller *Controller

	// Log storage
	logs   []LogEntry
	logsMu sync.RWMutex

	// Widgets
	logList         *widget.List
	clearBtn        *widget.Button
	filterSelect    *widget.Select
	autoScrollCheck *widget.Check
	maxLogs         int
}

// NewLogTab creates a new log tab
func NewLogTab(ctrl *Controller) *LogTab {
	return &LogTab{
		controller: ctrl,
		logs:       make([]LogEntry, 0, 1000),
		maxLogs:    1000,
	}
}

// Build constructs the log viewer UI
func (l *LogTab) Build() fyne.CanvasObject {
	header := widget.NewLabelWithStyle("Event Log", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	l.filterSelect = widget.NewSelect(
		[]string{"All", "DEBUG", "INFO", "WARN", "ERROR"},
		func(string) {
			if l.logList != nil {
				l.logList.Refresh()
			}
		},
	)
	l.filterSelect.PlaceHolder = "All"

	l.autoScrollCheck = widget.NewCheck("Auto-scroll", nil)
	l.autoScrollCheck.SetChecked(true)

	l.clearBtn = widget.NewButton("Clear Logs", l.ClearLogs)

	controls := container.NewHBox(
		widget.NewLabel("Filter:"),
		l.filterSelect,
		l.autoScrollCheck,
		l.clearBtn,
	)

	l.logList = widget.NewList(
		l.getFilteredLogCount,
		func() fyne.CanvasObject {
			return container.NewHBox(
				widget.NewLabel("timestamp"),
				widget.NewLabel("level"),
				widget.NewLabel("source"),
				widget.NewLabel("message"),
			)
		},
		func(id widget.ListItemID, item fyne.CanvasObject) {
			entry := l.getFilteredLog(id)
			if entry == nil {
				return
			}
			box := item.(*fyne.Container)

			box.Objects[0].(*widget.Label).SetText(entry.Timestamp.Format("15:04:05"))

			levelLabel := box.Objects[1].(*widget.Label)
			levelLabel.SetText(fmt.Sprintf("[%s]", entry.Level))
			switch entry.Level {
			case LogLevelDebug:
				levelLabel.Importance = widget.LowImportance
			case LogLevelInfo:
				levelLabel.Importance = widget.MediumImportance
			case LogLevelWarn:
				levelLabel.Importance = widget.WarningImportance
			case LogLevelError:
				levelLabel.Importance = widget.DangerImportance
			}
			levelLabel.Refresh()

			box.Objects[2].(*widget.Label).SetText(fmt.Sprintf("[%s]", entry.Source))
			box.Objects[3].(*widget.Label).SetText(entry.Message)
		},
	)

	return container.NewBorder(
		container.NewVBox(header, controls),
		nil, nil, nil,
		l.logList,
	)
}

// AddEvent records an engine event. Call it on the UI thread.
func (l *LogTab) AddEvent(e events.Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	l.add(LogEntry{Timestamp: ts, Level: LevelFor(e), Source: e.Source, Message: Describe(e)})
}

// AddLog records a panel message. Call it on the UI thread.
func (l *LogTab) AddLog(level LogLevel, message string) {
	l.add(LogEntry{Timestamp: time.Now(), Level: level, Source: "gui", Message: message})
}

func (l *LogTab) add(entry LogEntry) {
	l.logsMu.Lock()
	l.logs = append(l.logs, entry)
	if len(l.logs) > l.maxLogs {
		l.logs = l.logs[len(l.logs)-l.maxLogs:]
	}
	l.logsMu.Unlock()

	if l.logList != nil {
		l.logList.Refresh()
		if l.autoScrollCheck != nil && l.autoScrollCheck.Checked {
			l.logList.ScrollToBottom()
		}
	}
}

// ClearLogs removes all log entries
func (l *LogTab) ClearLogs() {
	l.logsMu.Lock()
	l.logs = make([]LogEntry, 0, 1000)
	l.logsMu.Unlock()

	if l.logList != nil {
		l.logList.Refresh()
	}
}

func (l *LogTab) selected() string {
	if l.filterSelect != nil && l.filterSelect.Selected != "" {
		return l.filterSelect.Selected
	}
	return "All"
}

// getFilteredLogCount returns count of logs matching filter
func (l *LogTab) getFilteredLogCount() int {
	l.logsMu.RLock()
	defer l.logsMu.RUnlock()

	selected := l.selected()
	if selected == "All" {
		return len(l.logs)
	}
	count := 0
	for _, entry := range l.logs {
		if entry.Level.String() == selected {
			count++
		}
	}
	return count
}

// getFilteredLog returns the Nth filtered log entry
func (l *LogTab) getFilteredLog(index int) *LogEntry {
	l.logsMu.RLock()
	defer l.logsMu.RUnlock()

	selected := l.selected()
	if selected == "All" {
		if index >= 0 && index < len(l.logs) {
			return &l.logs[index]
		}
		return nil
	}

	n := 0
	for i := range l.logs {
		if l.logs[i].Level.String() == selected {
			if n == index {
				return &l.logs[i]
			}
			n++
		}
	}
	return nil
}

// GetLogs returns all logs (for export, etc.)
func (l *LogTab) GetLogs() []LogEntry {
	l.logsMu.RLock()
	defer l.logsMu.RUnlock()

	logs := make([]LogEntry, len(l.logs))
	copy(logs, l.logs)
	return logs
}
