package events

import "time"

// EventType represents different types of events in the system
type EventType string

const (
	// Target events
	EventTypeTargetConnected    EventType = "target.connected"
	EventTypeTargetDisconnected EventType = "target.disconnected"
	EventTypeTargetRehooked     EventType = "target.rehooked"
	EventTypeTargetLost         EventType = "target.lost"

	// Loop lifecycle events
	EventTypeLoopStarted EventType = "loop.started"
	EventTypeLoopStopped EventType = "loop.stopped"
	EventTypeLoopPaused  EventType = "loop.paused"
	EventTypeLoopStalled EventType = "loop.stalled"

	// Cycle events
	EventTypeCycleAction EventType = "cycle.action"
	EventTypeCycleMiss   EventType = "cycle.miss"
	EventTypeCycleError  EventType = "cycle.error"

	EventTypeTemplateDetected EventType = "detection.template"
)

// AllEventTypes lists every event type the loop emits.
var AllEventTypes = []EventType{
	EventTypeTargetConnected,
	EventTypeTargetDisconnected,
	EventTypeTargetRehooked,
	EventTypeTargetLost,
	EventTypeLoopStarted,
	EventTypeLoopStopped,
	EventTypeLoopPaused,
	EventTypeLoopStalled,
	EventTypeCycleAction,
	EventTypeCycleMiss,
	EventTypeCycleError,
	EventTypeTemplateDetected,
}

// Event represents a system event with metadata
type Event struct {
	Type      EventType              // Type of event
	Source    string                 // Component that emitted event (e.g., "loop", "control")
	Timestamp time.Time              // When the event occurred
	Data      map[string]interface{} // Event-specific data
}

// String returns a data field as a string, or "".
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Int returns a data field as an int, or 0.
func (e Event) Int(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uintptr:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a data field as a float64, or 0.
func (e Event) Float(key string) float64 {
	switch v := e.Data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// EventHandler is a function that processes an event
type EventHandler func(Event)

// SubscriptionID uniquely identifies a subscription
type SubscriptionID int64

// EventBus defines the interface for event pub/sub
type EventBus interface {
	Subscribe(eventType EventType, handler EventHandler) SubscriptionID
	SubscribeMultiple(eventTypes []EventType, handler EventHandler) []SubscriptionID
	Unsubscribe(id SubscriptionID)

	// Publish queues an event without blocking; a full queue drops it.
	Publish(event Event)

	// PublishSync delivers an event to every handler before returning.
	PublishSync(event Event)

	// Stop drains remaining events and waits for running handlers.
	Stop()
}

// NewTargetConnectedEvent creates a target connected event
func NewTargetConnectedEvent(targetID, title string, handle uintptr, session string) Event {
	return Event{
		Type:      EventTypeTargetConnected,
		Source:    "control",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"target_id": targetID,
			"title":     title,
			"handle":    handle,
			"session":   session,
		},
	}
}

// NewTargetDisconnectedEvent creates a target disconnected event
func NewTargetDisconnectedEvent(targetID, session string) Event {
	return Event{
		Type:      EventTypeTargetDisconnected,
		Source:    "control",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"target_id": targetID,
			"session":   session,
		},
	}
}

// NewTargetRehookedEvent creates a target rehooked event
func NewTargetRehookedEvent(title string, from, to uintptr) Event {
	return Event{
		Type:      EventTypeTargetRehooked,
		Source:    "tracker",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"title": title,
			"from":  from,
			"to":    to,
		},
	}
}

// NewTargetLostEvent creates a target lost event
func NewTargetLostEvent(targetID string, handle uintptr, err error) Event {
	return Event{
		Type:      EventTypeTargetLost,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"target_id": targetID,
			"handle":    handle,
			"error":     errString(err),
		},
	}
}

// NewLoopStartedEvent creates a loop started event
func NewLoopStartedEvent(targetID, mode string) Event {
	return Event{
		Type:      EventTypeLoopStarted,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"target_id": targetID,
			"mode":      mode,
		},
	}
}

// NewLoopStoppedEvent creates a loop stopped event
func NewLoopStoppedEvent(cycles, actions int64) Event {
	return Event{
		Type:      EventTypeLoopStopped,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"cycles":  cycles,
			"actions": actions,
		},
	}
}

// NewLoopPausedEvent creates a loop paused event
func NewLoopPausedEvent(reason, foreground string) Event {
	return Event{
		Type:      EventTypeLoopPaused,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"reason":     reason,
			"foreground": foreground,
		},
	}
}

// NewLoopStalledEvent creates a loop stalled event
func NewLoopStalledEvent(idle time.Duration) Event {
	return Event{
		Type:      EventTypeLoopStalled,
		Source:    "watchdog",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"idle_ms": idle.Milliseconds(),
		},
	}
}

// NewActionEvent creates a cycle action event. x and y are absolute screen pixels.
func NewActionEvent(kind string, x, y int, key, detector string, score float64) Event {
	return Event{
		Type:      EventTypeCycleAction,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"kind":     kind,
			"x":        x,
			"y":        y,
			"key":      key,
			"detector": detector,
			"score":    score,
		},
	}
}

// NewMissEvent creates a simulated miss event
func NewMissEvent(detector string) Event {
	return Event{
		Type:      EventTypeCycleMiss,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"detector": detector,
		},
	}
}

// NewCycleErrorEvent creates a cycle error event
func NewCycleErrorEvent(stage, kind string, err error, targetID string) Event {
	return Event{
		Type:      EventTypeCycleError,
		Source:    "loop",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"stage":     stage,
			"kind":      kind,
			"error":     errString(err),
			"target_id": targetID,
		},
	}
}

// NewTemplateDetectedEvent creates a template detection event
func NewTemplateDetectedEvent(name string, x, y int, score float64) Event {
	return Event{
		Type:      EventTypeTemplateDetected,
		Source:    "perception",
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"template": name,
			"x":        x,
			"y":        y,
			"score":    score,
		},
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
