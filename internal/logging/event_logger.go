package logging

import (
	"fmt"

	"jordanella.com/aimloop/internal/events"
)

// EventLogger subscribes to the event bus and logs every loop event
type EventLogger struct {
	logger          *Logger
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
}

// NewEventLogger creates an event logger. Entries reach the rotated log file
// through the global logger's file core.
func NewEventLogger(eventBus events.EventBus) *EventLogger {
	el := &EventLogger{
		logger:   NewLogger("EventLogger"),
		eventBus: eventBus,
	}
	el.subscriptionIDs = eventBus.SubscribeMultiple(events.AllEventTypes, el.handleEvent)
	return el
}

// handleEvent handles incoming events and logs them
func (el *EventLogger) handleEvent(event events.Event) {
	context := map[string]interface{}{
		"event_type": string(event.Type),
		"source":     event.Source,
	}
	for k, v := range event.Data {
		context[k] = v
	}

	msg := fmt.Sprintf("Event: %s", event.Type)
	switch event.Type {
	case events.EventTypeCycleError, events.EventTypeLoopStalled, events.EventTypeTargetLost:
		el.logger.WarnWithContext(msg, context)
	case events.EventTypeCycleAction, events.EventTypeCycleMiss, events.EventTypeTemplateDetected:
		el.logger.DebugWithContext(msg, context)
	default:
		el.logger.InfoWithContext(msg, context)
	}
}

// Close unsubscribes from the bus
func (el *EventLogger) Close() error {
	for _, id := range el.subscriptionIDs {
		el.eventBus.Unsubscribe(id)
	}
	el.subscriptionIDs = nil
	return nil
}
