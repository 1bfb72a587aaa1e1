package events

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// subscription represents a single event subscription
type subscription struct {
	id      SubscriptionID
	handler EventHandler
}

// DefaultEventBus is the default implementation of EventBus
type DefaultEventBus struct {
	// Subscriber management
	subscribers map[EventType][]subscription
	mu          sync.RWMutex

	// Event queue
	eventQueue chan Event
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup // processor goroutine
	handlers   sync.WaitGroup // in-flight handler calls

	nextSubID atomic.Int64
	dropped   atomic.Int64

	log *zap.Logger
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *DefaultEventBus {
	bus := &DefaultEventBus{
		subscribers: make(map[EventType][]subscription),
		eventQueue:  make(chan Event, bufferSize),
		stopCh:      make(chan struct{}),
		log:         zap.L().Named("events"),
	}

	bus.wg.Add(1)
	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type
func (eb *DefaultEventBus) Subscribe(eventType EventType, handler EventHandler) SubscriptionID {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subID := SubscriptionID(eb.nextSubID.Add(1))
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{
		id:      subID,
		handler: handler,
	})

	return subID
}

// SubscribeMultiple registers one handler for several event types
func (eb *DefaultEventBus) SubscribeMultiple(eventTypes []EventType, handler EventHandler) []SubscriptionID {
	ids := make([]SubscriptionID, 0, len(eventTypes))
	for _, t := range eventTypes {
		ids = append(ids, eb.Subscribe(t, handler))
	}
	return ids
}

// Unsubscribe removes a subscription by ID
func (eb *DefaultEventBus) Unsubscribe(id SubscriptionID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for eventType, subs := range eb.subscribers {
		for i, sub := range subs {
			if sub.id == id {
				eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish queues an event. It never blocks the caller: the worker cycle publishes
// on its hot path, so a full queue drops the event and counts it.
func (eb *DefaultEventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case <-eb.stopCh:
		eb.dropped.Add(1)
		return
	default:
	}

	select {
	case eb.eventQueue <- event:
	default:
		if eb.dropped.Add(1)%100 == 1 {
			eb.log.Warn("event queue full, dropping events", zap.String("type", string(event.Type)))
		}
	}
}

// PublishSync dispatches on the calling goroutine and returns after every handler ran.
func (eb *DefaultEventBus) PublishSync(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, h := range eb.handlersFor(event.Type) {
		eb.safeHandlerCall(h, event)
	}
}

// Stop stops the event bus, drains remaining events and waits for handlers.
func (eb *DefaultEventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
		eb.wg.Wait()
		eb.handlers.Wait()
	})
}

// processEvents runs in a goroutine and dispatches events to handlers
func (eb *DefaultEventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.eventQueue:
			eb.dispatch(event)

		case <-eb.stopCh:
			// Drain remaining events before stopping
			for {
				select {
				case event := <-eb.eventQueue:
					eb.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *DefaultEventBus) handlersFor(t EventType) []EventHandler {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	subs := eb.subscribers[t]
	handlers := make([]EventHandler, len(subs))
	for i, sub := range subs {
		handlers[i] = sub.handler
	}
	return handlers
}

// dispatch runs every handler for the event on its own goroutine
func (eb *DefaultEventBus) dispatch(event Event) {
	for _, handler := range eb.handlersFor(event.Type) {
		eb.handlers.Add(1)
		go func(h EventHandler) {
			defer eb.handlers.Done()
			eb.safeHandlerCall(h, event)
		}(handler)
	}
}

// safeHandlerCall calls a handler with panic recovery
func (eb *DefaultEventBus) safeHandlerCall(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			eb.log.Error("event handler panicked", zap.String("type", string(event.Type)), zap.Any("panic", r))
		}
	}()

	handler(event)
}

// GetSubscriberCount returns the number of subscribers for an event type
func (eb *DefaultEventBus) GetSubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	return len(eb.subscribers[eventType])
}

// GetQueueSize returns the current number of events in the queue
func (eb *DefaultEventBus) GetQueueSize() int {
	return len(eb.eventQueue)
}

// Dropped returns how many events were discarded because the queue was full or stopped.
func (eb *DefaultEventBus) Dropped() int64 {
	return eb.dropped.Load()
}
