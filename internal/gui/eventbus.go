package gui

import (
	"sync"
	"time"

	"fyne.io/fyne/v2"

	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/logging"
)

// EventRelay moves engine events onto the fyne main thread. Engine handlers
// run on the bus goroutine, so they only enqueue; a ticker drains the queue
// inside fyne.Do.
type EventRelay struct {
	queue    chan events.Event
	handlers []func(events.Event)
	mu       sync.RWMutex
	subs     []events.SubscriptionID
	bus      events.EventBus
	stopCh   chan struct{}
	stopOnce sync.Once
	dropped  int64
	log      *logging.Logger

	// do runs fn on the UI thread; tests swap it for a direct call.
	do func(fn func())
}

// NewEventRelay subscribes to every engine event type on bus.
func NewEventRelay(bus events.EventBus) *EventRelay {
	r := &EventRelay{
		queue:  make(chan events.Event, 256),
		bus:    bus,
		stopCh: make(chan struct{}),
		log:    logging.NewLogger("gui"),
		do:     fyne.Do,
	}
	if bus != nil {
		r.subs = bus.SubscribeMultiple(events.AllEventTypes, r.enqueue)
	}
	return r
}

// Handle registers fn to receive every relayed event on the UI thread.
func (r *EventRelay) Handle(fn func(events.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
}

func (r *EventRelay) enqueue(e events.Event) {
	select {
	case r.queue <- e:
	case <-r.stopCh:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// Start begins draining the queue. Call it after the window is shown.
func (r *EventRelay) Start() {
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.do(r.drain)
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop unsubscribes from the engine bus and ends the drain loop.
func (r *EventRelay) Stop() {
	r.stopOnce.Do(func() {
		if r.bus != nil {
			for _, id := range r.subs {
				r.bus.Unsubscribe(id)
			}
		}
		close(r.stopCh)
	})
}

// Dropped reports events lost to a full queue.
func (r *EventRelay) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// drain dispatches everything queued so far.
func (r *EventRelay) drain() {
	for {
		select {
		case e := <-r.queue:
			r.dispatch(e)
		default:
			return
		}
	}
}

func (r *EventRelay) dispatch(e events.Event) {
	r.mu.RLock()
	handlers := append([]func(events.Event){}, r.handlers...)
	r.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.log.WarnWithContext("UI handler panicked", map[string]interface{}{
						"event": string(e.Type),
						"panic": p,
					})
				}
			}()
			h(e)
		}()
	}
}
