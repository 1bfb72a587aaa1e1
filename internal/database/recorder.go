package database

import (
	"sync"

	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/logging"
)

// Recorder writes loop events to the history tables. It runs on the event
// bus goroutines, so the worker never waits on disk.
type Recorder struct {
	db  *DB
	bus events.EventBus
	log *logging.Logger

	mu      sync.Mutex
	session string
	subs    []events.SubscriptionID
}

// NewRecorder subscribes to the bus and starts recording.
func NewRecorder(db *DB, bus events.EventBus) *Recorder {
	r := &Recorder{db: db, bus: bus, log: logging.NewLogger("history")}
	r.subs = bus.SubscribeMultiple([]events.EventType{
		events.EventTypeTargetConnected,
		events.EventTypeTargetDisconnected,
		events.EventTypeCycleAction,
		events.EventTypeCycleMiss,
		events.EventTypeCycleError,
	}, r.handle)
	return r
}

// Session returns the id of the session being recorded, or "".
func (r *Recorder) Session() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Close unsubscribes and ends the open session.
func (r *Recorder) Close() error {
	for _, id := range r.subs {
		r.bus.Unsubscribe(id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == "" {
		return nil
	}
	err := r.db.EndSession(r.session)
	r.session = ""
	return err
}

func (r *Recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	switch e.Type {
	case events.EventTypeTargetConnected:
		id := e.String("session")
		if r.session != "" && r.session != id {
			if err := r.db.EndSession(r.session); err != nil {
				r.log.Error("Failed to end session", err)
			}
		}
		r.session, err = r.db.StartSession(id, e.String("target_id"), e.String("title"), int64(e.Int("handle")))
	case events.EventTypeTargetDisconnected:
		// handlers run concurrently, so a reconnect's connected event may land
		// first; only the named session ends
		id := e.String("session")
		if id == "" {
			id = r.session
		}
		if id != "" {
			err = r.db.EndSession(id)
		}
		if r.session == id {
			r.session = ""
		}
	case events.EventTypeCycleAction:
		_, err = r.db.RecordAction(r.session, Action{
			Kind:      e.String("kind"),
			X:         e.Int("x"),
			Y:         e.Int("y"),
			Key:       e.String("key"),
			Detector:  e.String("detector"),
			Score:     e.Float("score"),
			CreatedAt: e.Timestamp,
		})
	case events.EventTypeCycleMiss:
		_, err = r.db.RecordAction(r.session, Action{
			Kind:      "miss",
			Detector:  e.String("detector"),
			CreatedAt: e.Timestamp,
		})
	case events.EventTypeCycleError:
		_, err = r.db.RecordCycleError(r.session, e.String("stage"), e.String("kind"), e.String("error"))
	}
	if err != nil {
		r.log.ErrorWithContext("Failed to record event", err, map[string]interface{}{"type": string(e.Type)})
	}
}
