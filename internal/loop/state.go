package loop

import (
	"sync"
	"sync/atomic"
	"time"

	"jordanella.com/aimloop/internal/cv"
)

// RunState is the coarse lifecycle of the worker.
type RunState int32

const (
	StateIdle RunState = iota
	StateRunning
	StatePaused // running, but waiting for the target or for focus
	StateStopping
)

func (s RunState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	}
	return "idle"
}

// State is the loop's single-writer record. The worker goroutine writes the
// detection fields; the control surface only flips running through Start and
// Stop and reads through Snapshot.
type State struct {
	running atomic.Bool
	phase   atomic.Int32

	cycles  atomic.Int64
	actions atomic.Int64
	misses  atomic.Int64
	errors  atomic.Int64

	mu          sync.RWMutex
	lastAction  time.Time
	lastSource  cv.Source
	hits        map[cv.Source]int64
	pauseReason string
	lastErr     string
	lastErrAt   time.Time
	lastStage   string
}

func newState() *State {
	return &State{hits: make(map[cv.Source]int64)}
}

// Running is the single source of truth for whether the worker iterates.
func (s *State) Running() bool {
	return s.running.Load()
}

// Phase returns the lifecycle state.
func (s *State) Phase() RunState {
	return RunState(s.phase.Load())
}

func (s *State) setPhase(p RunState) {
	s.phase.Store(int32(p))
}

func (s *State) recordDetection(src cv.Source, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	s.lastSource = src
	s.hits[src] += int64(n)
	s.mu.Unlock()
}

func (s *State) recordAction(at time.Time) {
	s.actions.Add(1)
	s.mu.Lock()
	s.lastAction = at
	s.mu.Unlock()
}

func (s *State) recordError(stage string, err error, at time.Time) {
	s.errors.Add(1)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.lastErrAt = at
	s.lastStage = stage
	s.mu.Unlock()
}

func (s *State) pause(reason string) {
	s.setPhase(StatePaused)
	s.mu.Lock()
	s.pauseReason = reason
	s.mu.Unlock()
}

func (s *State) resume() {
	if s.Phase() == StatePaused {
		s.setPhase(StateRunning)
	}
	s.mu.Lock()
	s.pauseReason = ""
	s.mu.Unlock()
}

// Stats is a point-in-time copy of the loop state.
type Stats struct {
	Running     bool                `json:"running"`
	Phase       string              `json:"phase"`
	PauseReason string              `json:"pause_reason,omitempty"`
	Cycles      int64               `json:"cycles"`
	Actions     int64               `json:"actions"`
	Misses      int64               `json:"misses"`
	Errors      int64               `json:"errors"`
	LastAction  time.Time           `json:"last_action,omitempty"`
	LastSource  string              `json:"last_source,omitempty"`
	Hits        map[cv.Source]int64 `json:"hits,omitempty"`
	LastError   string              `json:"last_error,omitempty"`
	LastErrorAt time.Time           `json:"last_error_at,omitempty"`
	LastStage   string              `json:"last_error_stage,omitempty"`
}

// Snapshot copies the state for status reporting.
func (s *State) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make(map[cv.Source]int64, len(s.hits))
	for k, v := range s.hits {
		hits[k] = v
	}
	return Stats{
		Running:     s.running.Load(),
		Phase:       s.Phase().String(),
		PauseReason: s.pauseReason,
		Cycles:      s.cycles.Load(),
		Actions:     s.actions.Load(),
		Misses:      s.misses.Load(),
		Errors:      s.errors.Load(),
		LastAction:  s.lastAction,
		LastSource:  string(s.lastSource),
		Hits:        hits,
		LastError:   s.lastErr,
		LastErrorAt: s.lastErrAt,
		LastStage:   s.lastStage,
	}
}
