// Package tracker resolves logical target ids to live windows and keeps the
// tracked window current as the user restarts or refocuses the application.
package tracker

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/platform"
)

// ForegroundID is the logical id of a target picked from the foreground window.
const ForegroundID = "custom"

// Target is an immutable snapshot of the tracked window. A new snapshot replaces
// the old one whenever the handle changes.
type Target struct {
	ID      string
	Handle  platform.Handle
	Title   string
	Process string
	Rect    platform.Rect
	// Match is the lowercase title fragment re-hooking looks for.
	Match string
}

// Config tunes resolution and re-hooking.
type Config struct {
	// RequireSameProcess makes re-hooking also compare executable names.
	RequireSameProcess bool `mapstructure:"require_same_process"`
}

// Tracker owns the tracked target. The target pointer is the only field shared
// with the control surface; it is read and replaced atomically.
type Tracker struct {
	backend platform.Backend
	logger  *logging.Logger

	mu      sync.RWMutex
	aliases map[string][]string
	cfg     Config

	current atomic.Pointer[Target]
	valid   atomic.Bool
}

// New creates a tracker using the built-in alias table.
func New(backend platform.Backend) *Tracker {
	return &Tracker{
		backend: backend,
		logger:  logging.NewLogger("Tracker"),
		aliases: DefaultAliases(),
	}
}

// SetAliases replaces the alias table.
func (t *Tracker) SetAliases(aliases map[string][]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aliases = MergeAliases(nil, aliases)
}

// SetConfig updates re-hook behaviour.
func (t *Tracker) SetConfig(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cfg = cfg
}

// Backend returns the platform backend.
func (t *Tracker) Backend() platform.Backend {
	return t.backend
}

// Terms returns the title fragments tried for id, in priority order.
// Unknown ids fall back to exe, then to the id itself.
func (t *Tracker) Terms(id, exe string) []string {
	t.mu.RLock()
	terms, ok := t.aliases[strings.ToLower(id)]
	t.mu.RUnlock()
	if ok {
		return terms
	}
	if exe != "" {
		return []string{strings.TrimSuffix(exe, ".exe")}
	}
	return []string{id}
}

// Resolve finds the first visible window whose title contains one of the terms
// for id. Terms are tried in order, so the first alias wins over later ones even
// when a later one appears earlier in the window list.
func (t *Tracker) Resolve(id, exe string) (*Target, error) {
	if id == ForegroundID && exe == "" {
		return t.ResolveForeground()
	}

	windows, err := t.backend.Windows()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate windows: %w", err)
	}

	terms := t.Terms(id, exe)
	for _, term := range terms {
		needle := strings.ToLower(term)
		for _, w := range windows {
			if strings.Contains(strings.ToLower(w.Title), needle) {
				t.logger.InfoWithContext("Resolved target", map[string]interface{}{
					"id":     id,
					"term":   term,
					"title":  w.Title,
					"handle": w.Handle.String(),
				})
				return targetFrom(id, needle, w), nil
			}
		}
	}

	t.logger.WarnWithContext("No window matched target", map[string]interface{}{
		"id":      id,
		"terms":   terms,
		"visible": platform.Titles(windows),
	})
	return nil, faults.Newf(faults.ErrTargetNotFound, faults.StageTrack, "resolve", "no visible window matches %q (tried %s)", id, strings.Join(terms, ", "))
}

// ResolveForeground accepts the current foreground window as the target.
func (t *Tracker) ResolveForeground() (*Target, error) {
	w, err := t.backend.Foreground()
	if err != nil {
		return nil, fmt.Errorf("failed to read foreground window: %w", err)
	}
	if w.Title == "" {
		return nil, faults.Newf(faults.ErrTargetNotFound, faults.StageTrack, "resolve", "foreground window %s has no title", w.Handle)
	}
	return targetFrom(ForegroundID, strings.ToLower(w.Title), w), nil
}

func targetFrom(id, match string, w platform.Window) *Target {
	return &Target{
		ID:      id,
		Handle:  w.Handle,
		Title:   w.Title,
		Process: w.Process,
		Rect:    w.Rect,
		Match:   match,
	}
}

// Track makes target the tracked window.
func (t *Tracker) Track(target *Target) {
	t.current.Store(target)
	t.valid.Store(target != nil)
}

// Replace tracks next only if old is still the tracked window.
func (t *Tracker) Replace(old, next *Target) bool {
	if !t.current.CompareAndSwap(old, next) {
		return false
	}
	t.valid.Store(next != nil)
	return true
}

// Clear drops the tracked window.
func (t *Tracker) Clear() {
	t.current.Store(nil)
	t.valid.Store(false)
}

// Current returns the tracked window, or nil.
func (t *Tracker) Current() *Target {
	return t.current.Load()
}

// Valid reports whether the last revalidation of the tracked window succeeded.
func (t *Tracker) Valid() bool {
	return t.valid.Load()
}

// Revalidate checks that the target still names a live, visible window and
// returns its current client rectangle.
func (t *Tracker) Revalidate(target *Target) (platform.Rect, error) {
	if target == nil {
		t.valid.Store(false)
		return platform.Rect{}, faults.New(faults.ErrTargetNotFound, faults.StageTrack, "revalidate", nil)
	}
	w, err := t.backend.Window(target.Handle)
	if err != nil {
		t.markInvalid(target)
		return platform.Rect{}, faults.New(faults.ErrStaleHandle, faults.StageTrack, "revalidate", err)
	}
	if !w.Visible {
		t.markInvalid(target)
		return platform.Rect{}, faults.Newf(faults.ErrStaleHandle, faults.StageTrack, "revalidate", "window %s is hidden", target.Handle)
	}
	if t.current.Load() == target {
		t.valid.Store(true)
	}
	return w.Rect, nil
}

func (t *Tracker) markInvalid(target *Target) {
	if t.current.Load() == target {
		t.valid.Store(false)
	}
}

// ReacquireIfForegroundMatches re-points tracking at the foreground window when
// its title contains substr and it is not the window already tracked. It returns
// the new target, or nil when nothing changed.
func (t *Tracker) ReacquireIfForegroundMatches(substr string) (*Target, error) {
	fg, err := t.backend.Foreground()
	if err != nil {
		return nil, err
	}
	return t.reacquire(fg, substr), nil
}

func (t *Tracker) reacquire(fg platform.Window, substr string) *Target {
	cur := t.current.Load()
	if cur == nil || substr == "" || fg.Handle == cur.Handle {
		return nil
	}
	if !strings.Contains(strings.ToLower(fg.Title), strings.ToLower(substr)) {
		return nil
	}

	t.mu.RLock()
	sameProcess := t.cfg.RequireSameProcess
	t.mu.RUnlock()
	if sameProcess && cur.Process != "" && !strings.EqualFold(cur.Process, fg.Process) {
		return nil
	}

	next := targetFrom(cur.ID, cur.Match, fg)
	if !t.current.CompareAndSwap(cur, next) {
		// a concurrent connect or disconnect won
		return nil
	}
	t.valid.Store(true)
	t.logger.InfoWithContext("Re-hooked target", map[string]interface{}{
		"title": fg.Title,
		"from":  cur.Handle.String(),
		"to":    fg.Handle.String(),
	})
	return next
}

// Focus is the result of comparing the foreground window with the tracked one.
type Focus int

const (
	// Focused means the tracked window is in the foreground.
	Focused Focus = iota
	// Rehooked means a new instance of the target took the foreground and is now tracked.
	Rehooked
	// Unfocused means some other window has the foreground.
	Unfocused
)

// CheckFocus reads the foreground once, re-hooks when allowed, and reports
// whether the loop may act on target. The returned target is the one to use.
func (t *Tracker) CheckFocus(target *Target, rehook bool) (Focus, *Target, platform.Window, error) {
	fg, err := t.backend.Foreground()
	if err != nil {
		return Unfocused, target, platform.Window{}, err
	}
	if fg.Handle == target.Handle {
		return Focused, target, fg, nil
	}
	if rehook {
		if next := t.reacquire(fg, target.Match); next != nil {
			return Rehooked, next, fg, nil
		}
	}
	return Unfocused, target, fg, nil
}
