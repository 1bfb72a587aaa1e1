// Package loop runs the capture, detect, decide and act cycle on a single
// worker goroutine.
package loop

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/monitor"
	"jordanella.com/aimloop/internal/platform"
	"jordanella.com/aimloop/internal/policy"
	"jordanella.com/aimloop/internal/tracker"
)

// Mode selects which detectors run.
type Mode string

const (
	ModeHybrid   Mode = "hybrid"
	ModeTemplate Mode = "template"
)

// ErrAlreadyRunning is returned by Start when the worker is active.
var ErrAlreadyRunning = errors.New("already_running")

// Config holds loop timing. CaptureTimeout is read from capture.timeout.
type Config struct {
	Mode             Mode          `mapstructure:"mode"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	IdleSleep        time.Duration `mapstructure:"idle_sleep"`
	NoTargetSleep    time.Duration `mapstructure:"no_target_sleep"`
	UnfocusedSleep   time.Duration `mapstructure:"unfocused_sleep"`
	PauseLogInterval time.Duration `mapstructure:"pause_log_interval"`
	ErrorSleep       time.Duration `mapstructure:"error_sleep"`
	RequireFocus     bool          `mapstructure:"require_focus"`
	Rehook           bool          `mapstructure:"rehook"`
	StallTimeout     time.Duration `mapstructure:"stall_timeout"`
	CaptureTimeout   time.Duration `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Mode:             ModeHybrid,
		PollInterval:     20 * time.Millisecond,
		IdleSleep:        time.Millisecond,
		NoTargetSleep:    time.Second,
		UnfocusedSleep:   time.Second,
		PauseLogInterval: 5 * time.Second,
		ErrorSleep:       500 * time.Millisecond,
		RequireFocus:     true,
		Rehook:           true,
		StallTimeout:     30 * time.Second,
		CaptureTimeout:   500 * time.Millisecond,
	}
}

// Deps are the collaborators of a worker. Bus, Reporter and Recovery are optional.
type Deps struct {
	Tracker  *tracker.Tracker
	Source   cv.FrameSource
	Hybrid   *cv.Pipeline
	Template *cv.Pipeline
	Policy   *policy.Policy
	Input    *input.Synthesizer
	Bus      events.EventBus
	Reporter *logging.ErrorReporter
	Recovery *monitor.Recovery
	Clock    func() time.Time
}

// Worker owns the loop goroutine. Start and Stop may be called from any
// goroutine; everything else the cycle touches is written by the worker only.
type Worker struct {
	tracker  *tracker.Tracker
	policy   *policy.Policy
	input    *input.Synthesizer
	bus      events.EventBus
	reporter *logging.ErrorReporter
	recovery *monitor.Recovery
	now      func() time.Time

	state     *State
	reconnect atomic.Bool
	pauseLog  *rate.Limiter
	health    atomic.Pointer[monitor.HealthChecker]
	log       *logging.Logger

	cfgMu    sync.RWMutex
	cfg      Config
	source   cv.FrameSource
	hybrid   *cv.Pipeline
	template *cv.Pipeline

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped worker.
func New(deps Deps, cfg Config) *Worker {
	if deps.Hybrid == nil {
		deps.Hybrid = cv.NewHybridPipeline(cv.DefaultColorConfig(), cv.DefaultHoughConfig())
	}
	if deps.Recovery == nil {
		deps.Recovery = monitor.NewRecovery()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	return &Worker{
		tracker:  deps.Tracker,
		policy:   deps.Policy,
		input:    deps.Input,
		bus:      deps.Bus,
		reporter: deps.Reporter,
		recovery: deps.Recovery,
		now:      deps.Clock,
		state:    newState(),
		pauseLog: rate.NewLimiter(rate.Every(cfg.PauseLogInterval), 1),
		log:      logging.NewLogger("loop"),
		cfg:      cfg,
		source:   deps.Source,
		hybrid:   deps.Hybrid,
		template: deps.Template,
	}
}

// Config returns the active timing.
func (w *Worker) Config() Config {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()
	return w.cfg
}

// SetConfig replaces the timing; it takes effect on the next cycle.
func (w *Worker) SetConfig(cfg Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeHybrid
	}
	w.cfgMu.Lock()
	w.cfg = cfg
	w.cfgMu.Unlock()
	w.pauseLog.SetLimit(rate.Every(cfg.PauseLogInterval))
}

// Source returns the frame source in use.
func (w *Worker) Source() cv.FrameSource {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()
	return w.source
}

// SetSource swaps the frame source.
func (w *Worker) SetSource(src cv.FrameSource) {
	w.cfgMu.Lock()
	w.source = src
	w.cfgMu.Unlock()
}

// SetTemplates installs the pipeline used in template mode.
func (w *Worker) SetTemplates(p *cv.Pipeline) {
	w.cfgMu.Lock()
	w.template = p
	w.cfgMu.Unlock()
}

// SetHealth makes every cycle report activity to the stall watchdog.
func (w *Worker) SetHealth(h *monitor.HealthChecker) {
	w.health.Store(h)
}

// Reconnect makes the next cycle re-resolve the target even if its handle
// still looks valid.
func (w *Worker) Reconnect() {
	w.reconnect.Store(true)
}

// Running reports whether the worker is iterating.
func (w *Worker) Running() bool {
	return w.state.Running()
}

// Stats returns a copy of the loop counters.
func (w *Worker) Stats() Stats {
	return w.state.Snapshot()
}

// Start launches the worker. ctx bounds its lifetime, so it must outlive the
// request that started it.
func (w *Worker) Start(ctx context.Context) error {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if w.state.Running() {
		return ErrAlreadyRunning
	}
	if w.done != nil {
		<-w.done
	}
	if w.input == nil || w.policy == nil || w.tracker == nil || w.Source() == nil {
		return fmt.Errorf("loop is missing a tracker, frame source, policy or input")
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	done := make(chan struct{})
	w.done = done

	w.state.running.Store(true)
	w.state.setPhase(StateRunning)
	w.pauseLog = rate.NewLimiter(rate.Every(w.Config().PauseLogInterval), 1)

	id := ""
	if t := w.tracker.Current(); t != nil {
		id = t.ID
	}
	mode := w.Config().Mode
	w.log.InfoWithContext("Loop started", map[string]interface{}{"target": id, "mode": string(mode)})
	w.publish(events.NewLoopStartedEvent(id, string(mode)))

	go w.run(ctx, cancel, done)
	return nil
}

// Stop clears the running flag and cancels any wait or hold in progress.
// Stopping a stopped worker succeeds.
func (w *Worker) Stop() {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if !w.state.running.Swap(false) {
		return
	}
	w.state.setPhase(StateStopping)
	if w.cancel != nil {
		w.cancel()
	}
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	w.runMu.Lock()
	done := w.done
	w.runMu.Unlock()
	if done != nil {
		<-done
	}
}

// StopAndWait stops the worker and waits for input to be released.
func (w *Worker) StopAndWait() {
	w.Stop()
	w.Wait()
}

func (w *Worker) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer w.finish()
	defer cancel()

	for w.state.Running() && ctx.Err() == nil {
		cfg := w.Config()
		sleep, stage, err := w.cycle(ctx, cfg)
		w.state.cycles.Add(1)
		if h := w.health.Load(); h != nil {
			h.RecordActivity()
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			sleep = w.handleError(cfg, stage, err)
		}
		if !wait(ctx, sleep) {
			break
		}
	}
}

func (w *Worker) finish() {
	w.state.running.Store(false)
	w.state.setPhase(StateIdle)
	if err := w.input.Reset(); err != nil {
		w.log.Error("Failed to release input on stop", err)
	}
	stats := w.state.Snapshot()
	w.log.InfoWithContext("Loop stopped", map[string]interface{}{
		"cycles":  stats.Cycles,
		"actions": stats.Actions,
	})
	w.publish(events.NewLoopStoppedEvent(stats.Cycles, stats.Actions))
}

// cycle runs one iteration and returns how long to sleep before the next.
// On error it also returns the stage to blame when the error carries none.
func (w *Worker) cycle(ctx context.Context, cfg Config) (time.Duration, faults.Stage, error) {
	target, rect, err := w.acquire()
	if err != nil {
		return 0, faults.StageTrack, err
	}
	if target == nil {
		w.paused("no_target", "")
		return cfg.NoTargetSleep, "", nil
	}

	// re-hooking runs every cycle; the focus gate only decides whether an
	// unfocused target pauses the loop
	if cfg.RequireFocus || cfg.Rehook {
		focus, next, fg, err := w.tracker.CheckFocus(target, cfg.Rehook)
		switch {
		case err != nil:
			if cfg.RequireFocus {
				w.paused("foreground_unknown", "")
				return cfg.UnfocusedSleep, "", nil
			}
		case focus == tracker.Rehooked:
			w.publish(events.NewTargetRehookedEvent(next.Title, uintptr(target.Handle), uintptr(next.Handle)))
			target, rect = next, next.Rect
		case focus == tracker.Unfocused && cfg.RequireFocus:
			w.paused("unfocused", fg.Title)
			return cfg.UnfocusedSleep, "", nil
		}
	}
	w.state.resume()

	frame, err := w.capture(ctx, rect, cfg.CaptureTimeout)
	if err != nil {
		return 0, faults.StageCapture, err
	}

	pipeline := w.pipeline(cfg.Mode)
	if pipeline == nil {
		return 0, faults.StageDetect, faults.Newf(faults.ErrDetection, faults.StageDetect, "template", "no templates loaded")
	}
	candidates, src, err := pipeline.Detect(ctx, frame)
	if err != nil {
		return 0, faults.StageDetect, err
	}
	w.state.recordDetection(src, len(candidates))
	if len(candidates) == 0 {
		return cfg.IdleSleep, "", nil
	}
	if src == cv.SourceTemplate {
		for _, c := range candidates {
			w.publish(events.NewTemplateDetectedEvent(c.Template, rect.X+c.Center.X, rect.Y+c.Center.Y, c.Score))
		}
	}

	now := w.now()
	d := w.policy.Decide(candidates, now)
	switch d.Kind {
	case policy.NoAction:
		return cfg.PollInterval, "", nil
	case policy.Miss:
		w.state.misses.Add(1)
		w.log.Debug("Simulated miss")
		w.publish(events.NewMissEvent(string(src)))
		return d.Sleep, "", nil
	}

	if err := w.input.Execute(ctx, d.Intent, rect); err != nil {
		return 0, faults.StageAct, err
	}
	w.state.recordAction(now)

	p, _ := d.Intent.Resolve(rect)
	w.publish(events.NewActionEvent(string(d.Intent.Kind), p.X, p.Y, d.Intent.Key, string(src), d.Candidate.Score))
	return cfg.PollInterval, "", nil
}

// acquire returns the tracked target and its live rectangle, re-resolving it
// by its title match when the handle went stale. A nil target means nothing
// is connected.
func (w *Worker) acquire() (*tracker.Target, platform.Rect, error) {
	target := w.tracker.Current()
	if target == nil {
		return nil, platform.Rect{}, nil
	}

	if !w.reconnect.Swap(false) {
		wasValid := w.tracker.Valid()
		rect, err := w.tracker.Revalidate(target)
		if err == nil {
			return target, rect, nil
		}
		if !errors.Is(err, faults.ErrStaleHandle) || target.Match == "" {
			return nil, platform.Rect{}, err
		}
		if wasValid {
			w.log.WarnWithContext("Target lost", map[string]interface{}{
				"target": target.ID,
				"handle": target.Handle.String(),
			})
			w.publish(events.NewTargetLostEvent(target.ID, uintptr(target.Handle), err))
		}
	}

	next, err := w.tracker.Resolve(target.Match, "")
	if err != nil {
		return nil, platform.Rect{}, err
	}
	next.ID = target.ID
	if !w.tracker.Replace(target, next) {
		// connect or disconnect replaced the target meanwhile
		return nil, platform.Rect{}, nil
	}
	w.publish(events.NewTargetRehookedEvent(next.Title, uintptr(target.Handle), uintptr(next.Handle)))
	return next, next.Rect, nil
}

func (w *Worker) pipeline(mode Mode) *cv.Pipeline {
	w.cfgMu.RLock()
	defer w.cfgMu.RUnlock()
	if mode == ModeTemplate {
		return w.template
	}
	return w.hybrid
}

// capture bounds the frame source by timeout even if it ignores ctx.
func (w *Worker) capture(ctx context.Context, rect platform.Rect, timeout time.Duration) (*image.RGBA, error) {
	src := w.Source()
	if timeout <= 0 {
		return src.Capture(ctx, rect)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		frame *image.RGBA
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		frame, err := src.Capture(ctx, rect)
		ch <- result{frame, err}
	}()

	select {
	case r := <-ch:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, faults.New(faults.ErrDetection, faults.StageCapture, src.Name(), ctx.Err())
	}
}

// handleError logs, publishes and records a failed cycle, then returns how
// long to wait before retrying.
func (w *Worker) handleError(cfg Config, stage faults.Stage, err error) time.Duration {
	ev, resp := w.recovery.Respond(err, stage)
	w.state.recordError(ev.Stage, err, ev.DetectedAt)

	id := ""
	if t := w.tracker.Current(); t != nil {
		id = t.ID
	}
	fields := map[string]interface{}{
		"stage":  ev.Stage,
		"kind":   ev.Type.String(),
		"target": id,
		"action": resp.Action.String(),
	}
	w.publish(events.NewCycleErrorEvent(ev.Stage, ev.Type.String(), err, id))
	if w.reporter != nil {
		w.reporter.ReportCycleError("loop", err, fields)
	}

	switch resp.Action {
	case monitor.ActionStop:
		w.log.ErrorWithContext("Stopping loop", err, fields)
		w.state.running.Store(false)
		return 0
	case monitor.ActionPause:
		w.paused(ev.Type.String(), "")
		return max(cfg.ErrorSleep, cfg.NoTargetSleep)
	case monitor.ActionReconnect:
		w.reconnect.Store(true)
	}
	if ev.Severity <= monitor.SeverityHigh {
		w.log.ErrorWithContext(resp.Message, err, fields)
	} else {
		fields["error"] = err.Error()
		w.log.WarnWithContext(resp.Message, fields)
	}
	return cfg.ErrorSleep
}

// paused records why the cycle is idle. The log line and loop.paused event are
// rate limited.
func (w *Worker) paused(reason, foreground string) {
	w.state.pause(reason)
	if !w.pauseLog.Allow() {
		return
	}
	w.log.InfoWithContext("Paused", map[string]interface{}{
		"reason":  reason,
		"focused": foreground,
	})
	w.publish(events.NewLoopPausedEvent(reason, foreground))
}

func (w *Worker) publish(e events.Event) {
	if w.bus != nil {
		w.bus.Publish(e)
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
