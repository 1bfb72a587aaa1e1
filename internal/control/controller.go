// Package control is the command surface of the engine. Every transport (HTTP,
// MCP, GUI, CLI) goes through a Controller, which returns structured results
// and never lets a panic escape.
package control

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/loop"
	"jordanella.com/aimloop/internal/platform"
	"jordanella.com/aimloop/internal/tracker"
)

// ErrInvalidRequest marks a request the caller must fix before retrying.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotConnected is returned by operations that need a tracked target.
var ErrNotConnected = faults.Newf(faults.ErrTargetNotFound, faults.StageControl, "control", "no target connected")

// PreviewConfig bounds snapshot thumbnails.
type PreviewConfig struct {
	MaxWidth  uint `mapstructure:"max_width"`
	MaxHeight uint `mapstructure:"max_height"`
	Quality   int  `mapstructure:"quality"`
}

func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{MaxWidth: 800, MaxHeight: 600, Quality: 30}
}

// Options wires a Controller. Bus, Reporter and Launcher are optional.
type Options struct {
	Tracker  *tracker.Tracker
	Worker   *loop.Worker
	Input    *input.Synthesizer
	Bus      events.EventBus
	Reporter *logging.ErrorReporter

	Preview         PreviewConfig
	ForegroundDelay time.Duration
	CaptureTimeout  time.Duration
	Launcher        func(target string) error
}

// Controller serialises connect and disconnect and forwards loop control to
// the worker.
type Controller struct {
	tracker  *tracker.Tracker
	worker   *loop.Worker
	input    *input.Synthesizer
	bus      events.EventBus
	reporter *logging.ErrorReporter
	launch   func(string) error
	log      *logging.Logger

	// base outlives individual requests; the worker runs under it.
	base context.Context

	mu       sync.Mutex
	session  string
	preview  PreviewConfig
	fgDelay  time.Duration
	capTime  time.Duration
	lastErr  string
	lastErrT time.Time
}

// New creates a controller. ctx bounds the lifetime of any loop it starts.
func New(ctx context.Context, opts Options) *Controller {
	if opts.Preview.MaxWidth == 0 || opts.Preview.MaxHeight == 0 {
		opts.Preview = DefaultPreviewConfig()
	}
	if opts.ForegroundDelay < 0 {
		opts.ForegroundDelay = 0
	}
	if opts.CaptureTimeout <= 0 {
		opts.CaptureTimeout = loop.DefaultConfig().CaptureTimeout
	}
	if opts.Launcher == nil {
		opts.Launcher = platform.Launch
	}
	return &Controller{
		tracker:  opts.Tracker,
		worker:   opts.Worker,
		input:    opts.Input,
		bus:      opts.Bus,
		reporter: opts.Reporter,
		launch:   opts.Launcher,
		log:      logging.NewLogger("control"),
		base:     ctx,
		preview:  opts.Preview,
		fgDelay:  opts.ForegroundDelay,
		capTime:  opts.CaptureTimeout,
	}
}

// SetPreview replaces the snapshot bounds.
func (c *Controller) SetPreview(p PreviewConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.MaxWidth > 0 && p.MaxHeight > 0 {
		c.preview = p
	}
}

// SetForegroundDelay changes how long ConnectForeground waits.
func (c *Controller) SetForegroundDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fgDelay = max(d, 0)
}

// Worker returns the loop worker.
func (c *Controller) Worker() *loop.Worker {
	return c.worker
}

// ConnectResult describes the target a connect call hooked.
type ConnectResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	TargetID string `json:"target_id"`
	Handle   string `json:"hwnd"`
	Title    string `json:"title"`
	Process  string `json:"exe,omitempty"`
	Session  string `json:"session"`
}

// Connect resolves id (alias, executable or title fragment) and tracks it.
// exe is an optional executable name used when id is not an alias.
func (c *Controller) Connect(ctx context.Context, id, exe string) (res ConnectResult, err error) {
	defer c.guard("connect", &err)

	id = strings.TrimSpace(id)
	if id == "" && exe == "" {
		return ConnectResult{}, fmt.Errorf("%w: gameId or exe is required", ErrInvalidRequest)
	}
	if id == "" {
		id = exe
	}
	if err := ctx.Err(); err != nil {
		return ConnectResult{}, err
	}

	target, err := c.tracker.Resolve(id, exe)
	if err != nil {
		return ConnectResult{}, c.fail("connect", err)
	}
	return c.hook(target), nil
}

// ConnectForeground waits for the user to switch to the target, then tracks
// whatever window is in the foreground.
func (c *Controller) ConnectForeground(ctx context.Context) (res ConnectResult, err error) {
	defer c.guard("connect_foreground", &err)

	c.mu.Lock()
	delay := c.fgDelay
	c.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ConnectResult{}, ctx.Err()
		case <-t.C:
		}
	}

	target, err := c.tracker.ResolveForeground()
	if err != nil {
		return ConnectResult{}, c.fail("connect_foreground", err)
	}
	return c.hook(target), nil
}

func (c *Controller) hook(target *tracker.Target) ConnectResult {
	c.tracker.Track(target)

	session := uuid.NewString()
	c.mu.Lock()
	prev := c.session
	c.session = session
	c.mu.Unlock()

	if prev != "" {
		c.publish(events.NewTargetDisconnectedEvent(target.ID, prev))
	}
	c.publish(events.NewTargetConnectedEvent(target.ID, target.Title, uintptr(target.Handle), session))
	c.log.InfoWithContext("Connected", map[string]interface{}{
		"target":  target.ID,
		"title":   target.Title,
		"handle":  target.Handle.String(),
		"session": session,
	})

	msg := "Connected to " + target.Title
	if target.ID == tracker.ForegroundID {
		msg = "Hooked into current window: " + target.Title
	}
	return ConnectResult{
		Success:  true,
		Message:  msg,
		TargetID: target.ID,
		Handle:   target.Handle.String(),
		Title:    target.Title,
		Process:  target.Process,
		Session:  session,
	}
}

// Result is the reply of commands that carry no data.
type Result struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// Disconnect stops the loop and forgets the target.
func (c *Controller) Disconnect() (res Result, err error) {
	defer c.guard("disconnect", &err)

	c.worker.Stop()
	id := ""
	if t := c.tracker.Current(); t != nil {
		id = t.ID
	}
	c.tracker.Clear()

	c.mu.Lock()
	session := c.session
	c.session = ""
	c.mu.Unlock()

	if session != "" {
		c.publish(events.NewTargetDisconnectedEvent(id, session))
		c.log.InfoWithContext("Disconnected", map[string]interface{}{"target": id, "session": session})
	}
	return Result{Success: true, Status: "disconnected"}, nil
}

// Status is a point-in-time view of the engine.
type Status struct {
	Status      string        `json:"status"`
	Running     bool          `json:"running"`
	TargetID    string        `json:"target_id,omitempty"`
	Handle      string        `json:"hwnd,omitempty"`
	Title       string        `json:"title,omitempty"`
	Rect        platform.Rect `json:"rect"`
	HandleValid bool          `json:"handle_valid"`
	Session     string        `json:"session,omitempty"`
	Input       string        `json:"input,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	LastErrorAt *time.Time    `json:"last_error_at,omitempty"`
	Loop        loop.Stats    `json:"loop"`
}

// Status reads the tracked target and loop counters without touching the
// window system.
func (c *Controller) Status() Status {
	st := Status{
		Status:      "online",
		Running:     c.worker.Running(),
		HandleValid: c.tracker.Valid(),
		Loop:        c.worker.Stats(),
	}
	if t := c.tracker.Current(); t != nil {
		st.TargetID = t.ID
		st.Handle = t.Handle.String()
		st.Title = t.Title
		st.Rect = t.Rect
	}
	if inj := c.input.Injector(); inj != nil {
		st.Input = inj.Name()
	}

	c.mu.Lock()
	st.Session = c.session
	lastErr, lastAt := c.lastErr, c.lastErrT
	c.mu.Unlock()

	if st.Loop.LastError != "" && st.Loop.LastErrorAt.After(lastAt) {
		lastErr, lastAt = st.Loop.LastError, st.Loop.LastErrorAt
	}
	if lastErr != "" {
		st.LastError = lastErr
		st.LastErrorAt = &lastAt
	}
	return st
}

// StartLoop starts the worker. Starting a running loop is not an error; the
// result says already_running.
func (c *Controller) StartLoop(ctx context.Context) (res Result, err error) {
	defer c.guard("start_loop", &err)

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	switch err := c.worker.Start(c.base); {
	case errors.Is(err, loop.ErrAlreadyRunning):
		return Result{Success: true, Status: "already_running"}, nil
	case err != nil:
		return Result{}, c.fail("start_loop", err)
	}
	return Result{Success: true, Status: "started"}, nil
}

// StopLoop stops the worker and waits, bounded by ctx, until it has released
// its input. Stopping a stopped loop succeeds.
func (c *Controller) StopLoop(ctx context.Context) (res Result, err error) {
	defer c.guard("stop_loop", &err)

	c.worker.Stop()
	done := make(chan struct{})
	go func() {
		c.worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		return Result{Success: true, Status: "stopped"}, nil
	case <-ctx.Done():
		return Result{Success: true, Status: "stopping"}, nil
	}
}

// ActionRequest is a one-off input command. X and Y are fractions of the
// target rectangle for key and mouse, and stick deflection in [-1, 1] for
// gamepad sticks. Duration is in seconds.
type ActionRequest struct {
	Type     string   `json:"type" jsonschema:"key, mouse, text or gamepad"`
	Subtype  string   `json:"subtype,omitempty" jsonschema:"left_click, right_click or move for mouse; button or stick for gamepad"`
	Key      string   `json:"key,omitempty" jsonschema:"key name, gamepad button or stick (LEFT/RIGHT)"`
	Text     string   `json:"text,omitempty" jsonschema:"text to type"`
	X        *float64 `json:"x,omitempty" jsonschema:"horizontal position or deflection"`
	Y        *float64 `json:"y,omitempty" jsonschema:"vertical position or deflection"`
	Duration *float64 `json:"duration,omitempty" jsonschema:"hold time in seconds"`
}

// ActionResult reports what was sent.
type ActionResult struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
}

// Intent converts the request to a synthesizer intent.
func (r ActionRequest) Intent() (input.Intent, error) {
	var in input.Intent
	if r.Duration != nil {
		if *r.Duration < 0 {
			return in, fmt.Errorf("%w: duration must not be negative", ErrInvalidRequest)
		}
		in.Hold = time.Duration(*r.Duration * float64(time.Second))
	}
	positional := r.X != nil && r.Y != nil
	if positional {
		in.Space = input.SpaceNormalized
		in.Norm = input.Vec{X: *r.X, Y: *r.Y}
	}

	switch strings.ToLower(r.Type) {
	case "key":
		in.Kind = input.KindKeyTap
		in.Key = r.Key
	case "mouse":
		switch strings.ToLower(r.Subtype) {
		case "", "left_click":
			in.Kind, in.Button = input.KindClick, input.ButtonLeft
		case "right_click":
			in.Kind, in.Button = input.KindClick, input.ButtonRight
		case "middle_click":
			in.Kind, in.Button = input.KindClick, input.ButtonMiddle
		case "move":
			in.Kind = input.KindPointerMove
		default:
			return in, fmt.Errorf("%w: unknown mouse subtype %q", ErrInvalidRequest, r.Subtype)
		}
	case "text":
		in.Kind = input.KindText
		in.Text = r.Text
	case "gamepad":
		in.Space, in.Norm = "", input.Vec{}
		switch strings.ToLower(r.Subtype) {
		case "", "button":
			b, ok := input.ParsePadButton(r.Key)
			if !ok {
				return in, fmt.Errorf("%w: unknown gamepad button %q", ErrInvalidRequest, r.Key)
			}
			in.Kind, in.Pad = input.KindGamepadButton, b
		case "stick":
			in.Kind = input.KindStickDeflect
			in.Stick = input.StickLeft
			if strings.EqualFold(r.Key, "right") {
				in.Stick = input.StickRight
			}
			if r.X != nil {
				in.Deflect.X = *r.X
			}
			if r.Y != nil {
				in.Deflect.Y = *r.Y
			}
		default:
			return in, fmt.Errorf("%w: unknown gamepad subtype %q", ErrInvalidRequest, r.Subtype)
		}
	default:
		return in, fmt.Errorf("%w: unknown action type %q", ErrInvalidRequest, r.Type)
	}

	if err := in.Validate(); err != nil {
		return in, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return in, nil
}

// ExecuteOnce performs a single action outside the loop. Keyboard and mouse
// actions need a connected target, which is brought to the foreground first.
func (c *Controller) ExecuteOnce(ctx context.Context, req ActionRequest) (res ActionResult, err error) {
	defer c.guard("execute", &err)

	in, err := req.Intent()
	if err != nil {
		return ActionResult{}, err
	}

	var rect platform.Rect
	gamepad := in.Kind == input.KindGamepadButton || in.Kind == input.KindStickDeflect
	if !gamepad {
		target := c.tracker.Current()
		if target == nil {
			return ActionResult{}, ErrNotConnected
		}
		rect, err = c.tracker.Revalidate(target)
		if err != nil {
			return ActionResult{}, c.fail("execute", err)
		}
		if err := c.focus(ctx, target); err != nil {
			return ActionResult{}, err
		}
	}

	if err := c.input.Execute(ctx, in, rect); err != nil {
		return ActionResult{}, c.fail("execute", err)
	}
	return ActionResult{Success: true, Action: in.String()}, nil
}

// focus brings the target forward and lets the window system settle. A
// refused activation is logged, not fatal.
func (c *Controller) focus(ctx context.Context, target *tracker.Target) error {
	cfg := c.input.Config()
	if !cfg.FocusBeforeAction {
		return nil
	}
	if err := c.tracker.Backend().Activate(target.Handle); err != nil {
		c.log.WarnWithContext("Could not focus target", map[string]interface{}{
			"handle": target.Handle.String(),
			"error":  err.Error(),
		})
		return nil
	}
	if cfg.FocusSettle <= 0 {
		return nil
	}
	t := time.NewTimer(cfg.FocusSettle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot captures the target and returns a JPEG thumbnail.
func (c *Controller) Snapshot(ctx context.Context) (res cv.Preview, err error) {
	defer c.guard("snapshot", &err)

	target := c.tracker.Current()
	if target == nil {
		return cv.Preview{}, ErrNotConnected
	}
	rect, err := c.tracker.Revalidate(target)
	if err != nil {
		return cv.Preview{}, c.fail("snapshot", err)
	}
	src := c.worker.Source()
	if src == nil {
		return cv.Preview{}, faults.Unsupported("snapshot", "no frame source configured")
	}

	c.mu.Lock()
	p, timeout := c.preview, c.capTime
	c.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	frame, err := src.Capture(cctx, rect)
	if err != nil {
		return cv.Preview{}, c.fail("snapshot", err)
	}
	preview, err := cv.EncodePreview(frame, p.MaxWidth, p.MaxHeight, p.Quality)
	if err != nil {
		return cv.Preview{}, c.fail("snapshot", err)
	}
	return preview, nil
}

// Launch opens path as a program or, for scheme links such as steam://, with
// the registered handler.
func (c *Controller) Launch(ctx context.Context, path string) (res Result, err error) {
	defer c.guard("launch", &err)

	path = strings.TrimSpace(path)
	if path == "" {
		return Result{}, fmt.Errorf("%w: no path provided", ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := c.launch(path); err != nil {
		return Result{}, c.fail("launch", err)
	}
	kind := "program"
	if platform.IsURL(path) {
		kind = "link"
	}
	c.log.InfoWithContext("Launched", map[string]interface{}{"path": path, "kind": kind})
	return Result{Success: true, Message: "Launched " + path}, nil
}

// WindowInfo is one visible window.
type WindowInfo struct {
	Handle  string        `json:"hwnd"`
	Title   string        `json:"title"`
	Process string        `json:"exe,omitempty"`
	Rect    platform.Rect `json:"rect"`
}

// ListWindows returns every visible titled window.
func (c *Controller) ListWindows() (res []WindowInfo, err error) {
	defer c.guard("list_windows", &err)

	windows, err := c.tracker.Backend().Windows()
	if err != nil {
		return nil, c.fail("list_windows", err)
	}
	res = make([]WindowInfo, 0, len(windows))
	for _, w := range windows {
		if w.Title == "" {
			continue
		}
		res = append(res, WindowInfo{
			Handle:  w.Handle.String(),
			Title:   w.Title,
			Process: w.Process,
			Rect:    w.Rect,
		})
	}
	return res, nil
}

// fail records err as the last control error and returns it unchanged.
func (c *Controller) fail(op string, err error) error {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.lastErrT = time.Now()
	c.mu.Unlock()

	if c.reporter != nil {
		c.reporter.ReportCycleError("control", err, map[string]interface{}{"op": op})
	} else {
		c.log.ErrorWithContext("Control operation failed", err, map[string]interface{}{"op": op})
	}
	return err
}

// guard turns a panic in op into an error.
func (c *Controller) guard(op string, err *error) {
	r := recover()
	if r == nil {
		return
	}
	c.log.ErrorWithContext("Control operation panicked", fmt.Errorf("%v", r), map[string]interface{}{
		"op":    op,
		"stack": string(debug.Stack()),
	})
	*err = c.fail(op, fmt.Errorf("%s: internal error: %v", op, r))
}

func (c *Controller) publish(e events.Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
