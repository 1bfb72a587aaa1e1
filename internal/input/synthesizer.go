package input

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math/rand"
	"sync"
	"time"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/platform"
)

// Config holds input timing and backend selection.
type Config struct {
	Backend           string        `mapstructure:"backend"`
	PointerPath       PointerPath   `mapstructure:"pointer_path"`
	ClickHold         time.Duration `mapstructure:"click_hold"`
	KeyHold           time.Duration `mapstructure:"key_hold"`
	TypeDelay         time.Duration `mapstructure:"type_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Glide             bool          `mapstructure:"glide"`
	GlideMin          time.Duration `mapstructure:"glide_min"`
	GlideMax          time.Duration `mapstructure:"glide_max"`
	FocusBeforeAction bool          `mapstructure:"focus_before_action"`
	FocusSettle       time.Duration `mapstructure:"focus_settle"`
	Serial            SerialConfig  `mapstructure:"serial"`
	ADB               ADBConfig     `mapstructure:"adb"`
}

func DefaultConfig() Config {
	return Config{
		Backend:           "native",
		PointerPath:       PathBoth,
		ClickHold:         20 * time.Millisecond,
		KeyHold:           100 * time.Millisecond,
		TypeDelay:         50 * time.Millisecond,
		Timeout:           500 * time.Millisecond,
		GlideMin:          100 * time.Millisecond,
		GlideMax:          400 * time.Millisecond,
		FocusBeforeAction: true,
		FocusSettle:       100 * time.Millisecond,
		Serial:            SerialConfig{Baud: 115200},
		ADB:               ADBConfig{TitleBar: 0},
	}
}

const glideStep = 10 * time.Millisecond

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithGamepad installs an already-open virtual controller.
func WithGamepad(g Gamepad) Option {
	return func(s *Synthesizer) { s.pad = g }
}

// WithGamepadOpener opens the controller on first use.
func WithGamepadOpener(open func() (Gamepad, error)) Option {
	return func(s *Synthesizer) { s.openPad = open }
}

// WithRand fixes the random source used for glide timing.
func WithRand(r *rand.Rand) Option {
	return func(s *Synthesizer) { s.rng = r }
}

// Synthesizer executes intents one at a time and tracks everything it holds
// down so it can always return the devices to neutral.
type Synthesizer struct {
	inj Injector
	cfg Config

	mu  sync.Mutex // one intent at a time
	rng *rand.Rand

	stateMu  sync.Mutex
	keys     map[string]struct{}
	buttons  map[Button]struct{}
	pad      Gamepad
	padDirty bool
	openPad  func() (Gamepad, error)

	log *logging.Logger
}

func NewSynthesizer(inj Injector, cfg Config, opts ...Option) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PointerPath == "" {
		cfg.PointerPath = PathBoth
	}
	s := &Synthesizer{
		inj:     inj,
		cfg:     cfg,
		keys:    make(map[string]struct{}),
		buttons: make(map[Button]struct{}),
		log:     logging.NewLogger("input"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s
}

// Injector returns the backend in use.
func (s *Synthesizer) Injector() Injector {
	return s.inj
}

// Config returns the timing configuration.
func (s *Synthesizer) Config() Config {
	return s.cfg
}

// Execute performs one intent. rect is the tracked target's rectangle, used to
// resolve frame and normalized positions. It blocks for the intent's hold and
// returns with every key, button and stick released, whatever the outcome.
func (s *Synthesizer) Execute(ctx context.Context, in Intent, rect platform.Rect) (err error) {
	if err := in.Validate(); err != nil {
		return fmt.Errorf("invalid intent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if rerr := s.release(); rerr != nil {
			s.log.Error("Failed to release input", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	switch in.Kind {
	case KindPointerMove:
		return s.move(ctx, in, rect)
	case KindClick:
		return s.click(ctx, in, rect)
	case KindKeyTap:
		if in.Positional() {
			if err := s.move(ctx, in, rect); err != nil {
				return err
			}
		}
		return s.tap(ctx, in.Key, s.holdOr(in.Hold, s.cfg.KeyHold))
	case KindText:
		return s.typeText(ctx, in.Text)
	case KindStickDeflect:
		return s.stick(ctx, in)
	case KindGamepadButton:
		return s.padButton(ctx, in)
	}
	return fmt.Errorf("unknown intent kind %q", in.Kind)
}

func (s *Synthesizer) holdOr(h, def time.Duration) time.Duration {
	if h > 0 {
		return h
	}
	return def
}

// call runs one injector operation bounded by the input timeout.
func (s *Synthesizer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()
	select {
	case err := <-done:
		return actuation(op, err)
	case <-ctx.Done():
		return faults.New(faults.ErrActuation, faults.StageAct, op, ctx.Err())
	}
}

func actuation(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *faults.Error
	if errors.As(err, &fe) {
		return err
	}
	return faults.New(faults.ErrActuation, faults.StageAct, op, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Synthesizer) move(ctx context.Context, in Intent, rect platform.Rect) error {
	p, err := in.Resolve(rect)
	if err != nil {
		return faults.New(faults.ErrActuation, faults.StageAct, "move", err)
	}
	path := in.Path
	if path == "" {
		path = s.cfg.PointerPath
	}
	if s.cfg.Glide {
		if err := s.glide(ctx, p, path); err != nil {
			return err
		}
	}
	return s.call(ctx, "move", func(ctx context.Context) error { return s.inj.MoveTo(ctx, p, path) })
}

// glide walks the cursor toward p along an ease-out curve. The final exact
// move is left to the caller.
func (s *Synthesizer) glide(ctx context.Context, p image.Point, path PointerPath) error {
	loc, ok := s.inj.(Locator)
	if !ok {
		return nil
	}
	var from image.Point
	if err := s.call(ctx, "position", func(ctx context.Context) error {
		var err error
		from, err = loc.Position(ctx)
		return err
	}); err != nil {
		return err
	}

	d := s.cfg.GlideMin
	if span := s.cfg.GlideMax - s.cfg.GlideMin; span > 0 {
		d += time.Duration(s.rng.Int63n(int64(span)))
	}
	steps := int(d / glideStep)
	for i := 1; i < steps; i++ {
		t := float64(i) / float64(steps)
		e := t * (2 - t) // ease-out quad
		at := image.Pt(
			from.X+int(float64(p.X-from.X)*e),
			from.Y+int(float64(p.Y-from.Y)*e),
		)
		if err := s.call(ctx, "glide", func(ctx context.Context) error { return s.inj.MoveTo(ctx, at, path) }); err != nil {
			return err
		}
		if err := sleep(ctx, glideStep); err != nil {
			return faults.New(faults.ErrActuation, faults.StageAct, "glide", err)
		}
	}
	return nil
}

func (s *Synthesizer) click(ctx context.Context, in Intent, rect platform.Rect) error {
	button := in.buttonOr()
	hold := s.holdOr(in.Hold, s.cfg.ClickHold)

	if c, ok := s.inj.(Clicker); ok {
		if in.Key != "" {
			if err := s.tap(ctx, in.Key, hold); err != nil {
				return err
			}
		}
		p, err := in.Resolve(rect)
		if err != nil {
			return faults.New(faults.ErrActuation, faults.StageAct, "click", err)
		}
		return s.call(ctx, "click", func(ctx context.Context) error { return c.ClickAt(ctx, p, button, hold) })
	}

	if in.Positional() {
		if err := s.move(ctx, in, rect); err != nil {
			return err
		}
	}
	if in.Key != "" {
		if err := s.tap(ctx, in.Key, hold); err != nil {
			return err
		}
	}

	s.hold(func() { s.buttons[button] = struct{}{} })
	if err := s.call(ctx, "button_down", func(ctx context.Context) error { return s.inj.ButtonDown(ctx, button) }); err != nil {
		return err
	}
	if err := sleep(ctx, hold); err != nil {
		return faults.New(faults.ErrActuation, faults.StageAct, "click", err)
	}
	err := s.call(ctx, "button_up", func(ctx context.Context) error { return s.inj.ButtonUp(ctx, button) })
	if err == nil {
		s.hold(func() { delete(s.buttons, button) })
	}
	return err
}

func (s *Synthesizer) tap(ctx context.Context, key string, hold time.Duration) error {
	key = KeyName(key)
	s.hold(func() { s.keys[key] = struct{}{} })
	if err := s.call(ctx, "key_down", func(ctx context.Context) error { return s.inj.KeyDown(ctx, key) }); err != nil {
		return err
	}
	if err := sleep(ctx, hold); err != nil {
		return faults.New(faults.ErrActuation, faults.StageAct, "key", err)
	}
	err := s.call(ctx, "key_up", func(ctx context.Context) error { return s.inj.KeyUp(ctx, key) })
	if err == nil {
		s.hold(func() { delete(s.keys, key) })
	}
	return err
}

func (s *Synthesizer) typeText(ctx context.Context, text string) error {
	typer, direct := s.inj.(Typer)
	runes := []rune(text)
	for i, r := range runes {
		if i > 0 {
			if err := sleep(ctx, s.cfg.TypeDelay); err != nil {
				return faults.New(faults.ErrActuation, faults.StageAct, "text", err)
			}
		}
		if direct {
			if err := s.call(ctx, "text", func(ctx context.Context) error { return typer.TypeRune(ctx, r) }); err != nil {
				return err
			}
			continue
		}
		if err := s.tap(ctx, string(r), 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synthesizer) gamepad() (Gamepad, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.pad != nil {
		return s.pad, nil
	}
	if s.openPad == nil {
		return nil, faults.Unsupported("gamepad", "virtual gamepad is disabled")
	}
	pad, err := s.openPad()
	if err != nil {
		return nil, err
	}
	s.pad = pad
	return pad, nil
}

func (s *Synthesizer) stick(ctx context.Context, in Intent) error {
	pad, err := s.gamepad()
	if err != nil {
		return err
	}
	s.hold(func() { s.padDirty = true })
	if err := s.call(ctx, "stick", func(context.Context) error {
		return pad.SetStick(in.Stick, Axis(in.Deflect.X), Axis(in.Deflect.Y))
	}); err != nil {
		return err
	}
	if err := sleep(ctx, s.holdOr(in.Hold, s.cfg.KeyHold)); err != nil {
		return faults.New(faults.ErrActuation, faults.StageAct, "stick", err)
	}
	return nil
}

func (s *Synthesizer) padButton(ctx context.Context, in Intent) error {
	pad, err := s.gamepad()
	if err != nil {
		return err
	}
	s.hold(func() { s.padDirty = true })
	if err := s.call(ctx, "gamepad_button", func(context.Context) error { return pad.SetButton(in.Pad, true) }); err != nil {
		return err
	}
	if err := sleep(ctx, s.holdOr(in.Hold, s.cfg.KeyHold)); err != nil {
		return faults.New(faults.ErrActuation, faults.StageAct, "gamepad_button", err)
	}
	return nil
}

func (s *Synthesizer) hold(f func()) {
	s.stateMu.Lock()
	f()
	s.stateMu.Unlock()
}

// release lifts everything still held. It uses its own deadline so a cancelled
// intent still gets its keys released.
func (s *Synthesizer) release() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	s.stateMu.Lock()
	buttons := make([]Button, 0, len(s.buttons))
	for b := range s.buttons {
		buttons = append(buttons, b)
	}
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	pad, padDirty := s.pad, s.padDirty
	s.stateMu.Unlock()

	var errs []error
	for _, b := range buttons {
		if err := s.call(ctx, "button_up", func(ctx context.Context) error { return s.inj.ButtonUp(ctx, b) }); err != nil {
			errs = append(errs, err)
			continue
		}
		s.hold(func() { delete(s.buttons, b) })
	}
	for _, k := range keys {
		if err := s.call(ctx, "key_up", func(ctx context.Context) error { return s.inj.KeyUp(ctx, k) }); err != nil {
			errs = append(errs, err)
			continue
		}
		s.hold(func() { delete(s.keys, k) })
	}
	if padDirty && pad != nil {
		if err := s.call(ctx, "gamepad_neutral", func(context.Context) error { return pad.Neutral() }); err != nil {
			errs = append(errs, err)
		} else {
			s.hold(func() { s.padDirty = false })
		}
	}
	return errors.Join(errs...)
}

// Reset force-releases everything the synthesizer holds. It does not wait for
// a running intent, so it can be used as an emergency stop.
func (s *Synthesizer) Reset() error {
	return s.release()
}

// Neutral reports whether no key, button or stick is held.
func (s *Synthesizer) Neutral() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if len(s.keys) > 0 || len(s.buttons) > 0 || s.padDirty {
		return false
	}
	return s.pad == nil || s.pad.State().Neutral()
}

// Close releases all input and closes the gamepad and injector.
func (s *Synthesizer) Close() error {
	errs := []error{s.Reset()}
	s.stateMu.Lock()
	pad := s.pad
	s.pad = nil
	s.stateMu.Unlock()
	if pad != nil {
		errs = append(errs, pad.Close())
	}
	if c, ok := s.inj.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
