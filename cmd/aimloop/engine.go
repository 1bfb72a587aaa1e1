package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"

	"jordanella.com/aimloop/internal/adb"
	"jordanella.com/aimloop/internal/config"
	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/database"
	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/input"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/loop"
	"jordanella.com/aimloop/internal/monitor"
	"jordanella.com/aimloop/internal/notify"
	"jordanella.com/aimloop/internal/platform"
	"jordanella.com/aimloop/internal/policy"
	"jordanella.com/aimloop/internal/tracker"
	"jordanella.com/aimloop/pkg/templates"
)

// engine is every long-lived component of one process, wired together.
type engine struct {
	cfg config.Config
	log *logging.Logger

	bus       *events.DefaultEventBus
	tracker   *tracker.Tracker
	synth     *input.Synthesizer
	policy    *policy.Policy
	worker    *loop.Worker
	ctrl      *control.Controller
	reporter  *logging.ErrorReporter
	templates *templates.Registry
	aliases   map[string][]string

	closers []func() error
}

// newEngine builds the engine. ctx outlives every request: the loop runs
// under it.
func newEngine(ctx context.Context, cfg config.Config) (_ *engine, err error) {
	e := &engine{
		cfg:      cfg,
		log:      logging.NewLogger("engine"),
		bus:      events.NewEventBus(1024),
		reporter: logging.NewErrorReporter(),
	}
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	e.aliases, err = config.LoadAliases(cfg.Tracker.AliasesFile)
	if err != nil {
		return nil, err
	}
	e.tracker = tracker.New(platform.Native())
	e.tracker.SetAliases(e.aliases)
	e.tracker.SetConfig(cfg.Tracker.Tracker())

	// The adb device is shared when both capture and input go through it.
	var dev *adb.Controller
	method, _ := cv.ParseCaptureMethod(cfg.Capture.Method)
	if method == cv.CaptureMethodADB || cfg.Input.Backend == "adb" {
		if dev, err = input.OpenADB(ctx, cfg.Input.ADB); err != nil {
			return nil, err
		}
		e.closers = append(e.closers, func() error { return dev.Disconnect(context.Background()) })
	}

	source, err := newFrameSource(method, dev, cfg.Input.ADB.TitleBar)
	if err != nil {
		return nil, err
	}

	var inj input.Injector
	if cfg.Input.Backend == "adb" {
		inj = input.NewADBInjector(dev, e.targetRect, cfg.Input.ADB.TitleBar)
	} else if inj, err = input.OpenBackend(ctx, cfg.Input, e.targetRect); err != nil {
		return nil, err
	}
	var opts []input.Option
	if cfg.Gamepad.Enabled {
		opts = append(opts, input.WithGamepadOpener(input.OpenGamepad))
	}
	e.synth = input.NewSynthesizer(inj, cfg.Input, opts...)
	e.closers = append(e.closers, e.synth.Close)

	e.templates = templates.NewRegistry(cfg.Perception.Template.Dir)
	e.loadTemplates(cfg.Perception.Template.Dir)

	e.policy = policy.New(cfg.Policy, rand.New(rand.NewSource(time.Now().UnixNano())))
	e.worker = loop.New(loop.Deps{
		Tracker:  e.tracker,
		Source:   source,
		Hybrid:   cv.NewHybridPipeline(cfg.Perception.Color, cfg.Perception.Hough),
		Template: e.templatePipeline(cfg.Perception.Template),
		Policy:   e.policy,
		Input:    e.synth,
		Bus:      e.bus,
		Reporter: e.reporter,
		Recovery: monitor.NewRecovery(),
	}, cfg.LoopConfig())

	e.ctrl = control.New(ctx, control.Options{
		Tracker:         e.tracker,
		Worker:          e.worker,
		Input:           e.synth,
		Bus:             e.bus,
		Reporter:        e.reporter,
		Preview:         cfg.Preview,
		ForegroundDelay: cfg.Tracker.ForegroundDelay,
		CaptureTimeout:  cfg.Capture.Timeout,
	})
	return e, nil
}

// attachSinks starts the subscribers that persist or forward events.
func (e *engine) attachSinks() error {
	el := logging.NewEventLogger(e.bus)
	e.closers = append(e.closers, el.Close)

	if e.cfg.Database.Enabled {
		db, err := database.OpenAndMigrate(e.cfg.Database.Path)
		if err != nil {
			return err
		}
		rec := database.NewRecorder(db, e.bus)
		e.closers = append(e.closers, db.Close, rec.Close)
	}

	if e.cfg.Notify.URL != "" {
		n, err := notify.New(e.cfg.Notify, e.bus, e.targetID)
		if err != nil {
			return err
		}
		e.closers = append(e.closers, func() error { n.Close(); return nil })
	}
	return nil
}

// apply pushes a reloaded configuration into the running components. Input
// backend, capture method and sinks need a restart.
func (e *engine) apply(cfg config.Config) {
	if cfg.Input.Backend != e.cfg.Input.Backend || cfg.Capture.Method != e.cfg.Capture.Method {
		e.log.Warn("Input backend or capture method changed; restart to apply")
	}
	e.policy.SetConfig(cfg.Policy)
	e.worker.SetConfig(cfg.LoopConfig())
	e.tracker.SetConfig(cfg.Tracker.Tracker())
	e.ctrl.SetPreview(cfg.Preview)
	e.ctrl.SetForegroundDelay(cfg.Tracker.ForegroundDelay)

	if aliases, err := config.LoadAliases(cfg.Tracker.AliasesFile); err != nil {
		e.log.ErrorWithContext("Keeping previous aliases", err, map[string]interface{}{"file": cfg.Tracker.AliasesFile})
	} else {
		e.aliases = aliases
		e.tracker.SetAliases(aliases)
	}

	if !cmp.Equal(cfg.Perception.Template, e.cfg.Perception.Template) {
		e.templates.UnloadAll()
		e.loadTemplates(cfg.Perception.Template.Dir)
		e.worker.SetTemplates(e.templatePipeline(cfg.Perception.Template))
	}
	e.cfg = cfg
}

func (e *engine) loadTemplates(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		e.log.DebugWithContext("No template directory", map[string]interface{}{"dir": dir})
		return
	}
	if err := e.templates.LoadFromDirectory(dir); err != nil {
		e.log.ErrorWithContext("Failed to load templates", err, map[string]interface{}{"dir": dir})
	}
}

func (e *engine) templatePipeline(cfg cv.TemplateConfig) *cv.Pipeline {
	return cv.NewPipeline(cv.NewTemplateDetector(e.templates, cfg))
}

func (e *engine) targetRect() platform.Rect {
	if t := e.tracker.Current(); t != nil {
		return t.Rect
	}
	return platform.Rect{}
}

func (e *engine) targetID() string {
	if t := e.tracker.Current(); t != nil {
		return t.ID
	}
	return ""
}

// Close stops the loop and releases everything in reverse order of opening.
func (e *engine) Close() {
	if e.worker != nil {
		e.worker.StopAndWait()
	}
	if e.bus != nil {
		e.bus.Stop()
	}
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Error("Shutdown step failed", err)
		}
	}
	e.closers = nil
}

func newFrameSource(method cv.CaptureMethod, dev *adb.Controller, titleBar int) (cv.FrameSource, error) {
	switch method {
	case cv.CaptureMethodScreen:
		return cv.NewScreenSource(), nil
	case cv.CaptureMethodGDI:
		return cv.NewGDISource()
	case cv.CaptureMethodADB:
		if dev == nil {
			return nil, fmt.Errorf("adb capture needs a device")
		}
		return cv.NewADBSource(dev, titleBar), nil
	}
	return nil, fmt.Errorf("unknown capture method %q", method)
}
