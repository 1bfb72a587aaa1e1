package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/hotkeys"
)

const probeInterval = 2 * time.Second

// openEngine builds the engine and its event sinks from the loaded config.
func (a *app) openEngine(ctx context.Context) (*engine, error) {
	e, err := newEngine(ctx, a.cfg)
	if err != nil {
		return nil, err
	}
	if err := e.attachSinks(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// runServices runs the background pieces of a long-lived command until ctx
// ends: the watchdog, the stop hotkey, config hot reload and, when addr is
// set, the HTTP surface. A non-nil main runs alongside them; its return
// ends everything.
func (a *app) runServices(ctx context.Context, e *engine, addr string, main func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if addr != "" {
		srv := control.NewHTTPServer(e.ctrl, addr)
		g.Go(func() error { return srv.Run(ctx) })
	}

	wd := e.ctrl.NewWatchdog(e.bus, e.cfg.Loop.StallTimeout, probeInterval)
	g.Go(func() error {
		wd.Start(ctx)
		<-ctx.Done()
		wd.Stop()
		return nil
	})

	if key := e.cfg.Hotkeys.Stop; key != "" {
		l, err := hotkeys.New(key, func() { go a.stopFromHotkey(e) })
		if err != nil {
			return err
		}
		g.Go(func() error {
			err := l.Run(ctx)
			if err == nil || faults.IsUnsupported(err) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	a.loader.Watch(e.apply)

	if main != nil {
		g.Go(func() error {
			defer cancel()
			return main(ctx)
		})
	}
	return g.Wait()
}

func (a *app) stopFromHotkey(e *engine) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := e.ctrl.StopLoop(ctx)
	if err != nil {
		a.log.Error("Hotkey stop failed", err)
		return
	}
	a.log.InfoWithContext("Loop stopped by hotkey", map[string]interface{}{"status": res.Status})
}

// connectAndStart hooks target and optionally starts the loop.
func connectAndStart(ctx context.Context, e *engine, target, exe string, start bool) error {
	if target == "" {
		return nil
	}
	var err error
	if target == "foreground" {
		_, err = e.ctrl.ConnectForeground(ctx)
	} else {
		_, err = e.ctrl.Connect(ctx, target, exe)
	}
	if err != nil {
		return err
	}
	if start {
		_, err = e.ctrl.StartLoop(ctx)
	}
	return err
}

// addEngineFlags registers the overrides shared by engine commands.
func addEngineFlags(cmd *cobra.Command) {
	cmd.Flags().String("mode", "", "perception mode: hybrid or template")
	cmd.Flags().String("capture", "", "capture method: screen, gdi or adb")
	cmd.Flags().String("input", "", "input backend: native, serial or adb")
	cmd.Flags().String("templates", "", "template definition directory")
	cmd.Flags().String("notify-url", "", "webhook for detection and action events")
	cmd.Flags().String("stop-key", "", "global hotkey that stops the loop")
}
