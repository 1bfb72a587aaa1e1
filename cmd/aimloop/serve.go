package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/gui"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		target, exe string
		start       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine behind the HTTP control surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := connectAndStart(ctx, e, target, exe, start); err != nil {
				return err
			}
			return a.runServices(ctx, e, a.cfg.Server.Addr, nil)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default :5000)")
	cmd.Flags().StringVar(&target, "connect", "", "target to hook at startup (alias, exe, title or \"foreground\")")
	cmd.Flags().StringVar(&exe, "exe", "", "executable name used with --connect")
	cmd.Flags().BoolVar(&start, "start", false, "start the loop after --connect")
	addEngineFlags(cmd)
	return cmd
}

func (a *app) mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			e, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			srv := control.NewMCPServer(e.ctrl)
			return a.runServices(ctx, e, "", srv.Run)
		},
	}
	addEngineFlags(cmd)
	return cmd
}

func (a *app) guiCmd() *cobra.Command {
	var serveHTTP bool
	cmd := &cobra.Command{
		Use:   "gui",
		Short: "Open the desktop control panel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			e, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			fa := fyneapp.NewWithID("com.jordanella.aimloop")
			fa.Settings().SetTheme(&gui.PanelTheme{})
			win := fa.NewWindow("aimloop")
			win.Resize(gui.DefaultWindowSize)

			aliases := make([]string, 0, len(e.aliases))
			for name := range e.aliases {
				aliases = append(aliases, name)
			}
			sort.Strings(aliases)

			panel := gui.NewController(ctx, gui.Options{
				App:     fa,
				Window:  win,
				Control: e.ctrl,
				Bus:     e.bus,
				Aliases: aliases,
			})
			win.SetContent(panel.BuildUI())
			win.SetMaster()
			panel.Start()
			defer panel.Shutdown()

			addr := ""
			if serveHTTP {
				addr = a.cfg.Server.Addr
			}
			done := make(chan error, 1)
			closed := make(chan struct{})
			go func() {
				done <- a.runServices(ctx, e, addr, nil)
				select {
				case <-closed:
				default:
					// services ended first, e.g. on SIGINT
					fyne.Do(fa.Quit)
				}
			}()

			win.ShowAndRun()
			close(closed)
			cancel()
			return <-done
		},
	}
	cmd.Flags().BoolVar(&serveHTTP, "serve", false, "also run the HTTP control surface")
	cmd.Flags().String("addr", "", "listen address with --serve (default :5000)")
	addEngineFlags(cmd)
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		exe      string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Hook a target and run the loop until interrupted",
		Long: "Hook a target by alias, executable or title fragment (or \"foreground\") " +
			"and run the loop headless until Ctrl+C, the stop hotkey, or --duration.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := connectAndStart(ctx, e, args[0], exe, true); err != nil {
				return err
			}
			err = a.runServices(ctx, e, "", func(ctx context.Context) error {
				if duration > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, duration)
					defer cancel()
				}
				stopped := make(chan struct{})
				go func() {
					e.worker.Wait()
					close(stopped)
				}()
				select {
				case <-ctx.Done():
				case <-stopped:
				}
				return nil
			})

			st := e.ctrl.Status().Loop
			fmt.Fprintf(cmd.OutOrStdout(), "cycles=%d actions=%d misses=%d errors=%d\n",
				st.Cycles, st.Actions, st.Misses, st.Errors)
			return err
		},
	}
	cmd.Flags().StringVar(&exe, "exe", "", "executable name to match")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	addEngineFlags(cmd)
	return cmd
}
