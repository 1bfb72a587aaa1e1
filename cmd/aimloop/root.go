package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"jordanella.com/aimloop/internal/config"
	"jordanella.com/aimloop/internal/logging"
	"jordanella.com/aimloop/internal/platform"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// flagKeys maps command-line flags onto config keys. A flag overrides the
// file and environment only when it is given.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"addr":       "server.addr",
	"mode":       "loop.mode",
	"capture":    "capture.method",
	"input":      "input.backend",
	"notify-url": "notify.url",
	"stop-key":   "hotkeys.stop",
	"templates":  "perception.template.dir",
}

type app struct {
	cfgFile string
	loader  *config.Loader
	cfg     config.Config
	log     *logging.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:               "aimloop",
		Short:             "Closed-loop screen automation: find targets on screen and act on them",
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./aimloop.yaml or ~/.aimloop/aimloop.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.serveCmd(),
		a.mcpCmd(),
		a.guiCmd(),
		a.runCmd(),
		a.snapshotCmd(),
		a.windowsCmd(),
		a.launchCmd(),
		a.aliasesCmd(),
		a.historyCmd(),
		a.configCmd(),
	)
	return root
}

// setup loads configuration, applies flag overrides and starts logging.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	loader, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	v := loader.Viper()
	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("failed to bind --%s: %w", name, err)
			}
		}
	}
	cfg, err := loader.Reload()
	if err != nil {
		return err
	}
	a.loader, a.cfg = loader, cfg

	// stdout carries the MCP protocol
	console := zapcore.Lock(os.Stdout)
	if cmd.Name() == "mcp" {
		console = zapcore.Lock(os.Stderr)
	}
	logging.InitializeWith(cfg.Log, console)
	a.log = logging.NewLogger("main")
	a.log.DebugWithContext("Configuration loaded", map[string]interface{}{
		"version": version,
		"command": cmd.Name(),
		"file":    loader.File(),
	})

	if runtime.GOOS == "windows" && !platform.IsElevated() {
		a.log.Warn("Not running as administrator; input to elevated windows will be dropped by Windows")
	}
	return nil
}
