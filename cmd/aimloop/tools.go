package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"jordanella.com/aimloop/internal/config"
	"jordanella.com/aimloop/internal/database"
	"jordanella.com/aimloop/internal/platform"
)

func (a *app) snapshotCmd() *cobra.Command {
	var exe, out string
	cmd := &cobra.Command{
		Use:   "snapshot <target>",
		Short: "Capture the target window to a JPEG preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := newEngine(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := connectAndStart(ctx, e, args[0], exe, false); err != nil {
				return err
			}
			p, err := e.ctrl.Snapshot(ctx)
			if err != nil {
				return err
			}
			raw, err := base64.StdEncoding.DecodeString(p.Image)
			if err != nil {
				return fmt.Errorf("invalid preview encoding: %w", err)
			}
			if err := os.WriteFile(out, raw, 0o644); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d)\n", out, p.Width, p.Height)
			return nil
		},
	}
	cmd.Flags().StringVar(&exe, "exe", "", "executable name to match")
	cmd.Flags().StringVarP(&out, "output", "o", "snapshot.jpg", "output file")
	cmd.Flags().String("capture", "", "capture method: screen, gdi or adb")
	return cmd
}

func (a *app) windowsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "windows",
		Short: "List visible top-level windows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			windows, err := platform.Native().Windows()
			if err != nil {
				return err
			}
			return printWindows(cmd.OutOrStdout(), windows, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// printWindows writes titled windows as a table or JSON.
func printWindows(w io.Writer, windows []platform.Window, asJSON bool) error {
	titled := windows[:0:0]
	for _, win := range windows {
		if strings.TrimSpace(win.Title) != "" {
			titled = append(titled, win)
		}
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(titled)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "HANDLE\tPROCESS\tRECT\tTITLE")
	for _, win := range titled {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", win.Handle, win.Process, win.Rect, win.Title)
	}
	return tw.Flush()
}

func (a *app) launchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "launch <path-or-url>",
		Short: "Start a program, shortcut or URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := platform.Launch(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "launched %s\n", args[0])
			return nil
		},
	}
}

func (a *app) aliasesCmd() *cobra.Command {
	var file string
	aliasFile := func() (string, error) {
		if file != "" {
			return file, nil
		}
		if a.cfg.Tracker.AliasesFile != "" {
			return a.cfg.Tracker.AliasesFile, nil
		}
		return "", errors.New("no alias file: set tracker.aliases_file or pass --file")
	}

	cmd := &cobra.Command{
		Use:   "aliases",
		Short: "Show the alias table used to resolve target ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := file
			if path == "" {
				path = a.cfg.Tracker.AliasesFile
			}
			aliases, err := config.LoadAliases(path)
			if err != nil {
				return err
			}
			return printAliases(cmd.OutOrStdout(), aliases)
		},
	}
	cmd.PersistentFlags().StringVar(&file, "file", "", "alias file to edit (default tracker.aliases_file)")

	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <term>...",
		Short: "Add or replace an alias; terms are tried in order",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := aliasFile()
			if err != nil {
				return err
			}
			aliases, err := loadAliasesForEdit(path)
			if err != nil {
				return err
			}
			aliases[strings.ToLower(args[0])] = args[1:]
			return config.SaveAliases(path, aliases)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Remove an alias from the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := aliasFile()
			if err != nil {
				return err
			}
			aliases, err := loadAliasesForEdit(path)
			if err != nil {
				return err
			}
			name := strings.ToLower(args[0])
			if _, ok := aliases[name]; !ok {
				return fmt.Errorf("no alias %q", name)
			}
			delete(aliases, name)
			return config.SaveAliases(path, aliases)
		},
	})
	return cmd
}

// loadAliasesForEdit reads path, or the built-in table when it does not exist yet.
func loadAliasesForEdit(path string) (map[string][]string, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return config.LoadAliases("")
	}
	return config.LoadAliases(path)
}

func printAliases(w io.Writer, aliases map[string][]string) error {
	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "%s\t%s\n", name, strings.Join(aliases[name], ", "))
	}
	return tw.Flush()
}

func (a *app) historyCmd() *cobra.Command {
	var limit int
	open := func() (*database.DB, error) {
		return database.OpenAndMigrate(a.cfg.Database.Path)
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded sessions, actions and errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := db.GetStats()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, table := range []string{"sessions", "actions", "cycle_errors"} {
				fmt.Fprintf(tw, "%s\t%d\n", table, stats[table])
			}
			return tw.Flush()
		},
	}
	cmd.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "rows to show")

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "List recent sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := db.ListSessions(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTARGET\tSTARTED\tENDED\tTITLE")
			for _, s := range sessions {
				ended := "-"
				if s.EndedAt != nil {
					ended = s.EndedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.TargetID, s.StartedAt.Format("2006-01-02 15:04:05"), ended, s.Title)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "actions",
		Short: "List recent actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			actions, err := db.RecentActions(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tKIND\tPOS\tKEY\tDETECTOR\tSCORE")
			for _, act := range actions {
				fmt.Fprintf(tw, "%s\t%s\t(%d, %d)\t%s\t%s\t%.2f\n",
					act.CreatedAt.Format("15:04:05"), act.Kind, act.X, act.Y, act.Key, act.Detector, act.Score)
			}
			return tw.Flush()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "errors",
		Short: "List recent cycle errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			errs, err := db.GetRecentErrors(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSTAGE\tKIND\tMESSAGE")
			for _, ce := range errs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ce.OccurredAt.Format("15:04:05"), ce.Stage, ce.Kind, ce.Message)
			}
			return tw.Flush()
		},
	})
	return cmd
}

func (a *app) configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := yaml.Marshal(a.loader.Viper().AllSettings())
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			if f := a.loader.File(); f != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", f)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
