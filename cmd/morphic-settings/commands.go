package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/stegru/morphic-windows/internal/bar"
	"github.com/stegru/morphic-windows/internal/settings"
	"github.com/stegru/morphic-windows/internal/snapshot"
)

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "morphic-settings",
		Short: "Morphic settings engine",
		Long:  "Reads, writes, captures and applies the settings described by Morphic solution definitions.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := rootCmd.PersistentFlags()
	f.StringVarP(&a.configPath, "config", "c", "", "Path to configuration file")
	f.StringVar(&a.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newListCmd(a),
		newGetCmd(a),
		newSetCmd(a),
		newIncCmd(a),
		newCaptureCmd(a),
		newApplyCmd(a),
		newPullCmd(a),
		newSnapshotsCmd(a),
		newWatchCmd(a),
		newBarCmd(a),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "morphic-settings %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

// --- Settings Commands ---

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [solution...]",
		Short: "List solutions and their settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadSolutions(false)
			if err != nil {
				return err
			}
			ids := args
			if len(ids) == 0 {
				ids = reg.IDs()
			}
			for _, id := range ids {
				sol, err := reg.Get(id)
				if err != nil {
					return err
				}
				printSolution(cmd.OutOrStdout(), sol)
			}
			return nil
		},
	}
}

func printSolution(w io.Writer, sol *settings.Solution) {
	fmt.Fprintln(w, sol.ID())
	for _, s := range sol.Settings() {
		line := fmt.Sprintf("  %-24s %-8s", s.ID(), s.DataType())
		if r := s.Range(); r != nil {
			line += fmt.Sprintf(" [%s .. %s step %d]", limitString(r.MinLimit()), limitString(r.MaxLimit()), r.Inc())
		}
		if s.Local() {
			line += " local"
		}
		if c := s.Changes(); c != nil {
			line += " changes=" + c.String()
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}

func limitString(l *settings.Limit) string {
	if l == nil {
		return "-"
	}
	return l.String()
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <solution/setting>...",
		Short: "Read settings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadSolutions(false)
			if err != nil {
				return err
			}
			for _, id := range args {
				s, err := reg.ResolveSetting(id)
				if err != nil {
					return err
				}
				v, ok := s.Lookup(cmd.Context())
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t<unavailable>\n", id)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", id, v)
			}
			return nil
		},
	}
}

func newSetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set <solution/setting> <value>",
		Short: "Write a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadSolutions(false)
			if err != nil {
				return err
			}
			s, err := reg.ResolveSetting(args[0])
			if err != nil {
				return err
			}
			v, ok := s.DataType().Coerce(args[1])
			if !ok {
				return errors.Errorf("%q is not a valid %s", args[1], s.DataType())
			}
			if !reg.ApplyValue(cmd.Context(), s.SettingID(), v) {
				// The cached value is the one that failed; show what the
				// store holds instead.
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", args[0], s.GetValue(cmd.Context()))
				return errors.Errorf("failed to set %s", args[0])
			}
			return nil
		},
	}
}

func newIncCmd(a *app) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "inc <solution/setting>",
		Short: "Step a ranged setting by its increment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadSolutions(false)
			if err != nil {
				return err
			}
			s, err := reg.ResolveSetting(args[0])
			if err != nil {
				return err
			}
			direction := 1
			if down {
				direction = -1
			}
			if !s.Increment(cmd.Context(), direction) {
				return errors.Errorf("%s cannot move further", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%v\n", args[0], s.CurrentValue())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&down, "down", "d", false, "Decrement instead of increment")
	return cmd
}

// --- Preference Set Commands ---

func newCaptureCmd(a *app) *cobra.Command {
	var (
		name         string
		out          string
		excludeLocal bool
		solutions    []string
	)
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture current settings into a snapshot or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadSolutions(false)
			if err != nil {
				return err
			}
			prefs, err := reg.Capture(cmd.Context(), settings.CaptureOptions{
				ExcludeLocal: excludeLocal,
				Solutions:    solutions,
			})
			if err != nil {
				return err
			}

			if out != "" {
				data, err := yaml.Marshal(prefs)
				if err != nil {
					return errors.Wrap(err, "encode preferences")
				}
				return errors.Wrapf(os.WriteFile(out, data, 0o644), "write %s", out)
			}

			store, err := a.snapshots()
			if err != nil {
				return err
			}
			snap, err := store.Save(name, prefs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d values\n", snap.ID, prefs.Len())
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&name, "name", "n", "capture", "Snapshot name")
	f.StringVarP(&out, "out", "o", "", "Write YAML to this file instead of a snapshot")
	f.BoolVar(&excludeLocal, "exclude-local", false, "Leave out settings local to this computer")
	f.StringSliceVarP(&solutions, "solution", "s", nil, "Capture only these solutions")
	return cmd
}

// readPreferences loads a preference set from a snapshot id or a YAML file.
func readPreferences(a *app, source string) (*settings.Preferences, error) {
	if _, err := os.Stat(source); err == nil {
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", source)
		}
		prefs := settings.NewPreferences()
		if err := yaml.Unmarshal(data, prefs); err != nil {
			return nil, errors.Wrapf(err, "decode %s", source)
		}
		return prefs, nil
	}

	store, err := a.snapshots()
	if err != nil {
		return nil, err
	}
	snap, err := store.Load(source)
	if err != nil {
		return nil, err
	}
	return snap.Preferences, nil
}

// applyWithBackup applies prefs and, unless noBackup is set, saves the
// values it replaced as a snapshot.
func applyWithBackup(cmd *cobra.Command, a *app, prefs *settings.Preferences, label string, noBackup bool) error {
	reg, err := a.loadSolutions(false)
	if err != nil {
		return err
	}

	if !noBackup {
		for _, sp := range prefs.Solutions {
			sp.Previous = settings.NewSolutionPreferences()
		}
	}

	ok := reg.Apply(cmd.Context(), prefs)

	if !noBackup {
		previous := settings.NewPreferences()
		for id, sp := range prefs.Solutions {
			if len(sp.Previous.Values) > 0 {
				previous.Solutions[id] = sp.Previous
			}
		}
		store, err := a.snapshots()
		if err != nil {
			return err
		}
		snap, err := store.Save("before "+label, previous)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "previous values saved as %s\n", snap.ID)
	}

	if !ok {
		return errors.New("some preferences could not be applied")
	}
	return nil
}

func newApplyCmd(a *app) *cobra.Command {
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "apply <snapshot-id|file.yaml>",
		Short: "Apply a snapshot or preference file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, err := readPreferences(a, args[0])
			if err != nil {
				return err
			}
			return applyWithBackup(cmd, a, prefs, args[0], noBackup)
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Do not snapshot the replaced values")
	return cmd
}

func newPullCmd(a *app) *cobra.Command {
	var noBackup bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Apply the community preferences from the preference server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.remoteClient()
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("no preference server configured (remote.baseUrl)")
			}
			prefs, err := client.Preferences(cmd.Context())
			if err != nil {
				return err
			}
			return applyWithBackup(cmd, a, prefs, "pull", noBackup)
		},
	}
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "Do not snapshot the replaced values")
	return cmd
}

// --- Snapshot Commands ---

func newSnapshotsCmd(a *app) *cobra.Command {
	snapshotsCmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.snapshots()
			if err != nil {
				return err
			}
			infos, err := store.List()
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), infos)
			return nil
		},
	}

	snapshotsCmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a snapshot as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.snapshots()
			if err != nil {
				return err
			}
			snap, err := store.Load(args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(snap.Preferences)
		},
	})

	snapshotsCmd.AddCommand(&cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.snapshots()
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := store.Delete(id); err != nil {
					return err
				}
			}
			return nil
		},
	})

	return snapshotsCmd
}

func printSnapshots(w io.Writer, infos []snapshot.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "no snapshots")
		return
	}
	for _, info := range infos {
		fmt.Fprintf(w, "%s  %s  %4d  %s\n", info.ID, info.CreatedAt.Local().Format("2006-01-02 15:04:05"), info.Values, info.Name)
	}
}

// --- Watch Commands ---

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <solution/setting>...",
		Short: "Print setting changes until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := a.loadSolutions(true)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var subs []*settings.Subscription
			defer func() {
				for _, sub := range subs {
					sub.Stop()
				}
			}()

			for _, id := range args {
				s, err := reg.ResolveSetting(id)
				if err != nil {
					return err
				}
				if s.Changes() == nil {
					return errors.Errorf("%s does not declare how changes are detected", id)
				}
				sub, err := s.OnChanged(func(ev settings.ChangeEvent) {
					fmt.Fprintf(out, "%s\t%v -> %v\n", ev.Setting.SettingID(), ev.OldValue, ev.NewValue)
				})
				if err != nil {
					return err
				}
				subs = append(subs, sub)
			}

			<-cmd.Context().Done()
			return nil
		},
	}
}

// --- Bar Commands ---

func newBarCmd(a *app) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "bar [path]",
		Short: "Show the bar and the values of the settings it controls",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Paths.Bar
			if len(args) == 1 {
				path = args[0]
			}

			// Bars render without settings when the definitions are unusable.
			reg, err := a.loadSolutions(false)
			if err != nil {
				a.log.Warn().Err(err).Msg("solutions unavailable")
			}

			out := cmd.OutOrStdout()
			m := a.barManager()
			m.OnLoaded(func(d *bar.Data) {
				printBar(cmd, out, d, reg)
			})
			if _, err := m.Load(path); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload and print the bar when its file changes")
	return cmd
}

func printBar(cmd *cobra.Command, w io.Writer, d *bar.Data, reg *settings.Solutions) {
	fmt.Fprintf(w, "%s (scale %.2g, overflow %s)\n", d.Title, d.Scale, d.Overflow)
	section := func(label string, items []*bar.Item) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(w, "%s:\n", label)
		for _, it := range items {
			line := fmt.Sprintf("  %-20s %-10s %s", it.ID, it.Kind, it.Label)
			if it.Setting != "" && reg != nil {
				if s, err := reg.ResolveSetting(it.Setting); err == nil {
					if v, ok := s.Lookup(cmd.Context()); ok {
						line += fmt.Sprintf(" = %v", v)
					}
				}
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
	}
	section("primary", d.PrimaryItems())
	section("secondary", d.SecondaryItems())
}
