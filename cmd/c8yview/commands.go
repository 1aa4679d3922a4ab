package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/five82/c8yview/internal/actions"
	"github.com/five82/c8yview/internal/app"
	"github.com/five82/c8yview/internal/entity"
	"github.com/five82/c8yview/internal/pipeline"
)

type rootFlags struct {
	configPath  string
	prefsPath   string
	workspace   string
	logPath     string
	metricsAddr string
	poll        time.Duration
}

func (f *rootFlags) options() app.Options {
	return app.Options{
		ConfigPath:  f.configPath,
		PrefsPath:   f.prefsPath,
		Workspace:   f.workspace,
		LogPath:     f.logPath,
		MetricsAddr: f.metricsAddr,
		PollEvery:   f.poll,
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "c8yview",
		Short: "Browse Cumulocity EPL apps, alarms and alarm types",
		Long: `c8yview keeps a local view of a Cumulocity tenant's EPL applications,
alarms and alarm types, mirrors EPL sources into the workspace and opens
entities in $EDITOR. Without a subcommand it starts the terminal UI.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.Run(cmd.Context(), flags.options())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.config/c8yview/config.toml)")
	pf.StringVar(&flags.prefsPath, "prefs", "", "UI preferences file (default ~/.config/c8yview/prefs.toml)")
	pf.StringVar(&flags.workspace, "workspace", "", "workspace holding the .eplapps mirror (default mirror.workspace or the current directory)")
	pf.StringVar(&flags.logPath, "log", "", `log file, "-" for stderr (default log.path)`)
	root.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	root.Flags().DurationVar(&flags.poll, "poll", 0, "periodic refresh interval (default ui.refresh_interval, 0 disables)")

	root.AddCommand(
		newRefreshCmd(flags),
		newListCmd(flags),
		newOpenCmd(flags),
		newToggleCmd(flags),
		newUploadCmd(flags),
		newLoginCmd(flags),
	)
	return root
}

// withApp runs fn against a wired App for one-shot commands.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(*app.App) error) error {
	opts := flags.options()
	if opts.LogPath == "" {
		opts.LogPath = "-"
	}
	a, err := app.New(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRefreshCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [collection]",
		Short: "Refresh one collection, or all of them",
		Example: `  c8yview refresh
  c8yview refresh alarms`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app.App) error {
				var results []pipeline.Result
				if len(args) == 0 {
					results = a.Router.RefreshAll(cmd.Context())
				} else {
					res, err := a.Router.Refresh(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					results = []pipeline.Result{res}
				}
				return printResults(cmd.OutOrStdout(), results)
			})
		},
	}
}

func printResults(w io.Writer, results []pipeline.Result) error {
	failed := 0
	for _, res := range results {
		switch {
		case res.Err != nil:
			failed++
			fmt.Fprintf(w, "%-12s failed: %v\n", res.Collection, res.Err)
		case res.Outcome == pipeline.OutcomeDisabled:
			fmt.Fprintf(w, "%-12s disabled\n", res.Collection)
		default:
			fmt.Fprintf(w, "%-12s %d entries, %d skipped (gen %d, %s)\n",
				res.Collection, res.Count, res.Skipped, res.Seq, res.Took.Round(time.Millisecond))
			if res.MirrorFailures > 0 {
				fmt.Fprintf(w, "%-12s %d mirror writes failed\n", "", res.MirrorFailures)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d collections failed to refresh", failed, len(results))
	}
	return nil
}

func newListCmd(flags *rootFlags) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list <collection>",
		Short: "Refresh a collection and list its entities",
		Example: `  c8yview list alarms
  c8yview list eplapps --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app.App) error {
				h, err := a.Router.Collection(args[0])
				if err != nil {
					return err
				}
				if res := h.Refresh(cmd.Context()); res.Err != nil {
					return fmt.Errorf("refresh %s: %w", h.Name(), res.Err)
				}
				view := h.View()
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), view.Nodes)
				}
				if !view.Enabled {
					fmt.Fprintf(cmd.OutOrStdout(), "%s is disabled. Run 'c8yview toggle %s' to enable it.\n", h.Title(), h.Name())
					return nil
				}
				if len(view.Nodes) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s.\n", h.Title())
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(view.Nodes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

type nodeJSON struct {
	Key         string   `json:"key"`
	Label       string   `json:"label"`
	Kind        string   `json:"kind"`
	Status      string   `json:"status,omitempty"`
	Description string   `json:"description,omitempty"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

func writeJSON(w io.Writer, nodes []entity.Node) error {
	out := make([]nodeJSON, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, nodeJSON{
			Key:         n.Key(),
			Label:       n.Label(),
			Kind:        n.Kind().String(),
			Status:      n.Status(),
			Description: n.Description(),
			Errors:      n.Errors(),
			Warnings:    n.Warnings(),
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func renderTable(nodes []entity.Node) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderColumn(false).
		BorderRow(false).
		BorderLeft(false).
		BorderRight(false).
		BorderTop(false).
		BorderBottom(false).
		Headers("KEY", "LABEL", "STATUS", "DESCRIPTION").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, n := range nodes {
		desc := n.Description()
		if len(n.Errors()) > 0 {
			desc = "✗ " + n.Errors()[0]
		}
		t.Row(n.Key(), n.Label(), n.Status(), desc)
	}
	return t.String()
}

func newOpenCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "open <collection> <key>",
		Short: "Open an entity in $EDITOR",
		Long: `Refreshes the collection, then opens the entity with the given key.
EPL applications open their mirror file in the workspace; alarms and alarm
types open a JSON copy of their record.`,
		Example: `  c8yview open eplapps 12345
  c8yview open alarms 6789`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app.App) error {
				res, err := a.Router.Refresh(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if res.Err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: refresh failed, using last known data: %v\n", res.Err)
				}
				_, err = a.Router.OpenEntity(cmd.Context(), args[0], args[1])
				return err
			})
		},
	}
}

func newToggleCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <collection>",
		Short: "Enable or disable a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app.App) error {
				out := a.Router.Dispatch(cmd.Context(), actions.Trigger{Name: actions.TriggerToggleEnabled, Collection: args[0]})
				if out.Err != nil {
					return out.Err
				}
				a.Router.Wait()
				fmt.Fprintln(cmd.OutOrStdout(), out.Message)
				return nil
			})
		},
	}
}

func newUploadCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.mon>",
		Short: "Upload an EPL file as a new active application",
		Long: `Creates an active EPL application from a .mon file. The application is
named after the file, without its extension.`,
		Example: `  c8yview upload .eplapps/Thermostat.mon`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, flags, func(a *app.App) error {
				if err := a.Router.UploadEntity(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s.\n", args[0])
				return nil
			})
		},
	}
}

func newLoginCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login [collection]",
		Short: "Check that the tenant accepts the configured credentials",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withApp(cmd, flags, func(a *app.App) error {
				if err := a.Router.CheckConnection(cmd.Context(), name); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Connection ok.")
				return nil
			})
		},
	}
}
