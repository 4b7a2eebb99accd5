package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"schoolsync/internal/history"
	"schoolsync/internal/syncer"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit  int
	Format string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", history.DefaultLimit, "number of runs to show")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	return cmd
}

func showHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	if opts.Format != "text" && opts.Format != "json" {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be json or text", opts.Format))
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history", err)
	}
	defer hist.Close()

	runs, err := hist.Recent(commandContext(cmd), opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	return writeRunsTable(w, runs)
}

func writeRunsTable(w io.Writer, runs []syncer.Report) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "no runs recorded")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tCREATED\tUPDATED\tFAILED\tDURATION\tRUN ID")
	for _, r := range runs {
		created, updated, failed := "-", "-", "-"
		if res := r.Result; res != nil {
			created = fmt.Sprint(res.TotalCreated)
			updated = fmt.Sprint(res.HomeworkUpdated + res.ExamUpdated)
			failed = fmt.Sprint(res.HomeworkFailed + res.ExamFailed + res.RemindersFailed)
			if res.DryRun {
				created += " (dry)"
			}
		}
		status := r.Status
		if r.Error != "" {
			status += ": " + r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			status, created, updated, failed,
			(time.Duration(r.DurationMS) * time.Millisecond).String(),
			r.RunID,
		)
	}
	return tw.Flush()
}
