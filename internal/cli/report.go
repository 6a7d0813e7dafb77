package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flywind2/t-cell-data/internal/report"
	"github.com/flywind2/t-cell-data/internal/store"
)

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		storePath   string
		runID       string
		historyPath string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render tables from archived runs",
		Long: `Read the run archive: list recent runs, print one run's population
table (--run), or trace one population across runs (--history).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				return NewExitError(ExitCommandError, "need --store")
			}
			return runReport(rootOpts, storePath, runID, historyPath, limit, cmd)
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "", "SQLite run archive")
	cmd.Flags().StringVar(&runID, "run", "", "print this run's population table")
	cmd.Flags().StringVar(&historyPath, "history", "", "trace this population path across runs")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list (0 lists all)")
	return cmd
}

func runReport(opts *RootOptions, storePath, runID, historyPath string, limit int, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	s, err := store.Open(storePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open store", err)
	}
	defer s.Close()

	switch {
	case runID != "":
		run, table, err := s.GetRun(cmd.Context(), runID)
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot load run", err)
		}
		if formatter.JSON() {
			return formatter.Success(map[string]any{"run": runInfoMap(run), "table": table})
		}
		sum := report.Summary{
			SampleID:    run.SampleID,
			Events:      run.Events,
			Source:      run.Source,
			ProcessedAt: run.CreatedAt,
		}
		return report.Markdown(cmd.OutOrStdout(), sum, table)

	case historyPath != "":
		points, err := s.PopulationHistory(cmd.Context(), historyPath)
		if err != nil {
			return WrapExitError(ExitFailure, "history query failed", err)
		}
		if formatter.JSON() {
			return formatter.Success(points)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tSAMPLE\tCOUNT\t% TOTAL\t% PARENT")
		for _, p := range points {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\t%.4f\n",
				p.CreatedAt.UTC().Format(time.RFC3339), p.SampleID, p.Count, p.FreqTotal, p.FreqParent)
		}
		return tw.Flush()

	default:
		runs, err := s.ListRuns(cmd.Context(), limit)
		if err != nil {
			return WrapExitError(ExitFailure, "list failed", err)
		}
		if formatter.JSON() {
			infos := make([]map[string]any, len(runs))
			for i, run := range runs {
				infos[i] = runInfoMap(run)
			}
			return formatter.Success(infos)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSAMPLE\tEVENTS\tCREATED\tSOURCE")
		for _, run := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
				run.ID, run.SampleID, run.Events, run.CreatedAt.UTC().Format(time.RFC3339), run.Source)
		}
		return tw.Flush()
	}
}

func runInfoMap(run store.Run) map[string]any {
	return map[string]any{
		"id":          run.ID,
		"sample_id":   run.SampleID,
		"events":      run.Events,
		"source":      run.Source,
		"created_at":  run.CreatedAt.UTC().Format(time.RFC3339),
		"config_hash": run.ConfigHash,
	}
}
