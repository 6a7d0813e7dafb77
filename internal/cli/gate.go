package cli

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/gating"
	"github.com/flywind2/t-cell-data/internal/report"
	"github.com/flywind2/t-cell-data/internal/store"
	"github.com/flywind2/t-cell-data/internal/workspace"
)

// GateResult summarizes one gating run for structured output.
type GateResult struct {
	SampleID    string                  `json:"sample_id"`
	Events      int                     `json:"events"`
	Populations []domain.PopulationStat `json:"populations"`
	LabelsFile  string                  `json:"labels_file,omitempty"`
	TableFile   string                  `json:"table_file,omitempty"`
	RunID       string                  `json:"run_id,omitempty"`
}

// NewGateCommand creates the gate command.
func NewGateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		templatePath  string
		workspacePath string
		samplePath    string
		compensate    bool
		transform     string
		outDir        string
		storePath     string
	)

	cmd := &cobra.Command{
		Use:   "gate <file.fcs>",
		Short: "Apply a gating strategy and report populations",
		Long: `Apply a gating template (CSV) or an imported workspace (XML) to an FCS
file. Writes per-cell labels and the population table into --out and
prints the population summary.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if templatePath == "" && workspacePath == "" {
				return NewExitError(ExitCommandError, "need --template or --workspace")
			}
			return runGate(rootOpts, gateParams{
				fcsPath:       args[0],
				templatePath:  templatePath,
				workspacePath: workspacePath,
				sampleName:    samplePath,
				compensate:    compensate,
				transform:     transform,
				outDir:        outDir,
				storePath:     storePath,
			}, cmd)
		},
	}
	cmd.Flags().StringVar(&templatePath, "template", "", "gating template CSV")
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "acquisition-software workspace XML")
	cmd.Flags().StringVar(&samplePath, "sample", "", "workspace sample name (default: first sample)")
	cmd.Flags().BoolVar(&compensate, "compensate", false, "apply the file's spillover matrix")
	cmd.Flags().StringVar(&transform, "transform", "logicle", "intensity transform (logicle|arcsinh|linear)")
	cmd.Flags().StringVar(&outDir, "out", "", "directory for labels and table files")
	cmd.Flags().StringVar(&storePath, "store", "", "also archive the run in this SQLite database")
	return cmd
}

type gateParams struct {
	fcsPath       string
	templatePath  string
	workspacePath string
	sampleName    string
	compensate    bool
	transform     string
	outDir        string
	storePath     string
}

func runGate(opts *RootOptions, p gateParams, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	file, err := loadFCS(p.fcsPath)
	if err != nil {
		return err
	}
	frame, err := prepareFrame(file, p.compensate, p.transform)
	if err != nil {
		return err
	}

	strategy, err := buildStrategy(p, frame, formatter)
	if err != nil {
		return err
	}
	labeling, err := strategy.Apply(frame)
	if err != nil {
		return WrapExitError(ExitFailure, "gating failed", err)
	}

	sampleID := domain.SampleID(filepath.Base(p.fcsPath), frame.Events(), frame.ChannelNames())
	channels := gateChannels(strategy)
	table, err := domain.BuildTable(sampleID, frame, labeling, channels)
	if err != nil {
		return WrapExitError(ExitFailure, "population table failed", err)
	}

	result := GateResult{
		SampleID:    sampleID,
		Events:      frame.Events(),
		Populations: table.Rows,
	}

	if p.outDir != "" {
		if err := os.MkdirAll(p.outDir, 0o755); err != nil {
			return WrapExitError(ExitCommandError, "cannot create output directory", err)
		}
		result.LabelsFile = filepath.Join(p.outDir, "labels.csv")
		if err := writeLabels(result.LabelsFile, labeling.Labels()); err != nil {
			return err
		}
		result.TableFile = filepath.Join(p.outDir, "populations.csv")
		tableOut, err := createFile(result.TableFile)
		if err != nil {
			return err
		}
		if err := report.CSV(tableOut, table); err != nil {
			tableOut.Close()
			return WrapExitError(ExitFailure, "cannot write population table", err)
		}
		if err := tableOut.Close(); err != nil {
			return WrapExitError(ExitCommandError, "cannot write population table", err)
		}
	}

	if p.storePath != "" {
		s, err := store.Open(p.storePath)
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot open store", err)
		}
		defer s.Close()
		run, err := s.SaveRun(cmd.Context(), store.Run{
			Source:     p.fcsPath,
			ConfigHash: domain.ConfigHash(p.templatePath, p.workspacePath, p.transform, strconv.FormatBool(p.compensate)),
		}, table)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot archive run", err)
		}
		result.RunID = run.ID
		formatter.VerboseLog("archived run %s", run.ID)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	sum := report.NewSummary(table)
	sum.Source = p.fcsPath
	return report.Markdown(cmd.OutOrStdout(), sum, table)
}

// buildStrategy resolves the strategy source: an explicit template or an
// imported workspace sample.
func buildStrategy(p gateParams, frame *domain.Frame, formatter *OutputFormatter) (*domain.Strategy, error) {
	if p.templatePath != "" {
		tpl, err := loadTemplate(p.templatePath)
		if err != nil {
			return nil, err
		}
		strategy, err := gating.Build(tpl, frame)
		if err != nil {
			return nil, WrapExitError(ExitFailure, "cannot build gates", err)
		}
		return strategy, nil
	}

	f, err := os.Open(p.workspacePath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open workspace", err)
	}
	defer f.Close()

	ws, err := workspace.Parse(f)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bad workspace", err)
	}
	for _, skip := range ws.Skipped {
		formatter.VerboseLog("workspace: skipped %s", skip)
	}

	var sample *workspace.Sample
	if p.sampleName != "" {
		s, ok := ws.Sample(p.sampleName)
		if !ok {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("workspace has no sample %q", p.sampleName))
		}
		sample = s
	} else {
		sample = ws.First()
		if sample == nil {
			return nil, NewExitError(ExitCommandError, "workspace has no samples")
		}
	}
	return sample.Strategy, nil
}

// gateChannels lists every channel any gate reads, for median columns.
func gateChannels(s *domain.Strategy) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.Populations() {
		g, ok := s.Gate(p)
		if !ok {
			continue
		}
		for _, d := range g.Dims() {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	return out
}

func writeLabels(path string, labels []string) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	cw.Write([]string{"event", "label"})
	for i, label := range labels {
		cw.Write([]string{strconv.Itoa(i), label})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return WrapExitError(ExitCommandError, "cannot write labels", err)
	}
	return f.Close()
}
