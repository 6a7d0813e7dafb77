package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flywind2/t-cell-data/internal/report"
	"github.com/flywind2/t-cell-data/internal/store"
)

// Workflow is the YAML description of a full analysis: which file to
// analyze and which stages to run. Absent stages are skipped.
type Workflow struct {
	Sample     string `yaml:"sample"`
	Out        string `yaml:"out"`
	Compensate bool   `yaml:"compensate"`
	Transform  string `yaml:"transform"`
	Seed       int64  `yaml:"seed"`

	Fetch *struct {
		Accession string `yaml:"accession"`
		BaseURL   string `yaml:"base_url"`
	} `yaml:"fetch"`

	Gate *struct {
		Template  string `yaml:"template"`
		Workspace string `yaml:"workspace"`
	} `yaml:"gate"`

	Cluster *struct {
		Channels []string `yaml:"channels"`
		Grid     string   `yaml:"grid"`
		K        int      `yaml:"k"`
		Epochs   int      `yaml:"epochs"`
	} `yaml:"cluster"`

	Embed *struct {
		Channels  []string `yaml:"channels"`
		Neighbors int      `yaml:"neighbors"`
		MaxEvents int      `yaml:"max_events"`
	} `yaml:"embed"`

	Plots []struct {
		X string `yaml:"x"`
		Y string `yaml:"y"`
	} `yaml:"plots"`

	Store string `yaml:"store"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Run a full analysis workflow",
		Long: `Execute an analysis workflow from a YAML file: fetch, gate, cluster,
embed, plot, report, and archive, in that order, skipping stages the
file leaves out.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func loadWorkflow(path string) (*Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot read workflow", err)
	}
	var wf Workflow
	if err := yaml.Unmarshal(raw, &wf); err != nil {
		return nil, WrapExitError(ExitCommandError, "bad workflow", err)
	}
	if wf.Sample == "" && wf.Fetch == nil {
		return nil, NewExitError(ExitCommandError, "workflow needs a sample or a fetch stage")
	}
	if wf.Out == "" {
		wf.Out = "."
	}
	if wf.Transform == "" {
		wf.Transform = "logicle"
	}
	if wf.Seed == 0 {
		wf.Seed = 1
	}
	return &wf, nil
}

func runWorkflow(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	wf, err := loadWorkflow(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(wf.Out, 0o755); err != nil {
		return WrapExitError(ExitCommandError, "cannot create output directory", err)
	}

	samplePath := wf.Sample
	if wf.Fetch != nil {
		formatter.VerboseLog("stage fetch: %s", wf.Fetch.Accession)
		baseURL := wf.Fetch.BaseURL
		if baseURL == "" {
			baseURL = "https://flowrepository.org/api"
		}
		fetched, err := fetchDataset(opts, wf.Fetch.Accession, baseURL, wf.Out, cmd)
		if err != nil {
			return err
		}
		if samplePath == "" {
			samplePath = firstFCS(fetched)
			if samplePath == "" {
				return NewExitError(ExitFailure, "fetched dataset has no FCS files")
			}
		}
	}

	artifacts := []string{}

	if wf.Gate != nil {
		formatter.VerboseLog("stage gate: %s", samplePath)
		if err := runGate(opts, gateParams{
			fcsPath:       samplePath,
			templatePath:  wf.Gate.Template,
			workspacePath: wf.Gate.Workspace,
			compensate:    wf.Compensate,
			transform:     wf.Transform,
			outDir:        wf.Out,
			storePath:     wf.Store,
		}, cmd); err != nil {
			return err
		}
		artifacts = append(artifacts,
			filepath.Join(wf.Out, "labels.csv"),
			filepath.Join(wf.Out, "populations.csv"))
	}

	if wf.Cluster != nil {
		formatter.VerboseLog("stage cluster: %v", wf.Cluster.Channels)
		grid := wf.Cluster.Grid
		if grid == "" {
			grid = "10x10"
		}
		w, h, err := parseGrid(grid)
		if err != nil {
			return err
		}
		k := wf.Cluster.K
		if k == 0 {
			k = 8
		}
		if err := runCluster(opts, clusterParams{
			fcsPath:    samplePath,
			channels:   strings.Join(wf.Cluster.Channels, ","),
			width:      w,
			height:     h,
			k:          k,
			epochs:     wf.Cluster.Epochs,
			seed:       wf.Seed,
			compensate: wf.Compensate,
			transform:  wf.Transform,
			outDir:     wf.Out,
		}, cmd); err != nil {
			return err
		}
		artifacts = append(artifacts,
			filepath.Join(wf.Out, "assignments.csv"),
			filepath.Join(wf.Out, "som_graph.json"),
			filepath.Join(wf.Out, "som_tree.png"))
	}

	if wf.Embed != nil {
		formatter.VerboseLog("stage embed: %v", wf.Embed.Channels)
		neighbors := wf.Embed.Neighbors
		if neighbors == 0 {
			neighbors = 15
		}
		if err := runEmbed(opts, embedParams{
			fcsPath:    samplePath,
			channels:   strings.Join(wf.Embed.Channels, ","),
			neighbors:  neighbors,
			seed:       wf.Seed,
			maxEvents:  wf.Embed.MaxEvents,
			compensate: wf.Compensate,
			transform:  wf.Transform,
			outDir:     wf.Out,
		}, cmd); err != nil {
			return err
		}
		artifacts = append(artifacts,
			filepath.Join(wf.Out, "embedding.csv"),
			filepath.Join(wf.Out, "embedding.png"))
	}

	for i, pl := range wf.Plots {
		formatter.VerboseLog("stage plot: %s vs %s", pl.X, pl.Y)
		outPath := filepath.Join(wf.Out, fmt.Sprintf("scatter_%d.png", i+1))
		params := plotParams{
			fcsPath:    samplePath,
			x:          pl.X,
			y:          pl.Y,
			compensate: wf.Compensate,
			transform:  wf.Transform,
			outPath:    outPath,
		}
		if wf.Gate != nil {
			params.labelsPath = filepath.Join(wf.Out, "labels.csv")
			params.templatePath = wf.Gate.Template
		}
		if err := runPlot(opts, params, cmd); err != nil {
			return err
		}
		artifacts = append(artifacts, outPath)
	}

	if wf.Gate != nil {
		if err := writeWorkflowReport(wf, samplePath, cmd); err != nil {
			return err
		}
		artifacts = append(artifacts, filepath.Join(wf.Out, "report.md"))
	}

	if formatter.JSON() {
		return formatter.Success(map[string]any{"artifacts": artifacts})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "workflow complete, %d artifacts in %s\n", len(artifacts), wf.Out)
	return nil
}

// writeWorkflowReport re-renders the latest archived table, or rebuilds it
// from the gate stage output when no store is configured.
func writeWorkflowReport(wf *Workflow, samplePath string, cmd *cobra.Command) error {
	if wf.Store == "" {
		// The gate stage already wrote populations.csv; the markdown report
		// needs the store for counts, so skip rendering without one.
		return copyAsReport(wf.Out)
	}
	s, err := store.Open(wf.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open store", err)
	}
	defer s.Close()

	runs, err := s.ListRuns(cmd.Context(), 1)
	if err != nil || len(runs) == 0 {
		return WrapExitError(ExitFailure, "no archived run to report", err)
	}
	run, table, err := s.GetRun(cmd.Context(), runs[0].ID)
	if err != nil {
		return WrapExitError(ExitFailure, "cannot load run", err)
	}

	out, err := createFile(filepath.Join(wf.Out, "report.md"))
	if err != nil {
		return err
	}
	sum := report.Summary{
		SampleID:    run.SampleID,
		Events:      run.Events,
		Source:      samplePath,
		ProcessedAt: run.CreatedAt,
	}
	if err := report.Markdown(out, sum, table); err != nil {
		out.Close()
		return WrapExitError(ExitFailure, "cannot write report", err)
	}
	return out.Close()
}

// copyAsReport renders populations.csv into a minimal markdown report when
// no run archive is configured.
func copyAsReport(outDir string) error {
	raw, err := os.ReadFile(filepath.Join(outDir, "populations.csv"))
	if err != nil {
		return WrapExitError(ExitFailure, "gate stage output missing", err)
	}
	var b strings.Builder
	b.WriteString("# Populations\n\n```\n")
	b.Write(raw)
	b.WriteString("```\n")
	return os.WriteFile(filepath.Join(outDir, "report.md"), []byte(b.String()), 0o644)
}

func firstFCS(paths []string) string {
	for _, p := range paths {
		if strings.EqualFold(filepath.Ext(p), ".fcs") {
			return p
		}
	}
	return ""
}

// fetchDataset downloads a dataset's files into outDir and returns their
// paths.
func fetchDataset(opts *RootOptions, accession, baseURL, outDir string, cmd *cobra.Command) ([]string, error) {
	if accession == "" {
		return nil, NewExitError(ExitCommandError, "fetch stage needs an accession")
	}
	if err := runFetch(opts, accession, "", baseURL, outDir, 0, cmd); err != nil {
		return nil, err
	}
	fetched, err := filepath.Glob(filepath.Join(outDir, "*.fcs"))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot list fetched files", err)
	}
	return fetched, nil
}
