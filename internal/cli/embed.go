package cli

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/flywind2/t-cell-data/internal/embed"
	"github.com/flywind2/t-cell-data/internal/plot"
)

// EmbedResult describes the artifacts of an embedding run.
type EmbedResult struct {
	Points   int    `json:"points"`
	CSVFile  string `json:"csv_file"`
	PlotFile string `json:"plot_file"`
}

// NewEmbedCommand creates the embed command.
func NewEmbedCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		channels   string
		neighbors  int
		epochs     int
		seed       int64
		maxEvents  int
		compensate bool
		transform  string
		outDir     string
	)

	cmd := &cobra.Command{
		Use:           "embed <file.fcs>",
		Short:         "Project events onto two dimensions",
		Long: `Compute a 2-D embedding of the selected channels. Writes the point
coordinates as CSV and a scatter plot of the projection.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmbed(rootOpts, embedParams{
				fcsPath:    args[0],
				channels:   channels,
				neighbors:  neighbors,
				epochs:     epochs,
				seed:       seed,
				maxEvents:  maxEvents,
				compensate: compensate,
				transform:  transform,
				outDir:     outDir,
			}, cmd)
		},
	}
	cmd.Flags().StringVar(&channels, "channels", "", "comma-separated channels to embed")
	cmd.Flags().IntVar(&neighbors, "neighbors", 15, "nearest neighbors per point")
	cmd.Flags().IntVar(&epochs, "epochs", 200, "optimization epochs")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&maxEvents, "max-events", 5000, "subsample above this many events (0 keeps all)")
	cmd.Flags().BoolVar(&compensate, "compensate", false, "apply the file's spillover matrix")
	cmd.Flags().StringVar(&transform, "transform", "logicle", "intensity transform")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}

type embedParams struct {
	fcsPath    string
	channels   string
	neighbors  int
	epochs     int
	seed       int64
	maxEvents  int
	compensate bool
	transform  string
	outDir     string
}

func runEmbed(opts *RootOptions, p embedParams, cmd *cobra.Command) error {
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
	chans, err := parseChannels(frame, p.channels)
	if err != nil {
		return err
	}
	data, err := channelMatrix(frame, chans)
	if err != nil {
		return err
	}

	res, err := embed.Project(data, embed.Config{
		Neighbors: p.neighbors,
		Epochs:    p.epochs,
		Seed:      p.seed,
		MaxEvents: p.maxEvents,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "embedding failed", err)
	}

	result := EmbedResult{
		Points:   len(res.Points),
		CSVFile:  filepath.Join(p.outDir, "embedding.csv"),
		PlotFile: filepath.Join(p.outDir, "embedding.png"),
	}

	if err := writeEmbedding(result.CSVFile, res); err != nil {
		return err
	}

	plotOut, err := createFile(result.PlotFile)
	if err != nil {
		return err
	}
	if err := plot.Embedding(plotOut, res.Points, nil, plot.Options{
		Title: filepath.Base(p.fcsPath),
	}); err != nil {
		plotOut.Close()
		return WrapExitError(ExitFailure, "cannot render plot", err)
	}
	if err := plotOut.Close(); err != nil {
		return WrapExitError(ExitCommandError, "cannot write plot", err)
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "embedded %d points\n", result.Points)
	fmt.Fprintln(cmd.OutOrStdout(), result.CSVFile)
	fmt.Fprintln(cmd.OutOrStdout(), result.PlotFile)
	return nil
}

// writeEmbedding writes one row per projected point. The event column
// holds the original event index, which differs from the row number when
// the projection subsampled.
func writeEmbedding(path string, res *embed.Result) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	cw.Write([]string{"event", "x", "y"})
	for i, pt := range res.Points {
		event := i
		if res.Indices != nil {
			event = res.Indices[i]
		}
		cw.Write([]string{
			strconv.Itoa(event),
			strconv.FormatFloat(pt[0], 'f', 6, 64),
			strconv.FormatFloat(pt[1], 'f', 6, 64),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return WrapExitError(ExitCommandError, "cannot write embedding", err)
	}
	return f.Close()
}
