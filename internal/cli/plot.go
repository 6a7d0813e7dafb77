package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/gating"
	"github.com/flywind2/t-cell-data/internal/plot"
)

// NewPlotCommand creates the plot command.
func NewPlotCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		xChan, yChan string
		labelsPath   string
		templatePath string
		compensate   bool
		transform    string
		outPath      string
	)

	cmd := &cobra.Command{
		Use:   "plot <file.fcs>",
		Short: "Draw a channel-vs-channel scatter plot",
		Long: `Draw one channel against another as a PNG. Labels from a gate run
(--labels labels.csv) color the dots by population; a template
(--template) overlays its gate outlines.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if xChan == "" || yChan == "" {
				return NewExitError(ExitCommandError, "need --x and --y channels")
			}
			return runPlot(rootOpts, plotParams{
				fcsPath:      args[0],
				x:            xChan,
				y:            yChan,
				labelsPath:   labelsPath,
				templatePath: templatePath,
				compensate:   compensate,
				transform:    transform,
				outPath:      outPath,
			}, cmd)
		},
	}
	cmd.Flags().StringVar(&xChan, "x", "", "x axis channel")
	cmd.Flags().StringVar(&yChan, "y", "", "y axis channel")
	cmd.Flags().StringVar(&labelsPath, "labels", "", "per-cell labels CSV from a gate run")
	cmd.Flags().StringVar(&templatePath, "template", "", "overlay this template's gates")
	cmd.Flags().BoolVar(&compensate, "compensate", false, "apply the file's spillover matrix")
	cmd.Flags().StringVar(&transform, "transform", "logicle", "intensity transform")
	cmd.Flags().StringVarP(&outPath, "o", "o", "scatter.png", "output PNG path")
	return cmd
}

type plotParams struct {
	fcsPath      string
	x, y         string
	labelsPath   string
	templatePath string
	compensate   bool
	transform    string
	outPath      string
}

func runPlot(opts *RootOptions, p plotParams, cmd *cobra.Command) error {
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

	var labels []string
	if p.labelsPath != "" {
		labels, err = readLabels(p.labelsPath, frame.Events())
		if err != nil {
			return err
		}
	}

	var gates []domain.Gate
	if p.templatePath != "" {
		tpl, err := loadTemplate(p.templatePath)
		if err != nil {
			return err
		}
		strategy, err := gating.Build(tpl, frame)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot build gates", err)
		}
		for _, pop := range strategy.Populations() {
			if g, ok := strategy.Gate(pop); ok {
				gates = append(gates, g)
			}
		}
	}

	out, err := createFile(p.outPath)
	if err != nil {
		return err
	}
	if err := plot.Scatter(out, frame, p.x, p.y, labels, gates, plot.Options{
		Title: fmt.Sprintf("%s vs %s", p.x, p.y),
	}); err != nil {
		out.Close()
		return WrapExitError(ExitFailure, "cannot render plot", err)
	}
	if err := out.Close(); err != nil {
		return WrapExitError(ExitCommandError, "cannot write plot", err)
	}

	if formatter.JSON() {
		return formatter.Success(map[string]string{"plot_file": p.outPath})
	}
	fmt.Fprintln(cmd.OutOrStdout(), p.outPath)
	return nil
}

// readLabels loads a labels.csv written by the gate command.
func readLabels(path string, events int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "cannot open labels", err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	header, err := cr.Read()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "bad labels file", err)
	}
	if len(header) < 2 || header[0] != "event" {
		return nil, NewExitError(ExitCommandError, "bad labels file: want event,label header")
	}

	labels := make([]string, events)
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "bad labels file", err)
		}
		i, err := strconv.Atoi(record[0])
		if err != nil || i < 0 || i >= events {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("labels file: bad event index %q", record[0]))
		}
		labels[i] = record[1]
	}
	return labels, nil
}
