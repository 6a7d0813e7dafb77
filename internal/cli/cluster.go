package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flywind2/t-cell-data/internal/cluster"
	"github.com/flywind2/t-cell-data/internal/plot"
)

// ClusterResult describes the artifacts of a clustering run.
type ClusterResult struct {
	Nodes           int    `json:"nodes"`
	Metaclusters    int    `json:"metaclusters"`
	AssignmentsFile string `json:"assignments_file"`
	GraphFile       string `json:"graph_file"`
	PlotFile        string `json:"plot_file"`
}

// clusterGraph is the JSON shape of the written graph file.
type clusterGraph struct {
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	Codes        [][]float64    `json:"codes"`
	Counts       []int          `json:"counts"`
	Metaclusters []int          `json:"metaclusters"`
	Edges        []cluster.Edge `json:"edges"`
	Layout       [][2]float64   `json:"layout"`
}

// NewClusterCommand creates the cluster command.
func NewClusterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		channels   string
		grid       string
		k          int
		epochs     int
		seed       int64
		compensate bool
		transform  string
		outDir     string
	)

	cmd := &cobra.Command{
		Use:   "cluster <file.fcs>",
		Short: "Cluster events with a self-organizing map",
		Long: `Train a self-organizing map on the selected channels, merge its nodes
into metaclusters, and span the map with a minimum spanning tree. Writes
per-event assignments, the graph as JSON, and a cluster plot.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, h, err := parseGrid(grid)
			if err != nil {
				return err
			}
			return runCluster(rootOpts, clusterParams{
				fcsPath:    args[0],
				channels:   channels,
				width:      w,
				height:     h,
				k:          k,
				epochs:     epochs,
				seed:       seed,
				compensate: compensate,
				transform:  transform,
				outDir:     outDir,
			}, cmd)
		},
	}
	cmd.Flags().StringVar(&channels, "channels", "", "comma-separated channels to cluster on")
	cmd.Flags().StringVar(&grid, "grid", "10x10", "SOM grid size, WIDTHxHEIGHT")
	cmd.Flags().IntVar(&k, "k", 8, "number of metaclusters")
	cmd.Flags().IntVar(&epochs, "epochs", 10, "training epochs")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	cmd.Flags().BoolVar(&compensate, "compensate", false, "apply the file's spillover matrix")
	cmd.Flags().StringVar(&transform, "transform", "logicle", "intensity transform")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}

type clusterParams struct {
	fcsPath       string
	channels      string
	width, height int
	k             int
	epochs        int
	seed          int64
	compensate    bool
	transform     string
	outDir        string
}

func parseGrid(spec string) (int, int, error) {
	parts := strings.Split(strings.ToLower(spec), "x")
	if len(parts) != 2 {
		return 0, 0, NewExitError(ExitCommandError, fmt.Sprintf("bad grid %q, want WIDTHxHEIGHT", spec))
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || w < 1 || h < 1 {
		return 0, 0, NewExitError(ExitCommandError, fmt.Sprintf("bad grid %q, want WIDTHxHEIGHT", spec))
	}
	return w, h, nil
}

func runCluster(opts *RootOptions, p clusterParams, cmd *cobra.Command) error {
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

	som, err := cluster.TrainSOM(data, cluster.Config{
		Width:  p.width,
		Height: p.height,
		Epochs: p.epochs,
		Seed:   p.seed,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "training failed", err)
	}
	assignments, err := som.Assign(data)
	if err != nil {
		return WrapExitError(ExitFailure, "assignment failed", err)
	}
	meta, err := cluster.Metacluster(som, p.k)
	if err != nil {
		return WrapExitError(ExitFailure, "metaclustering failed", err)
	}
	edges, err := cluster.MST(som)
	if err != nil {
		return WrapExitError(ExitFailure, "spanning tree failed", err)
	}
	layout, err := cluster.Layout(edges, som.Nodes(), p.seed)
	if err != nil {
		return WrapExitError(ExitFailure, "layout failed", err)
	}
	counts := som.Counts(assignments)

	result := ClusterResult{
		Nodes:           som.Nodes(),
		Metaclusters:    p.k,
		AssignmentsFile: filepath.Join(p.outDir, "assignments.csv"),
		GraphFile:       filepath.Join(p.outDir, "som_graph.json"),
		PlotFile:        filepath.Join(p.outDir, "som_tree.png"),
	}

	if err := writeAssignments(result.AssignmentsFile, assignments, meta); err != nil {
		return err
	}

	graphOut, err := createFile(result.GraphFile)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(graphOut)
	enc.SetIndent("", "  ")
	if err := enc.Encode(clusterGraph{
		Width:        som.W,
		Height:       som.H,
		Codes:        som.Codes,
		Counts:       counts,
		Metaclusters: meta,
		Edges:        edges,
		Layout:       layout,
	}); err != nil {
		graphOut.Close()
		return WrapExitError(ExitCommandError, "cannot write graph", err)
	}
	if err := graphOut.Close(); err != nil {
		return WrapExitError(ExitCommandError, "cannot write graph", err)
	}

	plotOut, err := createFile(result.PlotFile)
	if err != nil {
		return err
	}
	if err := plot.SOMTree(plotOut, layout, edges, meta, counts, plot.Options{
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
	fmt.Fprintf(cmd.OutOrStdout(), "trained %dx%d map on %d events, %d metaclusters\n",
		som.W, som.H, len(data), p.k)
	fmt.Fprintln(cmd.OutOrStdout(), result.AssignmentsFile)
	fmt.Fprintln(cmd.OutOrStdout(), result.GraphFile)
	fmt.Fprintln(cmd.OutOrStdout(), result.PlotFile)
	return nil
}

func writeAssignments(path string, assignments, meta []int) error {
	f, err := createFile(path)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(f)
	cw.Write([]string{"event", "node", "metacluster"})
	for i, node := range assignments {
		cw.Write([]string{strconv.Itoa(i), strconv.Itoa(node), strconv.Itoa(meta[node])})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return WrapExitError(ExitCommandError, "cannot write assignments", err)
	}
	return f.Close()
}
