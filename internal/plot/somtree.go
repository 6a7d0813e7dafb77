package plot

import (
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/flywind2/t-cell-data/internal/cluster"
)

// SOMTree draws the minimum spanning tree over the map nodes: edges as
// line segments, one dot per node sized by its event count and colored by
// metacluster. pos holds the layout position per node; meta and counts may
// be nil for an uncolored, uniformly sized graph.
func SOMTree(w io.Writer, pos [][2]float64, edges []cluster.Edge, meta []int, counts []int, opts Options) error {
	if len(pos) == 0 {
		return fmt.Errorf("plot: no nodes to draw")
	}
	if meta != nil && len(meta) != len(pos) {
		return fmt.Errorf("plot: %d metacluster labels for %d nodes", len(meta), len(pos))
	}
	if counts != nil && len(counts) != len(pos) {
		return fmt.Errorf("plot: %d counts for %d nodes", len(counts), len(pos))
	}
	for _, e := range edges {
		if e.From < 0 || e.From >= len(pos) || e.To < 0 || e.To >= len(pos) {
			return fmt.Errorf("plot: edge %d-%d outside %d nodes", e.From, e.To, len(pos))
		}
	}
	opts = opts.withDefaults()

	var series []chart.Series
	edgeStyle := lineStyle(grey)
	for _, e := range edges {
		series = append(series, chart.ContinuousSeries{
			XValues: []float64{pos[e.From][0], pos[e.To][0]},
			YValues: []float64{pos[e.From][1], pos[e.To][1]},
			Style:   edgeStyle,
		})
	}

	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	for i, p := range pos {
		col := paletteColor(0)
		if meta != nil {
			col = paletteColor(meta[i])
		}
		st := pointStyle(col)
		if maxCount > 0 {
			// Dot area tracks the event count, bounded so empty nodes
			// stay visible.
			st.DotWidth = 3 + 9*math.Sqrt(float64(counts[i])/float64(maxCount))
		}
		series = append(series, chart.ContinuousSeries{
			XValues: []float64{p[0]},
			YValues: []float64{p[1]},
			Style:   st,
		})
	}

	// Fixed padded ranges keep degenerate layouts (a single node, collinear
	// positions) renderable.
	xmin, xmax := math.Inf(1), math.Inf(-1)
	ymin, ymax := math.Inf(1), math.Inf(-1)
	for _, p := range pos {
		xmin, xmax = math.Min(xmin, p[0]), math.Max(xmax, p[0])
		ymin, ymax = math.Min(ymin, p[1]), math.Max(ymax, p[1])
	}
	xpad := math.Max(0.1, 0.05*(xmax-xmin))
	ypad := math.Max(0.1, 0.05*(ymax-ymin))

	ch := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			Style: chart.Hidden(),
			Range: &chart.ContinuousRange{Min: xmin - xpad, Max: xmax + xpad},
		},
		YAxis: chart.YAxis{
			Style: chart.Hidden(),
			Range: &chart.ContinuousRange{Min: ymin - ypad, Max: ymax + ypad},
		},
		Series: series,
	}
	return ch.Render(chart.PNG, w)
}
