package plot

import (
	"fmt"
	"io"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// Embedding draws a 2-D projection, one dot per event, colored by label
// when labels is non-nil.
func Embedding(w io.Writer, points [][2]float64, labels []string, opts Options) error {
	if len(points) == 0 {
		return fmt.Errorf("plot: no points to draw")
	}
	if labels != nil && len(labels) != len(points) {
		return fmt.Errorf("plot: %d labels for %d points", len(labels), len(points))
	}
	opts = opts.withDefaults()

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p[0], p[1]
	}

	var series []chart.Series
	names, byLabel := groupByLabel(xs, ys, labels)
	for i, name := range names {
		pair := byLabel[name]
		st := pointStyle(paletteColor(i))
		if name == domain.Unlabeled || name == "" {
			st = pointStyle(grey)
		}
		legend := name
		if legend == "" {
			legend = "events"
		}
		series = append(series, chart.ContinuousSeries{
			Name:    legend,
			XValues: pair[0],
			YValues: pair[1],
			Style:   st,
		})
	}

	ch := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis:  chart.XAxis{Name: "umap-1"},
		YAxis:  chart.YAxis{Name: "umap-2"},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}
