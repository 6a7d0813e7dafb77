package plot

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// Scatter draws one channel against another. labels, when non-nil, must
// have one entry per event and colors the dots by population; gates whose
// dimensions match the plotted channels are drawn as outlines.
func Scatter(w io.Writer, f *domain.Frame, xChan, yChan string, labels []string, gates []domain.Gate, opts Options) error {
	if f == nil || f.Events() == 0 {
		return fmt.Errorf("plot: no events to draw")
	}
	if labels != nil && len(labels) != f.Events() {
		return fmt.Errorf("plot: %d labels for %d events", len(labels), f.Events())
	}
	xs, err := f.Column(xChan)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	ys, err := f.Column(yChan)
	if err != nil {
		return fmt.Errorf("plot: %w", err)
	}
	opts = opts.withDefaults()

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

	xmin, xmax := minMax(xs)
	ymin, ymax := minMax(ys)
	for i, g := range gates {
		gs, ok := gateSeries(g, xChan, yChan, xmin, xmax, ymin, ymax)
		if !ok {
			continue
		}
		gs.Name = fmt.Sprintf("gate %d", i+1)
		gs.Style = lineStyle(paletteColor(i))
		series = append(series, gs)
	}

	ch := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis:  chart.XAxis{Name: xChan},
		YAxis:  chart.YAxis{Name: yChan},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return ch.Render(chart.PNG, w)
}

// gateSeries converts a gate into outline coordinates on the plotted
// channels. Gates on other channels report ok=false and are skipped.
func gateSeries(g domain.Gate, xChan, yChan string, xmin, xmax, ymin, ymax float64) (chart.ContinuousSeries, bool) {
	switch gate := g.(type) {
	case domain.NotGate:
		return gateSeries(gate.Inner, xChan, yChan, xmin, xmax, ymin, ymax)
	case domain.RangeGate:
		lo, hi := clamp(gate.Min, xmin, xmax), clamp(gate.Max, xmin, xmax)
		switch {
		case channelEq(gate.Dim, xChan):
			return chart.ContinuousSeries{
				XValues: []float64{lo, lo, hi, hi, lo},
				YValues: []float64{ymin, ymax, ymax, ymin, ymin},
			}, true
		case channelEq(gate.Dim, yChan):
			lo, hi = clamp(gate.Min, ymin, ymax), clamp(gate.Max, ymin, ymax)
			return chart.ContinuousSeries{
				XValues: []float64{xmin, xmax, xmax, xmin, xmin},
				YValues: []float64{lo, lo, hi, hi, lo},
			}, true
		}
		return chart.ContinuousSeries{}, false
	case domain.RectGate:
		if !onChannels(gate.XDim, gate.YDim, xChan, yChan) {
			return chart.ContinuousSeries{}, false
		}
		x0, x1 := clamp(gate.XMin, xmin, xmax), clamp(gate.XMax, xmin, xmax)
		y0, y1 := clamp(gate.YMin, ymin, ymax), clamp(gate.YMax, ymin, ymax)
		return chart.ContinuousSeries{
			XValues: []float64{x0, x1, x1, x0, x0},
			YValues: []float64{y0, y0, y1, y1, y0},
		}, true
	case domain.PolygonGate:
		if !onChannels(gate.XDim, gate.YDim, xChan, yChan) {
			return chart.ContinuousSeries{}, false
		}
		xs := append(append([]float64(nil), gate.X...), gate.X[0])
		ys := append(append([]float64(nil), gate.Y...), gate.Y[0])
		return chart.ContinuousSeries{XValues: xs, YValues: ys}, true
	case domain.EllipseGate:
		if !onChannels(gate.XDim, gate.YDim, xChan, yChan) {
			return chart.ContinuousSeries{}, false
		}
		const steps = 64
		xs := make([]float64, steps+1)
		ys := make([]float64, steps+1)
		sin, cos := math.Sincos(gate.Angle)
		for i := 0; i <= steps; i++ {
			t := 2 * math.Pi * float64(i) / steps
			u := gate.A * math.Cos(t)
			v := gate.B * math.Sin(t)
			xs[i] = gate.CX + u*cos - v*sin
			ys[i] = gate.CY + u*sin + v*cos
		}
		return chart.ContinuousSeries{XValues: xs, YValues: ys}, true
	}
	return chart.ContinuousSeries{}, false
}

func channelEq(a, b string) bool {
	return strings.EqualFold(a, b)
}

func onChannels(gx, gy, xChan, yChan string) bool {
	return channelEq(gx, xChan) && channelEq(gy, yChan)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsInf(v, -1) || v < lo {
		return lo
	}
	if math.IsInf(v, 1) || v > hi {
		return hi
	}
	return v
}

func minMax(vals []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return lo, hi
}
