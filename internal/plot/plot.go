// Package plot renders analysis figures as PNG: channel scatter plots with
// gate overlays, 2-D embeddings colored by population, and the SOM cluster
// graph.
package plot

import (
	"sort"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Options are shared figure settings. Zero width/height take the defaults.
type Options struct {
	Title  string
	Width  int
	Height int
}

const (
	defaultWidth  = 900
	defaultHeight = 700
)

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = defaultWidth
	}
	if o.Height <= 0 {
		o.Height = defaultHeight
	}
	return o
}

// palette is the Okabe-Ito colorblind-safe set. Labels beyond its length
// wrap around.
var palette = []drawing.Color{
	{R: 0x00, G: 0x72, B: 0xB2, A: 0xFF}, // blue
	{R: 0xE6, G: 0x9F, B: 0x00, A: 0xFF}, // orange
	{R: 0x00, G: 0x9E, B: 0x73, A: 0xFF}, // green
	{R: 0xCC, G: 0x79, B: 0xA7, A: 0xFF}, // pink
	{R: 0x56, G: 0xB4, B: 0xE9, A: 0xFF}, // sky
	{R: 0xD5, G: 0x5E, B: 0x00, A: 0xFF}, // vermilion
	{R: 0xF0, G: 0xE4, B: 0x42, A: 0xFF}, // yellow
	{R: 0x00, G: 0x00, B: 0x00, A: 0xFF}, // black
}

// grey renders unlabeled events.
var grey = drawing.Color{R: 0xBB, G: 0xBB, B: 0xBB, A: 0xFF}

func paletteColor(i int) drawing.Color {
	return palette[i%len(palette)]
}

// pointStyle renders dots only, no connecting line.
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 0,
		DotWidth:    4,
		DotColor:    col,
	}
}

func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 2,
		StrokeColor: col,
	}
}

// groupByLabel splits parallel coordinate slices into one series per label,
// in sorted label order so colors are assigned deterministically.
func groupByLabel(xs, ys []float64, labels []string) (names []string, byLabel map[string][2][]float64) {
	byLabel = make(map[string][2][]float64)
	for i := range xs {
		label := ""
		if labels != nil {
			label = labels[i]
		}
		pair := byLabel[label]
		pair[0] = append(pair[0], xs[i])
		pair[1] = append(pair[1], ys[i])
		byLabel[label] = pair
	}
	for name := range byLabel {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, byLabel
}
