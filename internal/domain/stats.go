package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// PopulationStat summarizes one gated population.
type PopulationStat struct {
	Path       string             `json:"path"`
	Name       string             `json:"name"`
	Count      int                `json:"count"`
	Frequency  float64            `json:"frequency"`        // of all events
	ParentFreq float64            `json:"parent_frequency"` // of parent population
	Medians    map[string]float64 `json:"medians,omitempty"`
}

// PopulationTable is the per-sample gating summary: one row per population
// in strategy order, with median intensities for the requested channels.
type PopulationTable struct {
	SampleID string           `json:"sample_id"`
	Events   int              `json:"events"`
	Channels []string         `json:"channels,omitempty"`
	Rows     []PopulationStat `json:"rows"`
}

// BuildTable computes population statistics from a labeling. channels names
// the columns to report medians for; nil means no medians.
func BuildTable(sampleID string, f *Frame, l *Labeling, channels []string) (*PopulationTable, error) {
	cols := make([]int, len(channels))
	for k, name := range channels {
		j, ok := f.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("stats: unknown channel %q", name)
		}
		cols[k] = j
	}
	t := &PopulationTable{
		SampleID: sampleID,
		Events:   f.Events(),
		Channels: append([]string(nil), channels...),
	}
	for _, path := range l.Populations() {
		mask, _ := l.Mask(path)
		row := PopulationStat{
			Path:       path,
			Name:       path[strings.LastIndex(path, "/")+1:],
			Count:      l.Count(path),
			Frequency:  l.Frequency(path),
			ParentFreq: l.FrequencyOfParent(path),
		}
		if len(cols) > 0 {
			row.Medians = make(map[string]float64, len(cols))
			for k, j := range cols {
				row.Medians[channels[k]] = maskedMedian(f, j, mask)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Lookup returns the row for a population path.
func (t *PopulationTable) Lookup(path string) (PopulationStat, bool) {
	p := NormalizePath(path)
	for _, row := range t.Rows {
		if row.Path == p {
			return row, true
		}
	}
	return PopulationStat{}, false
}

func maskedMedian(f *Frame, col int, mask []bool) float64 {
	vals := make([]float64, 0, len(mask))
	for i, in := range mask {
		if in {
			vals = append(vals, f.At(i, col))
		}
	}
	return Median(vals)
}

// Median returns the empirical median, or NaN for empty input.
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

// Quantile returns the empirical q-quantile, or NaN for empty input.
func Quantile(q float64, xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return stat.Quantile(q, stat.Empirical, s, nil)
}
