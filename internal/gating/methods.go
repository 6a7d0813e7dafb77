package gating

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// minModeFrac filters density peaks: anything under 5% of the tallest
// mode is noise, not a population.
const minModeFrac = 0.05

// maxValleyFrac separates real bimodality from ripple on a flat-topped
// density: the valley must dip below 90% of the smaller peak.
const maxValleyFrac = 0.9

// mindensityCut places a threshold at the density valley between the two
// largest modes of xs. With a min/max window in args the cut is simply
// the density minimum inside the window. Data without a genuine valley
// falls back to the q quantile (default 0.99).
func mindensityCut(xs []float64, args map[string]string) (float64, error) {
	k, err := NewKDE(xs, kdeGridPoints)
	if err != nil {
		return 0, err
	}

	lo, err := argFloat(args, "min", math.Inf(-1))
	if err != nil {
		return 0, err
	}
	hi, err := argFloat(args, "max", math.Inf(1))
	if err != nil {
		return 0, err
	}
	if !math.IsInf(lo, -1) || !math.IsInf(hi, 1) {
		best := -1
		for i, g := range k.Grid {
			if g < lo || g > hi {
				continue
			}
			if best < 0 || k.Density[i] < k.Density[best] {
				best = i
			}
		}
		if best < 0 {
			return 0, fmt.Errorf("gating: mindensity window [%g, %g] contains no data", lo, hi)
		}
		return k.Grid[best], nil
	}

	peaks := k.modes(minModeFrac)
	if len(peaks) >= 2 {
		// Two tallest modes, then the valley between them.
		sort.Slice(peaks, func(i, j int) bool { return k.Density[peaks[i]] > k.Density[peaks[j]] })
		v := k.valleyBetween(peaks[0], peaks[1])
		smaller := math.Min(k.Density[peaks[0]], k.Density[peaks[1]])
		if k.Density[v] <= maxValleyFrac*smaller {
			return k.Grid[v], nil
		}
	}

	q, err := argFloat(args, "q", 0.99)
	if err != nil {
		return 0, err
	}
	return domain.Quantile(q, xs), nil
}

// quantileCut places the threshold at the q quantile (default 0.99).
func quantileCut(xs []float64, args map[string]string) (float64, error) {
	if len(xs) == 0 {
		return 0, fmt.Errorf("gating: quantile of no events")
	}
	q, err := argFloat(args, "q", 0.99)
	if err != nil {
		return 0, err
	}
	if q <= 0 || q >= 1 {
		return 0, fmt.Errorf("gating: quantile q=%g outside (0, 1)", q)
	}
	return domain.Quantile(q, xs), nil
}

// polarityGate keeps the side of the cut that pop names; "+" is default.
func polarityGate(dim string, cut float64, pop string) domain.Gate {
	if pop == "-" {
		return domain.RangeGate{Dim: dim, Min: math.Inf(-1), Max: cut}
	}
	return domain.RangeGate{Dim: dim, Min: cut, Max: math.Inf(1)}
}

func boundaryGate(row TemplateRow) (domain.Gate, error) {
	if len(row.Dims) == 1 {
		lo, err := argFloat(row.Args, "min", math.Inf(-1))
		if err != nil {
			return nil, err
		}
		hi, err := argFloat(row.Args, "max", math.Inf(1))
		if err != nil {
			return nil, err
		}
		return domain.RangeGate{Dim: row.Dims[0], Min: lo, Max: hi}, nil
	}
	g := domain.RectGate{XDim: row.Dims[0], YDim: row.Dims[1]}
	var err error
	if g.XMin, err = argFloat(row.Args, "xmin", math.Inf(-1)); err != nil {
		return nil, err
	}
	if g.XMax, err = argFloat(row.Args, "xmax", math.Inf(1)); err != nil {
		return nil, err
	}
	if g.YMin, err = argFloat(row.Args, "ymin", math.Inf(-1)); err != nil {
		return nil, err
	}
	if g.YMax, err = argFloat(row.Args, "ymax", math.Inf(1)); err != nil {
		return nil, err
	}
	return g, nil
}

func polygonGate(row TemplateRow) (domain.Gate, error) {
	fields := strings.Fields(row.Args["points"])
	if len(fields) == 0 {
		return nil, fmt.Errorf("gating: polygon needs a points argument")
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("gating: polygon points list has odd length %d", len(fields))
	}
	xs := make([]float64, 0, len(fields)/2)
	ys := make([]float64, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("gating: polygon point %q: %w", fields[i], err)
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("gating: polygon point %q: %w", fields[i+1], err)
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	return domain.NewPolygonGate(row.Dims[0], row.Dims[1], xs, ys)
}

// quadGates splits two dims at xcut/ycut into four rectangle gates named
// by marker polarity, quadrant order ++, +-, -+, --.
func quadGates(xdim, ydim string, xcut, ycut float64) []struct {
	Name string
	Gate domain.Gate
} {
	inf := math.Inf(1)
	return []struct {
		Name string
		Gate domain.Gate
	}{
		{xdim + "+" + ydim + "+", domain.RectGate{XDim: xdim, YDim: ydim, XMin: xcut, XMax: inf, YMin: ycut, YMax: inf}},
		{xdim + "+" + ydim + "-", domain.RectGate{XDim: xdim, YDim: ydim, XMin: xcut, XMax: inf, YMin: -inf, YMax: ycut}},
		{xdim + "-" + ydim + "+", domain.RectGate{XDim: xdim, YDim: ydim, XMin: -inf, XMax: xcut, YMin: ycut, YMax: inf}},
		{xdim + "-" + ydim + "-", domain.RectGate{XDim: xdim, YDim: ydim, XMin: -inf, XMax: xcut, YMin: -inf, YMax: ycut}},
	}
}

func argFloat(args map[string]string, key string, def float64) (float64, error) {
	v, ok := args[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("gating: argument %s=%q is not a number", key, v)
	}
	return f, nil
}
