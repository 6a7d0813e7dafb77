// Package gating derives gating strategies from data. Templates describe
// populations and the method that places each gate; Build evaluates the
// methods against an actual frame, so thresholds land where the sample's
// density says they should rather than at fixed positions.
package gating

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// kdeGridPoints is the density grid resolution. 512 points resolves the
// valley between adjacent immune populations on any transformed scale.
const kdeGridPoints = 512

// kdeMaxSample caps the events fed to the estimator. Beyond this the
// grid sums dominate runtime without changing where the valleys are.
const kdeMaxSample = 8192

// KDE is a Gaussian kernel density estimate evaluated on a uniform grid.
type KDE struct {
	Grid      []float64
	Density   []float64
	Bandwidth float64
}

// NewKDE estimates the density of xs on a grid of the given resolution.
// Large inputs are thinned by a deterministic stride first.
func NewKDE(xs []float64, points int) (*KDE, error) {
	if len(xs) == 0 {
		return nil, errors.New("gating: kde of no events")
	}
	if points < 2 {
		points = kdeGridPoints
	}
	xs = thin(xs, kdeMaxSample)

	h := silverman(xs)
	lo, hi := xs[0], xs[0]
	for _, x := range xs {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	lo -= 3 * h
	hi += 3 * h
	if hi <= lo {
		hi = lo + 1
	}

	k := &KDE{
		Grid:      make([]float64, points),
		Density:   make([]float64, points),
		Bandwidth: h,
	}
	step := (hi - lo) / float64(points-1)
	norm := 1 / (float64(len(xs)) * h * math.Sqrt(2*math.Pi))
	for i := range k.Grid {
		g := lo + float64(i)*step
		k.Grid[i] = g
		sum := 0.0
		for _, x := range xs {
			z := (g - x) / h
			sum += math.Exp(-0.5 * z * z)
		}
		k.Density[i] = sum * norm
	}
	return k, nil
}

// silverman is the rule-of-thumb bandwidth: 0.9 min(sd, iqr/1.349) n^(-1/5).
func silverman(xs []float64) float64 {
	sd := stat.StdDev(xs, nil)
	iqr := (domain.Quantile(0.75, xs) - domain.Quantile(0.25, xs)) / 1.349
	a := sd
	if iqr > 0 && iqr < a {
		a = iqr
	}
	if a <= 0 || math.IsNaN(a) {
		a = 1
	}
	return 0.9 * a * math.Pow(float64(len(xs)), -0.2)
}

func thin(xs []float64, limit int) []float64 {
	if len(xs) <= limit {
		return xs
	}
	stride := (len(xs) + limit - 1) / limit
	out := make([]float64, 0, limit)
	for i := 0; i < len(xs); i += stride {
		out = append(out, xs[i])
	}
	return out
}

// modes returns grid indices of local density maxima that reach at least
// minFrac of the tallest peak, in grid order.
func (k *KDE) modes(minFrac float64) []int {
	maxd := 0.0
	for _, d := range k.Density {
		maxd = math.Max(maxd, d)
	}
	var out []int
	for i := 1; i < len(k.Density)-1; i++ {
		if k.Density[i] > k.Density[i-1] && k.Density[i] >= k.Density[i+1] && k.Density[i] >= minFrac*maxd {
			out = append(out, i)
		}
	}
	return out
}

// valleyBetween returns the grid index of minimum density between two
// grid indices.
func (k *KDE) valleyBetween(a, b int) int {
	if a > b {
		a, b = b, a
	}
	best := a
	for i := a; i <= b; i++ {
		if k.Density[i] < k.Density[best] {
			best = i
		}
	}
	return best
}
