package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Transform maps raw channel intensities onto a display scale. Every
// implementation is strictly increasing over its input domain.
type Transform interface {
	Name() string
	Apply(x float64) float64
}

// LinearTransform leaves values unchanged.
type LinearTransform struct{}

func (LinearTransform) Name() string           { return "linear" }
func (LinearTransform) Apply(x float64) float64 { return x }

// ArcsinhTransform applies asinh(x/cofactor). Cofactor 150 suits most
// fluorescence channels; 5 is conventional for mass cytometry.
type ArcsinhTransform struct {
	Cofactor float64
}

func (t ArcsinhTransform) Name() string { return fmt.Sprintf("arcsinh:%g", t.Cofactor) }

func (t ArcsinhTransform) Apply(x float64) float64 {
	c := t.Cofactor
	if c <= 0 {
		c = 150
	}
	return math.Asinh(x / c)
}

// Default logicle parameters. T matches an 18-bit digitizer full scale.
const (
	LogicleDefaultT = 262144
	LogicleDefaultW = 0.5
	LogicleDefaultM = 4.5
	LogicleDefaultA = 0
)

// LogicleTransform is the Parks-Moore biexponential scale. It behaves
// logarithmically at high intensities and linearly around zero, so
// compensated events that land slightly negative stay on scale.
//
// The scale is defined through its inverse
//
//	B(y) = a·e^(b·y) − c·e^(−d·y) + f
//
// with B(x1) = 0 and B(1) = T; Apply solves B(y) = x for y.
type LogicleTransform struct {
	T float64 // top of scale
	W float64 // linearization width, decades
	M float64 // total display width, decades
	A float64 // additional negative decades

	a, b, c, d, f float64
	x1            float64
}

// NewLogicle precomputes the biexponential coefficients. Zero-valued
// parameters take the package defaults.
func NewLogicle(T, W, M, A float64) (*LogicleTransform, error) {
	if T == 0 {
		T = LogicleDefaultT
	}
	if M == 0 {
		M = LogicleDefaultM
	}
	if T <= 0 {
		return nil, fmt.Errorf("logicle: T must be positive, got %g", T)
	}
	if M <= 0 {
		return nil, fmt.Errorf("logicle: M must be positive, got %g", M)
	}
	if W < 0 || W > M/2 {
		return nil, fmt.Errorf("logicle: W must be in [0, M/2], got %g", W)
	}
	if A < -W || A > M-2*W {
		return nil, fmt.Errorf("logicle: A must be in [-W, M-2W], got %g", A)
	}

	t := &LogicleTransform{T: T, W: W, M: M, A: A}

	w := W / (M + A)
	x2 := A / (M + A)
	t.x1 = x2 + w
	x0 := x2 + 2*w
	t.b = (M + A) * math.Ln10
	t.d = solveLogicleD(t.b, w)

	ca := math.Exp(x0 * (t.b + t.d))
	fa := math.Exp(t.b*t.x1) - ca*math.Exp(-t.d*t.x1)
	t.a = T / (math.Exp(t.b) - fa - ca*math.Exp(-t.d))
	t.c = ca * t.a
	t.f = -fa * t.a
	return t, nil
}

// solveLogicleD finds the root of 2·ln(d/b) + w·(d+b) = 0 for d in (0, b].
// With w = 0 the root is exactly b.
func solveLogicleD(b, w float64) float64 {
	if w == 0 {
		return b
	}
	g := func(d float64) float64 { return 2*math.Log(d/b) + w*(d+b) }
	lo, hi := math.SmallestNonzeroFloat64, b
	// g(hi) = 2wb > 0 and g → −∞ as d → 0, so the bracket always holds.
	for i := 0; i < 200; i++ {
		mid := (lo + hi) / 2
		if g(mid) < 0 {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-14*b {
			break
		}
	}
	return (lo + hi) / 2
}

func (t *LogicleTransform) Name() string {
	return fmt.Sprintf("logicle:T=%g,W=%g,M=%g,A=%g", t.T, t.W, t.M, t.A)
}

// Inverse evaluates the biexponential B(y), mapping scale back to intensity.
func (t *LogicleTransform) Inverse(y float64) float64 {
	return t.a*math.Exp(t.b*y) - t.c*math.Exp(-t.d*y) + t.f
}

// Apply maps an intensity onto the logicle scale. Zero maps to x1, T maps
// to 1, and values beyond either end extrapolate smoothly.
func (t *LogicleTransform) Apply(x float64) float64 {
	lo, hi := 0.0, 1.0
	for t.Inverse(lo) > x {
		lo -= 0.5
	}
	for t.Inverse(hi) < x {
		hi += 0.5
	}
	for i := 0; i < 100; i++ {
		mid := (lo + hi) / 2
		if t.Inverse(mid) < x {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-12 {
			break
		}
	}
	return (lo + hi) / 2
}

// ParseTransform builds a transform from its flag form: "linear",
// "arcsinh:<cofactor>", "logicle", or "logicle:T=...,W=...,M=...,A=...".
func ParseTransform(spec string) (Transform, error) {
	kind, args, _ := strings.Cut(strings.TrimSpace(spec), ":")
	switch strings.ToLower(kind) {
	case "linear", "":
		return LinearTransform{}, nil
	case "arcsinh":
		cofactor := 150.0
		if args != "" {
			v, err := strconv.ParseFloat(args, 64)
			if err != nil {
				return nil, fmt.Errorf("transform: bad arcsinh cofactor %q: %w", args, err)
			}
			cofactor = v
		}
		return ArcsinhTransform{Cofactor: cofactor}, nil
	case "logicle":
		var T, W, M, A float64 = 0, LogicleDefaultW, 0, LogicleDefaultA
		if args != "" {
			for _, kv := range strings.Split(args, ",") {
				key, val, ok := strings.Cut(kv, "=")
				if !ok {
					return nil, fmt.Errorf("transform: bad logicle parameter %q", kv)
				}
				v, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
				if err != nil {
					return nil, fmt.Errorf("transform: bad logicle parameter %q: %w", kv, err)
				}
				switch strings.ToUpper(strings.TrimSpace(key)) {
				case "T":
					T = v
				case "W":
					W = v
				case "M":
					M = v
				case "A":
					A = v
				default:
					return nil, fmt.Errorf("transform: unknown logicle parameter %q", key)
				}
			}
		}
		return NewLogicle(T, W, M, A)
	default:
		return nil, fmt.Errorf("transform: unknown kind %q", kind)
	}
}

// TransformSet maps channel names to transforms.
type TransformSet map[string]Transform

// Apply returns a new frame with each named channel rescaled. Channels
// without an entry pass through unchanged.
func (ts TransformSet) Apply(f *Frame) (*Frame, error) {
	if len(ts) == 0 {
		return f.Clone(), nil
	}
	out := f.Clone()
	for name, tr := range ts {
		if tr == nil {
			return nil, errors.New("transform: nil transform in set")
		}
		j, ok := out.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("transform: unknown channel %q", name)
		}
		for i := 0; i < out.Events(); i++ {
			out.set(i, j, tr.Apply(out.At(i, j)))
		}
	}
	return out, nil
}

// TransformAll applies one transform to every channel except those named in
// skip, which is how scatter and time channels stay linear while the
// fluorescence block is rescaled.
func TransformAll(f *Frame, tr Transform, skip ...string) (*Frame, error) {
	if tr == nil {
		return nil, errors.New("transform: nil transform")
	}
	skipped := make(map[int]bool, len(skip))
	for _, name := range skip {
		if j, ok := f.ColumnIndex(name); ok {
			skipped[j] = true
		}
	}
	out := f.Clone()
	for j := range out.channels {
		if skipped[j] {
			continue
		}
		for i := 0; i < out.Events(); i++ {
			out.set(i, j, tr.Apply(out.At(i, j)))
		}
	}
	return out, nil
}
