package domain

import (
	"fmt"
	"math"
)

// Gate is a region on one or two channels. Contains evaluates a point given
// in Dims order. Boundaries are inclusive, matching the convention of the
// acquisition-software exports the workspace importer reads.
type Gate interface {
	Dims() []string
	Contains(p []float64) bool
}

// RangeGate keeps events whose value on one channel lies in [Min, Max].
// Use ±Inf for an open end.
type RangeGate struct {
	Dim      string
	Min, Max float64
}

func (g RangeGate) Dims() []string { return []string{g.Dim} }

func (g RangeGate) Contains(p []float64) bool {
	return p[0] >= g.Min && p[0] <= g.Max
}

// RectGate keeps events inside an axis-aligned rectangle on two channels.
type RectGate struct {
	XDim, YDim string
	XMin, XMax float64
	YMin, YMax float64
}

func (g RectGate) Dims() []string { return []string{g.XDim, g.YDim} }

func (g RectGate) Contains(p []float64) bool {
	return p[0] >= g.XMin && p[0] <= g.XMax && p[1] >= g.YMin && p[1] <= g.YMax
}

// PolygonGate keeps events inside a closed polygon on two channels. The
// vertex lists are parallel; the closing edge from the last vertex back to
// the first is implicit.
type PolygonGate struct {
	XDim, YDim string
	X, Y       []float64
}

// NewPolygonGate validates the vertex lists.
func NewPolygonGate(xdim, ydim string, x, y []float64) (PolygonGate, error) {
	if len(x) != len(y) {
		return PolygonGate{}, fmt.Errorf("polygon gate: %d x vertices, %d y vertices", len(x), len(y))
	}
	if len(x) < 3 {
		return PolygonGate{}, fmt.Errorf("polygon gate: need at least 3 vertices, got %d", len(x))
	}
	return PolygonGate{XDim: xdim, YDim: ydim, X: x, Y: y}, nil
}

func (g PolygonGate) Dims() []string { return []string{g.XDim, g.YDim} }

// Contains uses the even-odd ray casting rule.
func (g PolygonGate) Contains(p []float64) bool {
	x, y := p[0], p[1]
	inside := false
	n := len(g.X)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := g.X[i], g.Y[i]
		xj, yj := g.X[j], g.Y[j]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// EllipseGate keeps events inside a rotated ellipse on two channels. Angle
// is the rotation of the A semi-axis from the x axis, in radians.
type EllipseGate struct {
	XDim, YDim string
	CX, CY     float64 // center
	A, B       float64 // semi-axes
	Angle      float64
}

func (g EllipseGate) Dims() []string { return []string{g.XDim, g.YDim} }

func (g EllipseGate) Contains(p []float64) bool {
	if g.A <= 0 || g.B <= 0 {
		return false
	}
	dx, dy := p[0]-g.CX, p[1]-g.CY
	sin, cos := math.Sincos(g.Angle)
	u := (dx*cos + dy*sin) / g.A
	v := (-dx*sin + dy*cos) / g.B
	return u*u+v*v <= 1
}

// NotGate inverts another gate over the same channels.
type NotGate struct {
	Inner Gate
}

func (g NotGate) Dims() []string { return g.Inner.Dims() }

func (g NotGate) Contains(p []float64) bool { return !g.Inner.Contains(p) }

// evalGate computes the per-event membership of a gate against a frame,
// restricted to events where parent is true. A nil parent means all events.
func evalGate(f *Frame, g Gate, parent []bool) ([]bool, error) {
	dims := g.Dims()
	cols := make([]int, len(dims))
	for k, d := range dims {
		j, ok := f.ColumnIndex(d)
		if !ok {
			return nil, fmt.Errorf("gate: unknown channel %q", d)
		}
		cols[k] = j
	}
	mask := make([]bool, f.Events())
	point := make([]float64, len(cols))
	for i := range mask {
		if parent != nil && !parent[i] {
			continue
		}
		for k, j := range cols {
			point[k] = f.At(i, j)
		}
		mask[i] = g.Contains(point)
	}
	return mask, nil
}
