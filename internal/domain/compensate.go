package domain

import (
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Spillover is the square spectral-overlap matrix from the $SPILLOVER
// keyword. Rows and columns are ordered by Names.
type Spillover struct {
	Names  []string
	Matrix *mat.Dense
}

// ParseSpillover decodes the $SPILLOVER keyword value:
// "n,name1,...,namen,v11,v12,...,vnn" with values in row-major order.
func ParseSpillover(value string) (*Spillover, error) {
	fields := strings.Split(strings.TrimSpace(value), ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("spillover: too few fields in %q", value)
	}
	n, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("spillover: bad channel count %q", fields[0])
	}
	want := 1 + n + n*n
	if len(fields) != want {
		return nil, fmt.Errorf("spillover: %d fields, want %d for %d channels", len(fields), want, n)
	}
	names := make([]string, n)
	for i := range names {
		names[i] = strings.TrimSpace(fields[1+i])
		if names[i] == "" {
			return nil, fmt.Errorf("spillover: empty channel name at position %d", i+1)
		}
	}
	values := make([]float64, n*n)
	for i := range values {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1+n+i]), 64)
		if err != nil {
			return nil, fmt.Errorf("spillover: bad value %q: %w", fields[1+n+i], err)
		}
		values[i] = v
	}
	return &Spillover{Names: names, Matrix: mat.NewDense(n, n, values)}, nil
}

// String re-encodes the matrix in $SPILLOVER keyword form.
func (s *Spillover) String() string {
	n := len(s.Names)
	parts := make([]string, 0, 1+n+n*n)
	parts = append(parts, strconv.Itoa(n))
	parts = append(parts, s.Names...)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			parts = append(parts, strconv.FormatFloat(s.Matrix.At(i, j), 'g', -1, 64))
		}
	}
	return strings.Join(parts, ",")
}

// Compensate returns a new frame with compensated = raw · S⁻¹ applied to the
// spillover channels. Channels absent from the matrix pass through untouched.
// Every matrix channel must exist in the frame.
func Compensate(f *Frame, s *Spillover) (*Frame, error) {
	if s == nil || len(s.Names) == 0 {
		return f.Clone(), nil
	}
	n := len(s.Names)
	cols := make([]int, n)
	for i, name := range s.Names {
		j, ok := f.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("compensate: channel %q not in frame", name)
		}
		cols[i] = j
	}

	var inv mat.Dense
	if err := inv.Inverse(s.Matrix); err != nil {
		return nil, fmt.Errorf("compensate: singular spillover matrix: %w", err)
	}

	rows := f.Events()
	// Zero-event frames are valid ($TOT=0); mat.NewDense rejects zero rows.
	if rows == 0 {
		return f.Clone(), nil
	}
	sub := mat.NewDense(rows, n, nil)
	for i := 0; i < rows; i++ {
		for k, j := range cols {
			sub.Set(i, k, f.At(i, j))
		}
	}
	var comp mat.Dense
	comp.Mul(sub, &inv)

	out := f.Clone()
	for i := 0; i < rows; i++ {
		for k, j := range cols {
			out.set(i, j, comp.At(i, k))
		}
	}
	return out, nil
}
