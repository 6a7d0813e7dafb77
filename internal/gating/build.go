package gating

import (
	"fmt"
	"strings"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// Build evaluates a template against a frame: each row's method places
// the gate using the events inside its parent population, and the gates
// assemble into a strategy. Rows run in template order, so a child row
// sees exactly the population its parent defined.
func Build(tpl *Template, f *domain.Frame) (*domain.Strategy, error) {
	s := domain.NewStrategy()
	all := make([]bool, f.Events())
	for i := range all {
		all[i] = true
	}
	masks := map[string][]bool{"/": all}
	// Alias lookup for parent references; "" marks an alias that appears
	// more than once and can only be referenced by full path.
	aliasPath := map[string]string{"root": "/"}

	for _, row := range tpl.Rows {
		parentPath, err := resolveParent(row.Parent, aliasPath, masks)
		if err != nil {
			return nil, fmt.Errorf("gating: row %q: %w", row.Alias, err)
		}
		pm := masks[parentPath]

		if row.Method == MethodQuad {
			if err := buildQuad(s, f, row, parentPath, pm, masks, aliasPath); err != nil {
				return nil, err
			}
			continue
		}
		if row.Pop == "+/-" {
			if err := buildSplit(s, f, row, parentPath, pm, masks, aliasPath); err != nil {
				return nil, err
			}
			continue
		}

		gate, err := rowGate(row, f, pm)
		if err != nil {
			return nil, fmt.Errorf("gating: row %q: %w", row.Alias, err)
		}
		if err := addChild(s, f, parentPath, row.Alias, gate, pm, masks, aliasPath); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func rowGate(row TemplateRow, f *domain.Frame, parent []bool) (domain.Gate, error) {
	switch row.Method {
	case MethodMindensity:
		xs, err := maskedColumn(f, row.Dims[0], parent)
		if err != nil {
			return nil, err
		}
		cut, err := mindensityCut(xs, row.Args)
		if err != nil {
			return nil, err
		}
		return polarityGate(row.Dims[0], cut, row.Pop), nil
	case MethodQuantile:
		xs, err := maskedColumn(f, row.Dims[0], parent)
		if err != nil {
			return nil, err
		}
		cut, err := quantileCut(xs, row.Args)
		if err != nil {
			return nil, err
		}
		return polarityGate(row.Dims[0], cut, row.Pop), nil
	case MethodBoundary:
		return boundaryGate(row)
	case MethodPolygon:
		return polygonGate(row)
	}
	return nil, fmt.Errorf("unknown method %q", row.Method)
}

func buildQuad(s *domain.Strategy, f *domain.Frame, row TemplateRow, parentPath string, pm []bool, masks map[string][]bool, aliasPath map[string]string) error {
	if row.Alias != "*" {
		return fmt.Errorf("gating: quad rows take alias \"*\", got %q", row.Alias)
	}
	xcut, err := quadCut(f, row, row.Dims[0], "xcut", pm)
	if err != nil {
		return err
	}
	ycut, err := quadCut(f, row, row.Dims[1], "ycut", pm)
	if err != nil {
		return err
	}
	for _, qg := range quadGates(row.Dims[0], row.Dims[1], xcut, ycut) {
		if err := addChild(s, f, parentPath, qg.Name, qg.Gate, pm, masks, aliasPath); err != nil {
			return err
		}
	}
	return nil
}

// buildSplit expands a "+/-" row into two siblings, one per side of a
// single threshold. Alias "*" names them after the channel, otherwise
// the polarity suffix goes on the row's alias.
func buildSplit(s *domain.Strategy, f *domain.Frame, row TemplateRow, parentPath string, pm []bool, masks map[string][]bool, aliasPath map[string]string) error {
	xs, err := maskedColumn(f, row.Dims[0], pm)
	if err != nil {
		return fmt.Errorf("gating: row %q: %w", row.Alias, err)
	}
	var cut float64
	switch row.Method {
	case MethodMindensity:
		cut, err = mindensityCut(xs, row.Args)
	case MethodQuantile:
		cut, err = quantileCut(xs, row.Args)
	default:
		err = fmt.Errorf("pop \"+/-\" needs a threshold method, got %q", row.Method)
	}
	if err != nil {
		return fmt.Errorf("gating: row %q: %w", row.Alias, err)
	}
	base := row.Alias
	if base == "*" {
		base = row.Dims[0]
	}
	for _, pop := range []string{"+", "-"} {
		if err := addChild(s, f, parentPath, base+pop, polarityGate(row.Dims[0], cut, pop), pm, masks, aliasPath); err != nil {
			return err
		}
	}
	return nil
}

// quadCut takes an explicit cut from args when present, otherwise lets
// the axis density decide.
func quadCut(f *domain.Frame, row TemplateRow, dim, argKey string, pm []bool) (float64, error) {
	if v, ok := row.Args[argKey]; ok && v != "" {
		return argFloat(row.Args, argKey, 0)
	}
	xs, err := maskedColumn(f, dim, pm)
	if err != nil {
		return 0, fmt.Errorf("gating: quad on %q: %w", dim, err)
	}
	cut, err := mindensityCut(xs, nil)
	if err != nil {
		return 0, fmt.Errorf("gating: quad on %q: %w", dim, err)
	}
	return cut, nil
}

func addChild(s *domain.Strategy, f *domain.Frame, parentPath, name string, gate domain.Gate, pm []bool, masks map[string][]bool, aliasPath map[string]string) error {
	if err := s.AddGate(parentPath, name, gate); err != nil {
		return err
	}
	path := childPath(parentPath, name)
	mask, err := applyGate(f, gate, pm)
	if err != nil {
		return fmt.Errorf("gating: row %q: %w", name, err)
	}
	masks[path] = mask
	if _, dup := aliasPath[name]; dup {
		aliasPath[name] = ""
	} else {
		aliasPath[name] = path
	}
	return nil
}

func resolveParent(ref string, aliasPath map[string]string, masks map[string][]bool) (string, error) {
	if ref == "" || ref == "root" {
		return "/", nil
	}
	if strings.HasPrefix(ref, "/") {
		p := domain.NormalizePath(ref)
		if _, ok := masks[p]; !ok {
			return "", fmt.Errorf("unknown parent path %q", ref)
		}
		return p, nil
	}
	p, ok := aliasPath[ref]
	if !ok {
		return "", fmt.Errorf("unknown parent %q", ref)
	}
	if p == "" {
		return "", fmt.Errorf("parent alias %q is ambiguous, use a full path", ref)
	}
	return p, nil
}

func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

func maskedColumn(f *domain.Frame, dim string, mask []bool) ([]float64, error) {
	j, ok := f.ColumnIndex(dim)
	if !ok {
		return nil, fmt.Errorf("unknown channel %q", dim)
	}
	out := make([]float64, 0, len(mask))
	for i, in := range mask {
		if in {
			out = append(out, f.At(i, j))
		}
	}
	return out, nil
}

func applyGate(f *domain.Frame, g domain.Gate, parent []bool) ([]bool, error) {
	dims := g.Dims()
	cols := make([]int, len(dims))
	for k, d := range dims {
		j, ok := f.ColumnIndex(d)
		if !ok {
			return nil, fmt.Errorf("unknown channel %q", d)
		}
		cols[k] = j
	}
	mask := make([]bool, f.Events())
	point := make([]float64, len(cols))
	for i := range mask {
		if !parent[i] {
			continue
		}
		for k, j := range cols {
			point[k] = f.At(i, j)
		}
		mask[i] = g.Contains(point)
	}
	return mask, nil
}
