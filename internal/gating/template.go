package gating

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Methods a template row may name.
const (
	MethodMindensity = "mindensity"
	MethodQuantile   = "quantile"
	MethodBoundary   = "boundary"
	MethodPolygon    = "polygon"
	MethodQuad       = "quad"
)

// TemplateRow describes one gate: where it attaches, which channels it
// reads, and how its geometry is derived.
type TemplateRow struct {
	Alias  string            // population name, or "*" for quad auto-naming
	Pop    string            // polarity of one-dimensional gates: "+", "-", or "+/-" for both sides
	Parent string            // parent alias, or a /path, or "root"
	Dims   []string          // one or two channel names
	Method string
	Args   map[string]string
}

// Template is an ordered list of gate descriptions. Order matters:
// parents must appear before the rows that reference them.
type Template struct {
	Rows []TemplateRow
}

// ParseTemplate reads the CSV template format: a header line naming at
// least alias, parent, dims and method columns, then one row per gate.
// The dims field separates channels with commas; args is a
// semicolon-separated key=value list. Lines starting with '#' are
// comments.
func ParseTemplate(r io.Reader) (*Template, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("gating: template header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"alias", "parent", "dims", "method"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("gating: template is missing the %q column", required)
		}
	}

	field := func(record []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	tpl := &Template{}
	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gating: template: %w", err)
		}
		line++

		row := TemplateRow{
			Alias:  field(record, "alias"),
			Pop:    field(record, "pop"),
			Parent: field(record, "parent"),
			Method: strings.ToLower(field(record, "method")),
		}
		for _, d := range strings.Split(field(record, "dims"), ",") {
			if d = strings.TrimSpace(d); d != "" {
				row.Dims = append(row.Dims, d)
			}
		}
		row.Args, err = parseArgs(field(record, "args"))
		if err != nil {
			return nil, fmt.Errorf("gating: template line %d: %w", line, err)
		}
		if err := validateRow(row); err != nil {
			return nil, fmt.Errorf("gating: template line %d: %w", line, err)
		}
		tpl.Rows = append(tpl.Rows, row)
	}
	if len(tpl.Rows) == 0 {
		return nil, fmt.Errorf("gating: template has no gates")
	}
	return tpl, nil
}

func parseArgs(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	args := make(map[string]string)
	for _, kv := range strings.Split(s, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("bad argument %q, want key=value", kv)
		}
		args[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return args, nil
}

func validateRow(row TemplateRow) error {
	if row.Alias == "" {
		return fmt.Errorf("missing alias")
	}
	if strings.Contains(row.Alias, "/") {
		return fmt.Errorf("alias %q contains '/'", row.Alias)
	}
	switch row.Pop {
	case "", "+", "-":
	case "+/-":
		if row.Method != MethodMindensity && row.Method != MethodQuantile {
			return fmt.Errorf("pop \"+/-\" needs a threshold method, got %q", row.Method)
		}
	default:
		return fmt.Errorf("pop %q, want \"+\", \"-\" or \"+/-\"", row.Pop)
	}
	switch row.Method {
	case MethodMindensity, MethodQuantile:
		if len(row.Dims) != 1 {
			return fmt.Errorf("%s needs exactly one dim, got %d", row.Method, len(row.Dims))
		}
	case MethodBoundary:
		if len(row.Dims) != 1 && len(row.Dims) != 2 {
			return fmt.Errorf("boundary needs one or two dims, got %d", len(row.Dims))
		}
	case MethodPolygon, MethodQuad:
		if len(row.Dims) != 2 {
			return fmt.Errorf("%s needs exactly two dims, got %d", row.Method, len(row.Dims))
		}
	case "":
		return fmt.Errorf("missing method")
	default:
		return fmt.Errorf("unknown method %q", row.Method)
	}
	return nil
}
