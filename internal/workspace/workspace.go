// Package workspace imports gating hierarchies from acquisition-software
// workspace XML. The import is structural: population names, gate
// geometry, and the tree are read; vendor-specific display settings and
// statistics are not. Gate elements follow the Gating-ML vocabulary
// (PolygonGate, RectangleGate, EllipsoidGate) under whatever namespace
// prefixes the vendor uses; anything else is skipped and reported.
package workspace

import (
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"path"
	"strings"

	"github.com/flywind2/t-cell-data/internal/domain"
)

// Sample is one sample's imported gating tree.
type Sample struct {
	Name     string
	Strategy *domain.Strategy
}

// Workspace is the result of an import: the per-sample strategies plus a
// note for every node that could not be represented.
type Workspace struct {
	Samples []Sample
	Skipped []string
}

// Sample finds an imported sample by name. The match tolerates path
// prefixes and case, since workspaces name samples by their FCS file.
func (w *Workspace) Sample(name string) (*Sample, bool) {
	want := strings.ToLower(path.Base(name))
	for i := range w.Samples {
		if strings.ToLower(path.Base(w.Samples[i].Name)) == want {
			return &w.Samples[i], true
		}
	}
	return nil, false
}

// First returns the first sample, which is the whole workspace for the
// common single-sample export.
func (w *Workspace) First() *Sample {
	if len(w.Samples) == 0 {
		return nil
	}
	return &w.Samples[0]
}

// --- wire structures ---

type xmlWorkspace struct {
	Samples []xmlSample `xml:"SampleList>Sample"`
}

type xmlSample struct {
	Node xmlSampleNode `xml:"SampleNode"`
}

type xmlSampleNode struct {
	Name    string     `xml:"name,attr"`
	Subpops xmlSubpops `xml:"Subpopulations"`
}

type xmlSubpops struct {
	Populations []xmlPopulation `xml:"Population"`
	Other       []xmlAnyNode    `xml:",any"`
}

type xmlPopulation struct {
	Name    string      `xml:"name,attr"`
	Gate    xmlGate     `xml:"Gate"`
	Subpops *xmlSubpops `xml:"Subpopulations"`
}

type xmlGate struct {
	Polygon   *xmlPolygonGate   `xml:"PolygonGate"`
	Rectangle *xmlRectangleGate `xml:"RectangleGate"`
	Ellipsoid *xmlEllipsoidGate `xml:"EllipsoidGate"`
	Other     []xmlAnyNode      `xml:",any"`
}

type xmlAnyNode struct {
	XMLName xml.Name
}

type xmlPolygonGate struct {
	Dimensions []xmlDimension `xml:"dimension"`
	Vertices   []xmlVertex    `xml:"vertex"`
}

type xmlRectangleGate struct {
	Dimensions []xmlDimension `xml:"dimension"`
}

type xmlEllipsoidGate struct {
	Dimensions     []xmlDimension `xml:"dimension"`
	Mean           []xmlValue     `xml:"mean>coordinate"`
	Rows           []xmlMatrixRow `xml:"covarianceMatrix>row"`
	DistanceSquare *xmlValue      `xml:"distanceSquare"`
}

type xmlDimension struct {
	Min  *float64        `xml:"min,attr"`
	Max  *float64        `xml:"max,attr"`
	Chan xmlFCSDimension `xml:"fcs-dimension"`
}

type xmlFCSDimension struct {
	Name string `xml:"name,attr"`
}

type xmlVertex struct {
	Coordinates []xmlValue `xml:"coordinate"`
}

type xmlMatrixRow struct {
	Entries []xmlValue `xml:"entry"`
}

type xmlValue struct {
	Value float64 `xml:"value,attr"`
}

// --- import ---

// Parse reads a workspace document and builds one strategy per sample.
func Parse(r io.Reader) (*Workspace, error) {
	var doc xmlWorkspace
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	if len(doc.Samples) == 0 {
		return nil, fmt.Errorf("workspace: document contains no samples")
	}

	w := &Workspace{}
	for i, xs := range doc.Samples {
		name := xs.Node.Name
		if name == "" {
			name = fmt.Sprintf("sample-%d", i+1)
		}
		s := Sample{Name: name, Strategy: domain.NewStrategy()}
		w.importSubpops(&s, &xs.Node.Subpops, "/")
		w.Samples = append(w.Samples, s)
	}
	return w, nil
}

func (w *Workspace) importSubpops(s *Sample, sp *xmlSubpops, parentPath string) {
	if sp == nil {
		return
	}
	for _, other := range sp.Other {
		w.skip(s.Name, parentPath, "unsupported node type "+other.XMLName.Local)
	}
	for _, pop := range sp.Populations {
		if pop.Name == "" {
			w.skip(s.Name, parentPath, "population without a name")
			continue
		}
		gate, err := convertGate(&pop.Gate)
		if err != nil {
			w.skip(s.Name, childPath(parentPath, pop.Name), err.Error())
			continue
		}
		if err := s.Strategy.AddGate(parentPath, pop.Name, gate); err != nil {
			w.skip(s.Name, childPath(parentPath, pop.Name), err.Error())
			continue
		}
		w.importSubpops(s, pop.Subpops, childPath(parentPath, pop.Name))
	}
}

func (w *Workspace) skip(sample, at, reason string) {
	w.Skipped = append(w.Skipped, fmt.Sprintf("%s %s: %s", sample, at, reason))
}

func childPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func convertGate(g *xmlGate) (domain.Gate, error) {
	for _, other := range g.Other {
		return nil, fmt.Errorf("unsupported gate type %s", other.XMLName.Local)
	}
	switch {
	case g.Polygon != nil:
		return convertPolygon(g.Polygon)
	case g.Rectangle != nil:
		return convertRectangle(g.Rectangle)
	case g.Ellipsoid != nil:
		return convertEllipsoid(g.Ellipsoid)
	}
	return nil, fmt.Errorf("population has no gate")
}

func convertPolygon(g *xmlPolygonGate) (domain.Gate, error) {
	if len(g.Dimensions) != 2 {
		return nil, fmt.Errorf("polygon gate with %d dimensions", len(g.Dimensions))
	}
	xs := make([]float64, 0, len(g.Vertices))
	ys := make([]float64, 0, len(g.Vertices))
	for _, v := range g.Vertices {
		if len(v.Coordinates) != 2 {
			return nil, fmt.Errorf("polygon vertex with %d coordinates", len(v.Coordinates))
		}
		xs = append(xs, v.Coordinates[0].Value)
		ys = append(ys, v.Coordinates[1].Value)
	}
	return domain.NewPolygonGate(dimName(g.Dimensions[0]), dimName(g.Dimensions[1]), xs, ys)
}

func convertRectangle(g *xmlRectangleGate) (domain.Gate, error) {
	bound := func(v *float64, def float64) float64 {
		if v == nil {
			return def
		}
		return *v
	}
	switch len(g.Dimensions) {
	case 1:
		d := g.Dimensions[0]
		return domain.RangeGate{
			Dim: dimName(d),
			Min: bound(d.Min, math.Inf(-1)),
			Max: bound(d.Max, math.Inf(1)),
		}, nil
	case 2:
		dx, dy := g.Dimensions[0], g.Dimensions[1]
		return domain.RectGate{
			XDim: dimName(dx),
			YDim: dimName(dy),
			XMin: bound(dx.Min, math.Inf(-1)),
			XMax: bound(dx.Max, math.Inf(1)),
			YMin: bound(dy.Min, math.Inf(-1)),
			YMax: bound(dy.Max, math.Inf(1)),
		}, nil
	}
	return nil, fmt.Errorf("rectangle gate with %d dimensions", len(g.Dimensions))
}

// convertEllipsoid turns the Gating-ML mean/covariance form into center,
// semi-axes and rotation via the closed-form 2x2 eigendecomposition.
func convertEllipsoid(g *xmlEllipsoidGate) (domain.Gate, error) {
	if len(g.Dimensions) != 2 || len(g.Mean) != 2 {
		return nil, fmt.Errorf("ellipsoid gate is not two-dimensional")
	}
	if len(g.Rows) != 2 || len(g.Rows[0].Entries) != 2 || len(g.Rows[1].Entries) != 2 {
		return nil, fmt.Errorf("ellipsoid covariance is not 2x2")
	}
	d2 := 1.0
	if g.DistanceSquare != nil && g.DistanceSquare.Value > 0 {
		d2 = g.DistanceSquare.Value
	}
	s11 := g.Rows[0].Entries[0].Value
	s12 := (g.Rows[0].Entries[1].Value + g.Rows[1].Entries[0].Value) / 2
	s22 := g.Rows[1].Entries[1].Value

	tr := s11 + s22
	det := s11*s22 - s12*s12
	if det <= 0 || tr <= 0 {
		return nil, fmt.Errorf("ellipsoid covariance is degenerate")
	}
	disc := math.Sqrt(math.Max(0, tr*tr/4-det))
	l1 := tr/2 + disc
	l2 := tr/2 - disc

	angle := 0.0
	if s12 != 0 {
		angle = math.Atan2(l1-s11, s12)
	} else if s22 > s11 {
		// Axes aligned with the long axis on y; l1 is already s22.
		angle = math.Pi / 2
	}
	// With s12 == 0 and s11 >= s22 the angle stays 0 and l1 is s11.

	return domain.EllipseGate{
		XDim:  dimName(g.Dimensions[0]),
		YDim:  dimName(g.Dimensions[1]),
		CX:    g.Mean[0].Value,
		CY:    g.Mean[1].Value,
		A:     math.Sqrt(l1 * d2),
		B:     math.Sqrt(l2 * d2),
		Angle: angle,
	}, nil
}

func dimName(d xmlDimension) string {
	return strings.TrimSpace(d.Chan.Name)
}
