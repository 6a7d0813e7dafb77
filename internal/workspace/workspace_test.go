package workspace

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywind2/t-cell-data/internal/domain"
)

const hierarchyXML = `<?xml version="1.0" encoding="UTF-8"?>
<Workspace>
  <SampleList>
    <Sample>
      <SampleNode name="donor1.fcs">
        <Subpopulations>
          <Population name="cells">
            <Gate>
              <RectangleGate>
                <dimension min="20000"><fcs-dimension name="FSC-A"/></dimension>
              </RectangleGate>
            </Gate>
            <Subpopulations>
              <Population name="lymphocytes">
                <Gate>
                  <PolygonGate>
                    <dimension><fcs-dimension name="FSC-A"/></dimension>
                    <dimension><fcs-dimension name="SSC-A"/></dimension>
                    <vertex><coordinate value="20000"/><coordinate value="5000"/></vertex>
                    <vertex><coordinate value="120000"/><coordinate value="5000"/></vertex>
                    <vertex><coordinate value="70000"/><coordinate value="80000"/></vertex>
                  </PolygonGate>
                </Gate>
                <Subpopulations>
                  <Population name="CD4+">
                    <Gate>
                      <RectangleGate>
                        <dimension min="2000"><fcs-dimension name="CD4"/></dimension>
                        <dimension max="2000"><fcs-dimension name="CD8"/></dimension>
                      </RectangleGate>
                    </Gate>
                  </Population>
                </Subpopulations>
              </Population>
            </Subpopulations>
          </Population>
        </Subpopulations>
      </SampleNode>
    </Sample>
  </SampleList>
</Workspace>`

func TestParse_Hierarchy(t *testing.T) {
	w, err := Parse(strings.NewReader(hierarchyXML))
	require.NoError(t, err)
	require.Len(t, w.Samples, 1)
	assert.Empty(t, w.Skipped)

	s := w.Samples[0]
	assert.Equal(t, "donor1.fcs", s.Name)
	assert.Equal(t, []string{
		"/cells",
		"/cells/lymphocytes",
		"/cells/lymphocytes/CD4+",
	}, s.Strategy.Populations())

	// Root gate: one-dimensional rectangle becomes a half-open range.
	g, ok := s.Strategy.Gate("/cells")
	require.True(t, ok)
	rg, ok := g.(domain.RangeGate)
	require.True(t, ok, "expected RangeGate, got %T", g)
	assert.Equal(t, "FSC-A", rg.Dim)
	assert.Equal(t, 20000.0, rg.Min)
	assert.True(t, math.IsInf(rg.Max, 1))

	g, ok = s.Strategy.Gate("/cells/lymphocytes")
	require.True(t, ok)
	pg, ok := g.(domain.PolygonGate)
	require.True(t, ok, "expected PolygonGate, got %T", g)
	assert.Equal(t, "FSC-A", pg.XDim)
	assert.Equal(t, "SSC-A", pg.YDim)
	assert.Equal(t, []float64{20000, 120000, 70000}, pg.X)
	assert.Equal(t, []float64{5000, 5000, 80000}, pg.Y)

	g, ok = s.Strategy.Gate("/cells/lymphocytes/CD4+")
	require.True(t, ok)
	rect, ok := g.(domain.RectGate)
	require.True(t, ok, "expected RectGate, got %T", g)
	assert.Equal(t, 2000.0, rect.XMin)
	assert.True(t, math.IsInf(rect.XMax, 1))
	assert.True(t, math.IsInf(rect.YMin, -1))
	assert.Equal(t, 2000.0, rect.YMax)
}

func TestParse_Ellipsoid(t *testing.T) {
	const doc = `<Workspace><SampleList><Sample>
	  <SampleNode name="s.fcs"><Subpopulations>
	    <Population name="blast">
	      <Gate>
	        <EllipsoidGate>
	          <dimension><fcs-dimension name="CD3"/></dimension>
	          <dimension><fcs-dimension name="CD4"/></dimension>
	          <mean><coordinate value="100"/><coordinate value="200"/></mean>
	          <covarianceMatrix>
	            <row><entry value="400"/><entry value="0"/></row>
	            <row><entry value="0"/><entry value="100"/></row>
	          </covarianceMatrix>
	          <distanceSquare value="4"/>
	        </EllipsoidGate>
	      </Gate>
	    </Population>
	  </Subpopulations></SampleNode>
	</Sample></SampleList></Workspace>`

	w, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Empty(t, w.Skipped)

	g, ok := w.Samples[0].Strategy.Gate("/blast")
	require.True(t, ok)
	eg, ok := g.(domain.EllipseGate)
	require.True(t, ok, "expected EllipseGate, got %T", g)
	assert.Equal(t, 100.0, eg.CX)
	assert.Equal(t, 200.0, eg.CY)
	// Diagonal covariance with the long axis on x: a = sqrt(400*4), b = sqrt(100*4).
	assert.InDelta(t, 40, eg.A, 1e-9)
	assert.InDelta(t, 20, eg.B, 1e-9)
	assert.InDelta(t, 0, eg.Angle, 1e-9)
}

func TestParse_EllipsoidLongAxisOnY(t *testing.T) {
	const doc = `<Workspace><SampleList><Sample>
	  <SampleNode name="s.fcs"><Subpopulations>
	    <Population name="blast">
	      <Gate>
	        <EllipsoidGate>
	          <dimension><fcs-dimension name="CD3"/></dimension>
	          <dimension><fcs-dimension name="CD4"/></dimension>
	          <mean><coordinate value="0"/><coordinate value="0"/></mean>
	          <covarianceMatrix>
	            <row><entry value="100"/><entry value="0"/></row>
	            <row><entry value="0"/><entry value="400"/></row>
	          </covarianceMatrix>
	        </EllipsoidGate>
	      </Gate>
	    </Population>
	  </Subpopulations></SampleNode>
	</Sample></SampleList></Workspace>`

	w, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)
	require.Empty(t, w.Skipped)

	g, _ := w.Samples[0].Strategy.Gate("/blast")
	eg := g.(domain.EllipseGate)
	// Rotated a quarter turn so the semi-major axis still comes first.
	assert.InDelta(t, math.Pi/2, eg.Angle, 1e-9)
	assert.InDelta(t, 20, eg.A, 1e-9)
	assert.InDelta(t, 10, eg.B, 1e-9)
}

func TestParse_SkipsUnsupportedNodes(t *testing.T) {
	const doc = `<Workspace><SampleList><Sample>
	  <SampleNode name="s.fcs"><Subpopulations>
	    <Population name="good">
	      <Gate>
	        <RectangleGate>
	          <dimension min="1"><fcs-dimension name="CD3"/></dimension>
	        </RectangleGate>
	      </Gate>
	    </Population>
	    <Population name="boolean">
	      <Gate><BooleanGate/></Gate>
	    </Population>
	    <Population name="empty">
	      <Gate/>
	    </Population>
	    <Population name="degenerate">
	      <Gate>
	        <EllipsoidGate>
	          <dimension><fcs-dimension name="CD3"/></dimension>
	          <dimension><fcs-dimension name="CD4"/></dimension>
	          <mean><coordinate value="0"/><coordinate value="0"/></mean>
	          <covarianceMatrix>
	            <row><entry value="1"/><entry value="1"/></row>
	            <row><entry value="1"/><entry value="1"/></row>
	          </covarianceMatrix>
	        </EllipsoidGate>
	      </Gate>
	    </Population>
	  </Subpopulations></SampleNode>
	</Sample></SampleList></Workspace>`

	w, err := Parse(strings.NewReader(doc))
	require.NoError(t, err)

	assert.Equal(t, []string{"/good"}, w.Samples[0].Strategy.Populations())
	require.Len(t, w.Skipped, 3)
	assert.Contains(t, w.Skipped[0], "unsupported gate type BooleanGate")
	assert.Contains(t, w.Skipped[1], "population has no gate")
	assert.Contains(t, w.Skipped[2], "covariance is degenerate")
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse(strings.NewReader("not xml at all <"))
	assert.Error(t, err)

	_, err = Parse(strings.NewReader(`<Workspace><SampleList/></Workspace>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no samples")
}

func TestWorkspace_SampleLookup(t *testing.T) {
	w, err := Parse(strings.NewReader(hierarchyXML))
	require.NoError(t, err)

	// Lookup tolerates directory prefixes and case.
	s, ok := w.Sample("/data/runs/DONOR1.FCS")
	require.True(t, ok)
	assert.Equal(t, "donor1.fcs", s.Name)

	_, ok = w.Sample("donor2.fcs")
	assert.False(t, ok)

	require.NotNil(t, w.First())
	assert.Equal(t, "donor1.fcs", w.First().Name)

	empty := &Workspace{}
	assert.Nil(t, empty.First())
}
