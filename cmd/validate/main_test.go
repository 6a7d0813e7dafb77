package main

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/fcs"
)

func panelFrame(t *testing.T, data []float64) *domain.Frame {
	t.Helper()
	channels := []domain.Channel{
		{Name: "FSC-A", Range: 262144},
		{Name: "FL1-A", Stain: "CD4", Range: 262144},
		{Name: "FL2-A", Stain: "CD8", Range: 262144},
	}
	f, err := domain.NewFrame(channels, data)
	require.NoError(t, err)
	return f
}

func TestValidateFCSIntegrity(t *testing.T) {
	frame := panelFrame(t, []float64{
		50000, 100, 3000,
		60000, 2800, 150,
	})
	file := &fcs.File{
		Keywords: map[string]string{"$TOT": "2", "$PAR": "3", "$DATATYPE": "F"},
		Frame:    frame,
	}

	t.Run("clean file passes", func(t *testing.T) {
		p := validateFCSIntegrity(file)
		assert.True(t, p.passed(), "errors: %v", p.errors)
	})

	t.Run("keyword mismatch", func(t *testing.T) {
		bad := &fcs.File{
			Keywords: map[string]string{"$TOT": "5", "$PAR": "3", "$DATATYPE": "I"},
			Frame:    frame,
		}
		p := validateFCSIntegrity(bad)
		require.False(t, p.passed())
		assert.Len(t, p.errors, 2)
	})

	t.Run("non-finite values", func(t *testing.T) {
		corrupt := panelFrame(t, []float64{
			50000, math.NaN(), 3000,
			60000, 2800, math.Inf(1),
		})
		p := validateFCSIntegrity(&fcs.File{
			Keywords: map[string]string{"$TOT": "2", "$PAR": "3", "$DATATYPE": "F"},
			Frame:    corrupt,
		})
		require.False(t, p.passed())
		// One error per affected channel, not per event.
		assert.Len(t, p.errors, 2)
		assert.Contains(t, p.errors[0], "FL1-A")
		assert.Contains(t, p.errors[1], "FL2-A")
	})
}

func TestValidateCompensation(t *testing.T) {
	frame := panelFrame(t, []float64{
		50000, 100, 3000,
		60000, 2800, 150,
	})

	t.Run("synthetic matrix round-trips", func(t *testing.T) {
		p := validateCompensation(&fcs.File{Keywords: map[string]string{}, Frame: frame})
		assert.True(t, p.passed(), "errors: %v", p.errors)
	})

	t.Run("no stained channels", func(t *testing.T) {
		f, err := domain.NewFrame([]domain.Channel{
			{Name: "FSC-A", Range: 262144},
			{Name: "SSC-A", Range: 262144},
		}, []float64{1, 2})
		require.NoError(t, err)
		p := validateCompensation(&fcs.File{Keywords: map[string]string{}, Frame: f})
		require.False(t, p.passed())
		assert.Contains(t, p.errors[0], "no stained channels")
	})

	t.Run("singular spillover", func(t *testing.T) {
		p := validateCompensation(&fcs.File{
			Keywords: map[string]string{"$SPILLOVER": "2,FL1-A,FL2-A,1,1,1,1"},
			Frame:    frame,
		})
		require.False(t, p.passed())
		assert.Contains(t, p.errors[0], "singular")
	})
}

func TestRunEndToEnd(t *testing.T) {
	dir := t.TempDir()

	// 400 CD4-bright and 600 CD8-bright events, cut at 2000.
	data := make([]float64, 0, 1000*3)
	for i := 0; i < 400; i++ {
		data = append(data, 50000, 8000, 300)
	}
	for i := 0; i < 600; i++ {
		data = append(data, 50000, 300, 8000)
	}
	frame := panelFrame(t, data)

	var buf bytes.Buffer
	require.NoError(t, fcs.Write(&buf, frame, nil))
	fcsPath := filepath.Join(dir, "panel.fcs")
	require.NoError(t, os.WriteFile(fcsPath, buf.Bytes(), 0o644))

	tplPath := filepath.Join(dir, "template.csv")
	tpl := "alias,pop,parent,dims,method,args\n" +
		"CD4+,+,root,CD4,boundary,min=2000\n" +
		"CD8+,+,root,CD8,boundary,min=2000\n"
	require.NoError(t, os.WriteFile(tplPath, []byte(tpl), 0o644))

	fracPath := filepath.Join(dir, "fractions.json")
	fractions, err := json.Marshal(map[string]float64{
		"/CD4+": 0.4,
		"/CD8+": 0.6,
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fracPath, fractions, 0o644))

	assert.Equal(t, 0, run(fcsPath, tplPath, fracPath))

	t.Run("drifted fractions fail", func(t *testing.T) {
		badPath := filepath.Join(dir, "bad_fractions.json")
		bad, err := json.Marshal(map[string]float64{"/CD4+": 0.9})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(badPath, bad, 0o644))
		assert.Equal(t, 1, run(fcsPath, tplPath, badPath))
	})
}
