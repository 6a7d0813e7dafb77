package gating

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bimodal returns two tight value clusters around 1.5 and 9.5.
func bimodal() []float64 {
	xs := make([]float64, 0, 200)
	for i := 0; i < 100; i++ {
		xs = append(xs, 1+0.01*float64(i))
	}
	for i := 0; i < 100; i++ {
		xs = append(xs, 9+0.01*float64(i))
	}
	return xs
}

func TestNewKDE(t *testing.T) {
	k, err := NewKDE(bimodal(), 256)
	require.NoError(t, err)

	assert.Len(t, k.Grid, 256)
	assert.Len(t, k.Density, 256)
	assert.Greater(t, k.Bandwidth, 0.0)
	// The grid covers the data plus bandwidth margin on both sides.
	assert.Less(t, k.Grid[0], 1.0)
	assert.Greater(t, k.Grid[len(k.Grid)-1], 9.99)

	peaks := k.modes(minModeFrac)
	require.GreaterOrEqual(t, len(peaks), 2)
}

func TestNewKDEEmpty(t *testing.T) {
	_, err := NewKDE(nil, 256)
	assert.Error(t, err)
}

func TestNewKDESingleValue(t *testing.T) {
	k, err := NewKDE([]float64{42}, 64)
	require.NoError(t, err)
	assert.Greater(t, k.Bandwidth, 0.0)
}

func TestThin(t *testing.T) {
	xs := make([]float64, 100000)
	for i := range xs {
		xs[i] = float64(i)
	}
	out := thin(xs, 8192)
	assert.LessOrEqual(t, len(out), 8192)
	assert.Equal(t, 0.0, out[0])
	// Deterministic: same input, same sample.
	assert.Equal(t, out, thin(xs, 8192))

	small := []float64{1, 2, 3}
	assert.Equal(t, small, thin(small, 8192))
}

func TestMindensityCutBimodal(t *testing.T) {
	cut, err := mindensityCut(bimodal(), nil)
	require.NoError(t, err)
	assert.Greater(t, cut, 3.0)
	assert.Less(t, cut, 8.0)
}

func TestMindensityCutUnimodalFallsBackToQuantile(t *testing.T) {
	xs := make([]float64, 0, 100)
	for i := 0; i < 100; i++ {
		xs = append(xs, 1+0.01*float64(i))
	}
	cut, err := mindensityCut(xs, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.99, cut, 0.02)

	cut, err = mindensityCut(xs, map[string]string{"q": "0.5"})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, cut, 0.02)
}

func TestMindensityCutWindow(t *testing.T) {
	cut, err := mindensityCut(bimodal(), map[string]string{"min": "4", "max": "7"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cut, 4.0)
	assert.LessOrEqual(t, cut, 7.0)

	_, err = mindensityCut(bimodal(), map[string]string{"min": "100", "max": "200"})
	assert.ErrorContains(t, err, "contains no data")

	_, err = mindensityCut(bimodal(), map[string]string{"min": "oops"})
	assert.Error(t, err)
}

func TestQuantileCut(t *testing.T) {
	xs := make([]float64, 100)
	for i := range xs {
		xs[i] = float64(i + 1)
	}

	cut, err := quantileCut(xs, map[string]string{"q": "0.5"})
	require.NoError(t, err)
	assert.Equal(t, 50.0, cut)

	cut, err = quantileCut(xs, nil)
	require.NoError(t, err)
	assert.Equal(t, 99.0, cut)

	_, err = quantileCut(xs, map[string]string{"q": "1.5"})
	assert.ErrorContains(t, err, "outside")

	_, err = quantileCut(nil, nil)
	assert.Error(t, err)
}
