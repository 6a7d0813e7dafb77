package embed

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobs(t *testing.T, perBlob int) [][]float64 {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	data := make([][]float64, 0, 2*perBlob)
	for i := 0; i < perBlob; i++ {
		data = append(data, []float64{0.2 * rng.NormFloat64(), 0.2 * rng.NormFloat64(), 0.2 * rng.NormFloat64()})
	}
	for i := 0; i < perBlob; i++ {
		data = append(data, []float64{10 + 0.2*rng.NormFloat64(), 10 + 0.2*rng.NormFloat64(), 10 + 0.2*rng.NormFloat64()})
	}
	return data
}

func centroid(points [][2]float64) [2]float64 {
	var c [2]float64
	for _, p := range points {
		c[0] += p[0]
		c[1] += p[1]
	}
	c[0] /= float64(len(points))
	c[1] /= float64(len(points))
	return c
}

func TestProject_SeparatesBlobs(t *testing.T) {
	data := blobs(t, 60)
	res, err := Project(data, Config{Neighbors: 10, Epochs: 100, Seed: 1})
	require.NoError(t, err)
	require.Len(t, res.Points, 120)
	assert.Nil(t, res.Indices)

	lowC := centroid(res.Points[:60])
	highC := centroid(res.Points[60:])
	between := math.Hypot(lowC[0]-highC[0], lowC[1]-highC[1])

	// Spread within each blob stays well below the gap between them.
	var spread float64
	for _, p := range res.Points[:60] {
		spread = math.Max(spread, math.Hypot(p[0]-lowC[0], p[1]-lowC[1]))
	}
	assert.Greater(t, between, spread,
		"blobs should land farther apart than their internal spread")
}

func TestFitCurve(t *testing.T) {
	// The reference fit for min-dist 0.1 and spread 1.
	crv := fitCurve(0.1)
	assert.InDelta(t, 1.577, crv.a, 0.05)
	assert.InDelta(t, 0.8951, crv.b, 0.05)

	// Larger min-dist flattens the curve: weaker attraction (smaller a)
	// near the origin.
	loose := fitCurve(0.5)
	assert.Less(t, loose.a, crv.a)
}

func TestProject_MinDistChangesLayout(t *testing.T) {
	data := blobs(t, 30)
	tight, err := Project(data, Config{Neighbors: 5, Epochs: 50, Seed: 7, MinDist: 0.05})
	require.NoError(t, err)
	loose, err := Project(data, Config{Neighbors: 5, Epochs: 50, Seed: 7, MinDist: 0.9})
	require.NoError(t, err)
	assert.NotEqual(t, tight.Points, loose.Points)
}

func TestProject_Deterministic(t *testing.T) {
	data := blobs(t, 30)
	a, err := Project(data, Config{Neighbors: 5, Epochs: 50, Seed: 7})
	require.NoError(t, err)
	b, err := Project(data, Config{Neighbors: 5, Epochs: 50, Seed: 7})
	require.NoError(t, err)
	assert.Equal(t, a.Points, b.Points)
}

func TestProject_Finite(t *testing.T) {
	data := blobs(t, 30)
	res, err := Project(data, Config{Neighbors: 5, Epochs: 50, Seed: 2})
	require.NoError(t, err)
	for _, p := range res.Points {
		assert.False(t, math.IsNaN(p[0]) || math.IsNaN(p[1]))
		assert.False(t, math.IsInf(p[0], 0) || math.IsInf(p[1], 0))
	}
}

func TestProject_Subsamples(t *testing.T) {
	data := blobs(t, 100)
	res, err := Project(data, Config{Neighbors: 5, Epochs: 20, Seed: 3, MaxEvents: 50})
	require.NoError(t, err)
	require.Len(t, res.Points, 50)
	require.Len(t, res.Indices, 50)

	// Indices are sorted, unique, and in range.
	for i := 1; i < len(res.Indices); i++ {
		assert.Greater(t, res.Indices[i], res.Indices[i-1])
	}
	assert.GreaterOrEqual(t, res.Indices[0], 0)
	assert.Less(t, res.Indices[len(res.Indices)-1], 200)
}

func TestProject_TinyInputs(t *testing.T) {
	res, err := Project([][]float64{{1, 2}}, Config{Seed: 1})
	require.NoError(t, err)
	assert.Len(t, res.Points, 1)

	res, err = Project([][]float64{{1, 2}, {3, 4}}, Config{Seed: 1})
	require.NoError(t, err)
	assert.Len(t, res.Points, 2)
}

func TestProject_Errors(t *testing.T) {
	_, err := Project(nil, Config{})
	assert.Error(t, err)

	_, err = Project([][]float64{{1, 2}, {1}}, Config{})
	assert.Error(t, err)

	_, err = Project([][]float64{{}}, Config{})
	assert.Error(t, err)
}
