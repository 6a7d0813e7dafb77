package cluster

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoBlobs returns events drawn around two well-separated centers, first
// half from the low blob and second half from the high blob.
func twoBlobs(t *testing.T, perBlob int) [][]float64 {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	data := make([][]float64, 0, 2*perBlob)
	for i := 0; i < perBlob; i++ {
		data = append(data, []float64{1 + 0.1*rng.NormFloat64(), 1 + 0.1*rng.NormFloat64()})
	}
	for i := 0; i < perBlob; i++ {
		data = append(data, []float64{9 + 0.1*rng.NormFloat64(), 9 + 0.1*rng.NormFloat64()})
	}
	return data
}

func TestTrainSOM_SeparatesBlobs(t *testing.T) {
	data := twoBlobs(t, 200)
	som, err := TrainSOM(data, Config{Width: 4, Height: 4, Epochs: 20, Seed: 1})
	require.NoError(t, err)
	require.Len(t, som.Codes, 16)

	assignments, err := som.Assign(data)
	require.NoError(t, err)
	require.Len(t, assignments, len(data))

	// No node should receive events from both blobs.
	lowNodes := make(map[int]bool)
	for _, a := range assignments[:200] {
		lowNodes[a] = true
	}
	for _, a := range assignments[200:] {
		assert.False(t, lowNodes[a], "node %d mixes both blobs", a)
	}

	counts := som.Counts(assignments)
	require.Len(t, counts, 16)
	total := 0
	for _, c := range counts {
		total += c
	}
	assert.Equal(t, len(data), total)
}

func TestTrainSOM_Deterministic(t *testing.T) {
	data := twoBlobs(t, 100)
	a, err := TrainSOM(data, Config{Width: 3, Height: 3, Epochs: 5, Seed: 42})
	require.NoError(t, err)
	b, err := TrainSOM(data, Config{Width: 3, Height: 3, Epochs: 5, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, a.Codes, b.Codes)

	c, err := TrainSOM(data, Config{Width: 3, Height: 3, Epochs: 5, Seed: 43})
	require.NoError(t, err)
	assert.NotEqual(t, a.Codes, c.Codes)
}

func TestTrainSOM_Errors(t *testing.T) {
	_, err := TrainSOM(nil, Config{})
	assert.Error(t, err)

	_, err = TrainSOM([][]float64{{1, 2}, {1}}, Config{})
	assert.Error(t, err)
}

func TestTrainSOM_FiniteCodes(t *testing.T) {
	data := twoBlobs(t, 50)
	som, err := TrainSOM(data, Config{Seed: 3})
	require.NoError(t, err)
	for _, code := range som.Codes {
		for _, v := range code {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestMetacluster_TwoBlobs(t *testing.T) {
	data := twoBlobs(t, 200)
	som, err := TrainSOM(data, Config{Width: 4, Height: 4, Epochs: 20, Seed: 1})
	require.NoError(t, err)

	labels, err := Metacluster(som, 2)
	require.NoError(t, err)
	require.Len(t, labels, 16)

	// Metacluster labels must follow the blob split: nodes with low codes
	// get one label, high codes the other.
	low, high := make(map[int]bool), make(map[int]bool)
	for i, code := range som.Codes {
		if code[0] < 5 {
			low[labels[i]] = true
		} else {
			high[labels[i]] = true
		}
	}
	assert.Len(t, low, 1)
	assert.Len(t, high, 1)
	assert.NotEqual(t, low, high)
}

func TestMetacluster_ClampsK(t *testing.T) {
	som := &SOM{
		Codes: [][]float64{{0}, {1}, {2}},
		W:     3, H: 1,
	}
	labels, err := Metacluster(som, 100)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, labels)
}

func TestMetacluster_Errors(t *testing.T) {
	som := &SOM{Codes: [][]float64{{0}}, W: 1, H: 1}
	_, err := Metacluster(som, 0)
	assert.Error(t, err)

	_, err = Metacluster(&SOM{}, 2)
	assert.Error(t, err)
}

func TestMST_EdgeCount(t *testing.T) {
	som := &SOM{
		Codes: [][]float64{{0, 0}, {1, 0}, {0, 1}, {10, 10}},
		W:     2, H: 2,
	}
	edges, err := MST(som)
	require.NoError(t, err)
	require.Len(t, edges, 3)

	// Edges are normalized and sorted.
	for _, e := range edges {
		assert.Less(t, e.From, e.To)
		assert.Greater(t, e.Weight, 0.0)
	}

	// The tree must connect every node.
	seen := map[int]bool{}
	for _, e := range edges {
		seen[e.From] = true
		seen[e.To] = true
	}
	assert.Len(t, seen, 4)
}

func TestMST_SingleNode(t *testing.T) {
	som := &SOM{Codes: [][]float64{{1, 2}}, W: 1, H: 1}
	edges, err := MST(som)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestMST_PrefersShortEdges(t *testing.T) {
	// Three collinear points: the MST must use the two short edges, never
	// the long end-to-end one.
	som := &SOM{Codes: [][]float64{{0}, {1}, {5}}, W: 3, H: 1}
	edges, err := MST(som)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, Edge{From: 0, To: 1, Weight: 1}, edges[0])
	assert.Equal(t, Edge{From: 1, To: 2, Weight: 4}, edges[1])
}

func TestLayout_Deterministic(t *testing.T) {
	som := &SOM{Codes: [][]float64{{0}, {1}, {2}, {3}}, W: 4, H: 1}
	edges, err := MST(som)
	require.NoError(t, err)

	a, err := Layout(edges, 4, 9)
	require.NoError(t, err)
	b, err := Layout(edges, 4, 9)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	for _, p := range a {
		assert.False(t, math.IsNaN(p[0]) || math.IsNaN(p[1]))
		assert.False(t, math.IsInf(p[0], 0) || math.IsInf(p[1], 0))
	}
}

func TestLayout_Errors(t *testing.T) {
	_, err := Layout(nil, 0, 1)
	assert.Error(t, err)
}
