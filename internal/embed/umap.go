// Package embed projects high-dimensional cytometry events onto two
// dimensions with a UMAP-style algorithm: an exact k-nearest-neighbor
// graph is converted to fuzzy simplicial weights, seeded with a PCA
// projection, and refined by stochastic gradient descent with negative
// sampling.
package embed

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Config controls the projection. Zero values take the defaults below.
type Config struct {
	Neighbors int     // k for the neighbor graph
	MinDist   float64 // minimum spacing in the embedding
	Epochs    int
	Seed      int64
	MaxEvents int // subsample above this many events; 0 keeps everything
}

const (
	defaultNeighbors = 15
	defaultMinDist   = 0.1
	defaultEpochs    = 200

	negativeSamples = 5
	gradientClip    = 4.0
)

func (c Config) withDefaults() Config {
	if c.Neighbors <= 0 {
		c.Neighbors = defaultNeighbors
	}
	if c.MinDist <= 0 {
		c.MinDist = defaultMinDist
	}
	if c.Epochs <= 0 {
		c.Epochs = defaultEpochs
	}
	return c
}

// Result is the projected point set. When the input was subsampled,
// Indices maps each output row back to its row in the original data;
// otherwise Indices is nil.
type Result struct {
	Points  [][2]float64
	Indices []int
}

// Project embeds the event matrix in two dimensions. Deterministic for a
// fixed seed.
func Project(data [][]float64, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	if len(data) == 0 {
		return nil, fmt.Errorf("embed: no events")
	}
	dim := len(data[0])
	if dim == 0 {
		return nil, fmt.Errorf("embed: events have no channels")
	}
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("embed: event %d has %d channels, want %d", i, len(row), dim)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	var indices []int
	if cfg.MaxEvents > 0 && len(data) > cfg.MaxEvents {
		indices = subsample(rng, len(data), cfg.MaxEvents)
		sampled := make([][]float64, len(indices))
		for i, idx := range indices {
			sampled[i] = data[idx]
		}
		data = sampled
	}

	n := len(data)
	k := cfg.Neighbors
	if k >= n {
		k = n - 1
	}
	if k < 1 {
		// One or two events have no meaningful neighborhood; place them
		// directly.
		points := make([][2]float64, n)
		for i := range points {
			points[i] = [2]float64{float64(i), 0}
		}
		return &Result{Points: points, Indices: indices}, nil
	}

	neighbors, dists := knn(data, k)
	edges := fuzzyGraph(neighbors, dists, k)
	points := pcaInit(data, rng)
	optimize(points, edges, cfg.Epochs, fitCurve(cfg.MinDist), rng)

	return &Result{Points: points, Indices: indices}, nil
}

// attractionCurve parameterizes the low-dimensional similarity
// 1/(1 + a*d^(2b)) that the SGD gradients differentiate.
type attractionCurve struct {
	a, b float64
}

// fitCurve least-squares fits the attraction curve to the target kernel:
// flat at 1 inside minDist, exponential decay beyond it (spread fixed at
// 1). A coarse-to-fine grid search keeps the fit deterministic; minDist
// 0.1 lands near a=1.58, b=0.90.
func fitCurve(minDist float64) attractionCurve {
	const (
		spread  = 1.0
		samples = 300
		steps   = 40
	)
	xs := make([]float64, samples)
	ys := make([]float64, samples)
	for i := range xs {
		d := 3 * spread * float64(i+1) / samples
		xs[i] = d
		if d <= minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(d - minDist) / spread)
		}
	}
	loss := func(a, b float64) float64 {
		var sum float64
		for i, d := range xs {
			diff := 1/(1+a*math.Pow(d, 2*b)) - ys[i]
			sum += diff * diff
		}
		return sum
	}

	loA, hiA := 0.01, 10.0
	loB, hiB := 0.1, 2.5
	bestA, bestB := loA, loB
	best := math.Inf(1)
	for round := 0; round < 6; round++ {
		for i := 0; i <= steps; i++ {
			a := loA + (hiA-loA)*float64(i)/steps
			for j := 0; j <= steps; j++ {
				b := loB + (hiB-loB)*float64(j)/steps
				if l := loss(a, b); l < best {
					best, bestA, bestB = l, a, b
				}
			}
		}
		da := (hiA - loA) / steps
		db := (hiB - loB) / steps
		loA, hiA = math.Max(bestA-2*da, 1e-3), bestA+2*da
		loB, hiB = math.Max(bestB-2*db, 1e-3), bestB+2*db
	}
	return attractionCurve{a: bestA, b: bestB}
}

// subsample draws count indices without replacement, returned sorted so
// they align with the original event order.
func subsample(rng *rand.Rand, total, count int) []int {
	perm := rng.Perm(total)[:count]
	sort.Ints(perm)
	return perm
}

type neighbor struct {
	idx  int
	dist float64
}

// knn computes the exact k nearest neighbors of every point.
func knn(data [][]float64, k int) ([][]int, [][]float64) {
	n := len(data)
	neighbors := make([][]int, n)
	dists := make([][]float64, n)
	cand := make([]neighbor, 0, n-1)
	for i := 0; i < n; i++ {
		cand = cand[:0]
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			cand = append(cand, neighbor{j, euclidean(data[i], data[j])})
		}
		sort.Slice(cand, func(a, b int) bool {
			if cand[a].dist != cand[b].dist {
				return cand[a].dist < cand[b].dist
			}
			return cand[a].idx < cand[b].idx
		})
		neighbors[i] = make([]int, k)
		dists[i] = make([]float64, k)
		for m := 0; m < k; m++ {
			neighbors[i][m] = cand[m].idx
			dists[i][m] = cand[m].dist
		}
	}
	return neighbors, dists
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

type edge struct {
	from, to int
	weight   float64
}

// fuzzyGraph converts neighbor distances into symmetric fuzzy weights.
// Per point, rho is the distance to the closest neighbor and sigma is
// found by binary search so that the local weights sum to log2(k).
func fuzzyGraph(neighbors [][]int, dists [][]float64, k int) []edge {
	n := len(neighbors)
	target := math.Log2(float64(k))

	directed := make(map[[2]int]float64, n*k)
	for i := 0; i < n; i++ {
		rho := dists[i][0]
		sigma := sigmaFor(dists[i], rho, target)
		for m, j := range neighbors[i] {
			d := dists[i][m] - rho
			if d < 0 {
				d = 0
			}
			w := 1.0
			if sigma > 0 {
				w = math.Exp(-d / sigma)
			}
			directed[[2]int{i, j}] = w
		}
	}

	// Symmetrize with the fuzzy union w1 + w2 - w1*w2.
	seen := make(map[[2]int]bool, len(directed))
	edges := make([]edge, 0, len(directed))
	for key, w1 := range directed {
		i, j := key[0], key[1]
		a, b := i, j
		if a > b {
			a, b = b, a
		}
		if seen[[2]int{a, b}] {
			continue
		}
		seen[[2]int{a, b}] = true
		w2 := directed[[2]int{j, i}]
		edges = append(edges, edge{a, b, w1 + w2 - w1*w2})
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].from != edges[b].from {
			return edges[a].from < edges[b].from
		}
		return edges[a].to < edges[b].to
	})
	return edges
}

// sigmaFor binary-searches the bandwidth that makes the smoothed weight
// sum hit target.
func sigmaFor(dists []float64, rho, target float64) float64 {
	lo, hi := 1e-6, 1000.0
	for iter := 0; iter < 64; iter++ {
		mid := (lo + hi) / 2
		var sum float64
		for _, d := range dists {
			x := d - rho
			if x < 0 {
				x = 0
			}
			sum += math.Exp(-x / mid)
		}
		if sum > target {
			hi = mid
		} else {
			lo = mid
		}
	}
	return (lo + hi) / 2
}

// pcaInit seeds the layout with the projection onto the first two
// principal components, found by power iteration with deflation, then
// scaled to a small extent so SGD starts compact.
func pcaInit(data [][]float64, rng *rand.Rand) [][2]float64 {
	n, dim := len(data), len(data[0])

	mean := make([]float64, dim)
	for _, row := range data {
		floats.Add(mean, row)
	}
	floats.Scale(1/float64(n), mean)

	centered := make([][]float64, n)
	for i, row := range data {
		centered[i] = make([]float64, dim)
		floats.SubTo(centered[i], row, mean)
	}

	comp1 := powerIteration(centered, nil, rng)
	comp2 := powerIteration(centered, comp1, rng)

	points := make([][2]float64, n)
	var maxAbs float64
	for i, row := range centered {
		points[i][0] = floats.Dot(row, comp1)
		points[i][1] = floats.Dot(row, comp2)
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(points[i][0]), math.Abs(points[i][1])))
	}
	if maxAbs > 0 {
		scale := 10 / maxAbs
		for i := range points {
			points[i][0] *= scale
			points[i][1] *= scale
		}
	}
	return points
}

// powerIteration finds the dominant direction of the centered data,
// orthogonal to exclude when given.
func powerIteration(centered [][]float64, exclude []float64, rng *rand.Rand) []float64 {
	dim := len(centered[0])
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	tmp := make([]float64, dim)
	for iter := 0; iter < 50; iter++ {
		if exclude != nil {
			floats.AddScaled(v, -floats.Dot(v, exclude), exclude)
		}
		// tmp = Cov * v without forming the covariance matrix.
		for i := range tmp {
			tmp[i] = 0
		}
		for _, row := range centered {
			floats.AddScaled(tmp, floats.Dot(row, v), row)
		}
		norm := floats.Norm(tmp, 2)
		if norm < 1e-12 {
			break
		}
		floats.ScaleTo(v, 1/norm, tmp)
	}
	if exclude != nil {
		floats.AddScaled(v, -floats.Dot(v, exclude), exclude)
		if norm := floats.Norm(v, 2); norm > 1e-12 {
			floats.Scale(1/norm, v)
		}
	}
	return v
}

// optimize runs SGD over the fuzzy graph: each edge attracts its endpoints
// with probability proportional to its weight while negative samples push
// random points apart. The learning rate decays linearly.
func optimize(points [][2]float64, edges []edge, epochs int, crv attractionCurve, rng *rand.Rand) {
	n := len(points)
	var maxW float64
	for _, e := range edges {
		maxW = math.Max(maxW, e.weight)
	}
	if maxW == 0 {
		return
	}

	for epoch := 0; epoch < epochs; epoch++ {
		alpha := 1.0 * (1 - float64(epoch)/float64(epochs))
		for _, e := range edges {
			if rng.Float64() > e.weight/maxW {
				continue
			}
			moveTogether(points, e.from, e.to, alpha, crv)
			for s := 0; s < negativeSamples; s++ {
				other := rng.Intn(n)
				if other == e.from {
					continue
				}
				moveApart(points, e.from, other, alpha, crv)
			}
		}
	}
}

func moveTogether(points [][2]float64, i, j int, alpha float64, crv attractionCurve) {
	dx := points[i][0] - points[j][0]
	dy := points[i][1] - points[j][1]
	d2 := dx*dx + dy*dy
	if d2 <= 0 {
		return
	}
	grad := -2 * crv.a * crv.b * math.Pow(d2, crv.b-1) / (1 + crv.a*math.Pow(d2, crv.b))
	gx := clip(grad * dx)
	gy := clip(grad * dy)
	points[i][0] += alpha * gx
	points[i][1] += alpha * gy
	points[j][0] -= alpha * gx
	points[j][1] -= alpha * gy
}

func moveApart(points [][2]float64, i, j int, alpha float64, crv attractionCurve) {
	dx := points[i][0] - points[j][0]
	dy := points[i][1] - points[j][1]
	d2 := dx*dx + dy*dy
	grad := 2.0 / ((0.001 + d2) * (1 + crv.a*math.Pow(d2, crv.b)))
	points[i][0] += alpha * clip(grad*dx)
	points[i][1] += alpha * clip(grad*dy)
}

func clip(g float64) float64 {
	if g > gradientClip {
		return gradientClip
	}
	if g < -gradientClip {
		return -gradientClip
	}
	return g
}
