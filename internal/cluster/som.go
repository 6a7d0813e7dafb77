// Package cluster groups cytometry events with a self-organizing map and
// derives higher-level structure from the trained map: metaclusters by
// agglomerative merging of code vectors and a minimum spanning tree for
// graph-style visualization.
package cluster

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Config controls SOM training. Zero values fall back to the defaults
// below, so Config{} trains a usable 10x10 map.
type Config struct {
	Width        int
	Height       int
	Epochs       int
	LearningRate float64
	Seed         int64
}

const (
	defaultGridSide    = 10
	defaultEpochs      = 10
	defaultLearningRat = 0.05
)

func (c Config) withDefaults() Config {
	if c.Width <= 0 {
		c.Width = defaultGridSide
	}
	if c.Height <= 0 {
		c.Height = defaultGridSide
	}
	if c.Epochs <= 0 {
		c.Epochs = defaultEpochs
	}
	if c.LearningRate <= 0 {
		c.LearningRate = defaultLearningRat
	}
	return c
}

// SOM is a trained self-organizing map. Codes holds one code vector per
// grid node in row-major order, so node (x, y) is Codes[y*W+x].
type SOM struct {
	Codes [][]float64
	W, H  int
}

// Nodes returns the grid size.
func (s *SOM) Nodes() int { return s.W * s.H }

// gridX and gridY convert a node index back to grid coordinates.
func (s *SOM) gridX(i int) int { return i % s.W }
func (s *SOM) gridY(i int) int { return i / s.W }

// TrainSOM fits a W x H map to the event matrix. Each row of data is one
// event; all rows must share a dimension. Training presents events in a
// seeded shuffled order per epoch and updates the best-matching unit and
// its grid neighborhood with a Gaussian kernel whose radius and learning
// rate decay linearly to near zero, which keeps runs reproducible for a
// fixed seed.
func TrainSOM(data [][]float64, cfg Config) (*SOM, error) {
	cfg = cfg.withDefaults()
	if len(data) == 0 {
		return nil, fmt.Errorf("cluster: no events to train on")
	}
	dim := len(data[0])
	if dim == 0 {
		return nil, fmt.Errorf("cluster: events have no channels")
	}
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("cluster: event %d has %d channels, want %d", i, len(row), dim)
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	n := cfg.Width * cfg.Height

	// Initialize codes from randomly drawn events so the map starts
	// inside the data cloud.
	codes := make([][]float64, n)
	for i := range codes {
		codes[i] = append([]float64(nil), data[rng.Intn(len(data))]...)
	}

	som := &SOM{Codes: codes, W: cfg.Width, H: cfg.Height}

	order := make([]int, len(data))
	for i := range order {
		order[i] = i
	}

	radius0 := math.Max(float64(cfg.Width), float64(cfg.Height)) / 2
	steps := cfg.Epochs * len(data)
	step := 0
	diff := make([]float64, dim)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, idx := range order {
			frac := float64(step) / float64(steps)
			step++
			rate := cfg.LearningRate * (1 - frac)
			radius := 1 + (radius0-1)*(1-frac)

			event := data[idx]
			bmu := som.bmu(event)
			bx, by := som.gridX(bmu), som.gridY(bmu)

			// Only nodes within ~2 radii move noticeably; skip the rest.
			reach := int(math.Ceil(2 * radius))
			for y := max(0, by-reach); y <= min(som.H-1, by+reach); y++ {
				for x := max(0, bx-reach); x <= min(som.W-1, bx+reach); x++ {
					d2 := float64((x-bx)*(x-bx) + (y-by)*(y-by))
					theta := math.Exp(-d2 / (2 * radius * radius))
					code := codes[y*som.W+x]
					floats.SubTo(diff, event, code)
					floats.AddScaled(code, rate*theta, diff)
				}
			}
		}
	}
	return som, nil
}

// bmu returns the index of the code vector closest to the event.
func (s *SOM) bmu(event []float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, code := range s.Codes {
		d := sqDist(event, code)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Assign maps every event to its best-matching unit.
func (s *SOM) Assign(data [][]float64) ([]int, error) {
	if len(s.Codes) == 0 {
		return nil, fmt.Errorf("cluster: map has no codes")
	}
	dim := len(s.Codes[0])
	out := make([]int, len(data))
	for i, event := range data {
		if len(event) != dim {
			return nil, fmt.Errorf("cluster: event %d has %d channels, want %d", i, len(event), dim)
		}
		out[i] = s.bmu(event)
	}
	return out, nil
}

// Counts tallies assignments per node. The slice has one entry per grid
// node, including empty ones.
func (s *SOM) Counts(assignments []int) []int {
	counts := make([]int, s.Nodes())
	for _, a := range assignments {
		if a >= 0 && a < len(counts) {
			counts[a]++
		}
	}
	return counts
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
