package cluster

import (
	"fmt"
	"math"
	"math/rand"
)

// Layout computes 2-D positions for the MST nodes with a small
// Fruchterman-Reingold style force simulation: tree edges attract, all
// node pairs repel, displacement is capped by a cooling temperature.
// Positions start on a seeded jittered circle, so the result is
// deterministic.
func Layout(edges []Edge, nodes int, seed int64) ([][2]float64, error) {
	if nodes <= 0 {
		return nil, fmt.Errorf("cluster: layout needs at least one node")
	}

	rng := rand.New(rand.NewSource(seed))
	pos := make([][2]float64, nodes)
	for i := range pos {
		angle := 2 * math.Pi * float64(i) / float64(nodes)
		pos[i][0] = math.Cos(angle) + 0.05*rng.NormFloat64()
		pos[i][1] = math.Sin(angle) + 0.05*rng.NormFloat64()
	}
	if nodes == 1 {
		return pos, nil
	}

	const iterations = 200
	area := 4.0
	k := math.Sqrt(area / float64(nodes))
	disp := make([][2]float64, nodes)

	for iter := 0; iter < iterations; iter++ {
		for i := range disp {
			disp[i] = [2]float64{}
		}

		for i := 0; i < nodes; i++ {
			for j := i + 1; j < nodes; j++ {
				dx := pos[i][0] - pos[j][0]
				dy := pos[i][1] - pos[j][1]
				d := math.Hypot(dx, dy)
				if d < 1e-9 {
					d = 1e-9
				}
				f := k * k / d
				disp[i][0] += dx / d * f
				disp[i][1] += dy / d * f
				disp[j][0] -= dx / d * f
				disp[j][1] -= dy / d * f
			}
		}

		for _, e := range edges {
			dx := pos[e.From][0] - pos[e.To][0]
			dy := pos[e.From][1] - pos[e.To][1]
			d := math.Hypot(dx, dy)
			if d < 1e-9 {
				d = 1e-9
			}
			f := d * d / k
			disp[e.From][0] -= dx / d * f
			disp[e.From][1] -= dy / d * f
			disp[e.To][0] += dx / d * f
			disp[e.To][1] += dy / d * f
		}

		temp := 0.1 * (1 - float64(iter)/iterations)
		for i := range pos {
			d := math.Hypot(disp[i][0], disp[i][1])
			if d < 1e-9 {
				continue
			}
			step := math.Min(d, temp)
			pos[i][0] += disp[i][0] / d * step
			pos[i][1] += disp[i][1] / d * step
		}
	}
	return pos, nil
}
