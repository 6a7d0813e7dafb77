package cluster

import (
	"fmt"
	"math"
)

// Metacluster merges the map's code vectors into k groups with
// average-linkage agglomerative clustering. The result has one metacluster
// index per grid node, numbered 0..k-1 in order of first appearance so the
// labeling is stable across runs. k larger than the node count is clamped.
func Metacluster(som *SOM, k int) ([]int, error) {
	n := som.Nodes()
	if n == 0 {
		return nil, fmt.Errorf("cluster: map has no nodes")
	}
	if k < 1 {
		return nil, fmt.Errorf("cluster: need at least one metacluster, got %d", k)
	}
	if k > n {
		k = n
	}

	// Each node starts as its own cluster; dist holds average-linkage
	// distances between live clusters.
	members := make([][]int, n)
	for i := range members {
		members[i] = []int{i}
	}
	alive := make([]bool, n)
	for i := range alive {
		alive[i] = true
	}
	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			if i != j {
				dist[i][j] = math.Sqrt(sqDist(som.Codes[i], som.Codes[j]))
			}
		}
	}

	for remaining := n; remaining > k; remaining-- {
		// Closest pair, lowest indices on ties.
		bi, bj, best := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !alive[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !alive[j] {
					continue
				}
				if dist[i][j] < best {
					bi, bj, best = i, j, dist[i][j]
				}
			}
		}

		// Merge j into i; average linkage weights by cluster size.
		ni := float64(len(members[bi]))
		nj := float64(len(members[bj]))
		for m := 0; m < n; m++ {
			if !alive[m] || m == bi || m == bj {
				continue
			}
			d := (ni*dist[bi][m] + nj*dist[bj][m]) / (ni + nj)
			dist[bi][m], dist[m][bi] = d, d
		}
		members[bi] = append(members[bi], members[bj]...)
		members[bj] = nil
		alive[bj] = false
	}

	// Number surviving clusters by their smallest member node.
	labels := make([]int, n)
	next := 0
	for i := 0; i < n; i++ {
		if !alive[i] {
			continue
		}
		for _, m := range members[i] {
			labels[m] = next
		}
		next++
	}
	return labels, nil
}
