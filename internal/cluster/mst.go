package cluster

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// Edge is one MST edge between two grid nodes.
type Edge struct {
	From   int     `json:"from"`
	To     int     `json:"to"`
	Weight float64 `json:"weight"`
}

// MST computes the minimum spanning tree over the map's code vectors,
// treating them as a complete graph with Euclidean edge weights. A map
// with n nodes yields exactly n-1 edges, sorted by (From, To) so output
// is stable.
func MST(som *SOM) ([]Edge, error) {
	n := som.Nodes()
	if n == 0 {
		return nil, fmt.Errorf("cluster: map has no nodes")
	}
	if n == 1 {
		return []Edge{}, nil
	}

	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(i),
				T: simple.Node(j),
				W: math.Sqrt(sqDist(som.Codes[i], som.Codes[j])),
			})
		}
	}

	tree := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	path.Kruskal(tree, g)

	var edges []Edge
	it := tree.WeightedEdges()
	for it.Next() {
		e := it.WeightedEdge()
		from, to := int(e.From().ID()), int(e.To().ID())
		if from > to {
			from, to = to, from
		}
		edges = append(edges, Edge{From: from, To: to, Weight: e.Weight()})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	if len(edges) != n-1 {
		return nil, fmt.Errorf("cluster: spanning tree has %d edges, want %d", len(edges), n-1)
	}
	return edges, nil
}
