package gateway

import (
	"fmt"
	"math"

	"github.com/cuemby/fabric/pkg/types"
)

// clusterByRadius groups nodes whose sense radii overlap into
// connected components, a simplified rendering of original_source's
// cluster_nodes_by_radius (spec §4.11 supplement: presentation detail
// only, no control-plane behavior depends on it).
func clusterByRadius(nodes []*types.NodeDescriptor) map[string][]string {
	n := len(nodes)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			dx := nodes[i].X - nodes[j].X
			dy := nodes[i].Y - nodes[j].Y
			dist := math.Sqrt(dx*dx + dy*dy)
			if dist <= nodes[i].SenseRadius+nodes[j].SenseRadius {
				union(i, j)
			}
		}
	}

	groups := make(map[int][]string)
	for i, node := range nodes {
		root := find(i)
		groups[root] = append(groups[root], node.ID)
	}

	out := make(map[string][]string, len(groups))
	idx := 0
	for _, members := range groups {
		out[fmt.Sprintf("cluster%d", idx)] = members
		idx++
	}
	return out
}
