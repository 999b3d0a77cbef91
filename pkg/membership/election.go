package membership

import (
	"github.com/cuemby/fabric/pkg/types"
)

// Winner runs the comparison from spec §4.3: the candidate with the
// largest free compute memory wins; ties break by identity string
// descending. candidates must be non-empty.
func Winner(candidates []*types.NodeDescriptor) *types.NodeDescriptor {
	var best *types.NodeDescriptor
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if best == nil || isBetter(c, best) {
			best = c
		}
	}
	return best
}

func isBetter(candidate, current *types.NodeDescriptor) bool {
	if candidate.FreeCompute != current.FreeCompute {
		return candidate.FreeCompute > current.FreeCompute
	}
	return candidate.ID > current.ID
}
