package taskmanager

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/cuemby/fabric/pkg/types"
)

// splitter turns one job submission into G groups of K sub-tasks each,
// with a random DAG per group (spec §4.6 step 2: edges i->j iff i<j at
// edgeProbability).
type splitter struct {
	groupCount      int
	subTaskCount    int
	edgeProbability float64
	rnd             *rand.Rand
}

func newSplitter(groupCount, subTaskCount int, edgeProbability float64) *splitter {
	return &splitter{
		groupCount:      groupCount,
		subTaskCount:    subTaskCount,
		edgeProbability: edgeProbability,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// split partitions totalFrames evenly across groupCount*subTaskCount
// sub-tasks (the last sub-task absorbs any remainder) and assigns each
// one a fully-qualified ID matching pkg/placement's qualify() output.
func (s *splitter) split(jobID string, totalFrames int) []*types.Group {
	n := s.groupCount * s.subTaskCount
	framesPer := 0
	if n > 0 {
		framesPer = totalFrames / n
	}

	groups := make([]*types.Group, s.groupCount)
	frame := 0
	for g := 0; g < s.groupCount; g++ {
		subTasks := make([]*types.SubTask, s.subTaskCount)
		for k := 0; k < s.subTaskCount; k++ {
			start := frame
			end := start + framesPer
			if g == s.groupCount-1 && k == s.subTaskCount-1 {
				end = totalFrames
			}
			frame = end

			subTasks[k] = &types.SubTask{
				ID:         fmt.Sprintf("%s_%d_%d", jobID, g, k),
				JobID:      jobID,
				GroupIndex: g,
				TaskIndex:  k,
				SizeBytes:  int64(end-start) * frameByteEstimate,
				State:      types.SubTaskQueued,
				Payload: types.FrameSegment{
					StartFrame: start,
					EndFrame:   end,
				},
			}
		}
		groups[g] = &types.Group{
			Index:     g,
			SubTasks:  subTasks,
			Adjacency: s.randomDAG(s.subTaskCount),
		}
	}
	return groups
}

// frameByteEstimate is a placeholder per-frame size used only to size
// the sub-task payload reported to the placement oracle; the frame
// splitter (out of scope, spec §1) is the source of truth for real
// media sizes.
const frameByteEstimate = 1 << 16

func (s *splitter) randomDAG(k int) [][]bool {
	adj := make([][]bool, k)
	for i := range adj {
		adj[i] = make([]bool, k)
		for j := i + 1; j < k; j++ {
			adj[i][j] = s.rnd.Float64() < s.edgeProbability
		}
	}
	return adj
}
