package types

import "time"

// NodeDescriptor is the mutable telemetry record for one fabric node.
// Identity is the "ip:port" string used as the wire identity and as the
// key into every cluster view and connection pool in the system.
type NodeDescriptor struct {
	ID string // "ip:port"

	ProcessingSpeed float64

	TotalCompute int64
	UsedCompute  int64
	FreeCompute  int64

	TotalStorage int64
	UsedStorage  int64
	FreeStorage  int64

	BandwidthCapacity int64
	FreeBandwidth     int64
	CPUUsedRate       float64

	Waiting int
	Dealing int
	Dealt   int

	LastHeartbeat time.Time

	X, Y        float64
	SenseRadius float64

	// Neighbors holds peer identity strings only; descriptors are never
	// embedded by reference so the wire form stays a flat, acyclic record
	// (see spec Design Notes on cyclic references).
	Neighbors []string
}

// Clone returns a deep copy safe to hand to a caller outside the lock
// that protects the source descriptor.
func (n *NodeDescriptor) Clone() *NodeDescriptor {
	if n == nil {
		return nil
	}
	c := *n
	if n.Neighbors != nil {
		c.Neighbors = append([]string(nil), n.Neighbors...)
	}
	return &c
}

// DefaultParallelismCap is the default admission-control ceiling on
// concurrent in-flight inference requests per node (spec §3, §4.2).
const DefaultParallelismCap = 2

// ClusterSnapshot is the wire-friendly, acyclic rendering of a cluster
// view: a flat list of descriptors plus the identity of the current
// coordinator (or "" if none is known yet).
type ClusterSnapshot struct {
	Nodes       []*NodeDescriptor
	Coordinator string
}

// JobState is the lifecycle state of a Job (spec §3).
type JobState string

const (
	JobCreated     JobState = "created"
	JobPlacing     JobState = "placing"
	JobDispatching JobState = "dispatching"
	JobCompleted   JobState = "completed"
	JobFailed      JobState = "failed"
)

// SubTaskState is the lifecycle state of a Sub-task (spec §3).
type SubTaskState string

const (
	SubTaskQueued   SubTaskState = "queued"
	SubTaskInFlight SubTaskState = "in-flight"
	SubTaskDone     SubTaskState = "done"
	SubTaskFailed   SubTaskState = "failed"
)

// MaxReassignments is the ceiling on consecutive re-placements for a
// single sub-task before it is surfaced as SubTaskFailed (spec §4.6 step 6).
const MaxReassignments = 3

// FrameSegment is the payload handed to a sub-task: the slice of frames
// (opaque references produced by the frame splitter, out of scope) that
// this sub-task's inference worker must process.
type FrameSegment struct {
	StartFrame int
	EndFrame   int
	Frames     []string
}

// ImageArtifact describes one finished frame ready for archival.
type ImageArtifact struct {
	Index     int
	Filename  string
	Path      string
	SizeBytes int64
}

// InferenceResult is what a node returns for a completed sub-task.
type InferenceResult struct {
	SubTaskID string
	Images    []ImageArtifact
	Summary   string
}

// SubTask is one unit of dispatch: one node, one FIFO slot, one result.
type SubTask struct {
	ID         string // job_id + "_" + group_idx + "_" + task_idx
	JobID      string
	GroupIndex int
	TaskIndex  int

	NodeID    string
	Payload   FrameSegment
	SizeBytes int64

	State SubTaskState

	StartedAt time.Time
	EndedAt   time.Time

	Result *InferenceResult

	Reassignments int
}

// Group is one DAG partition of a job: an ordered list of sub-tasks
// plus an adjacency matrix with edges only from lower to higher
// index (spec §3 DAG invariant).
type Group struct {
	Index     int
	SubTasks  []*SubTask
	Adjacency [][]bool // Adjacency[i][j] true means edge i->j, i<j
}

// Job is one front-end submission, partitioned into G groups of K
// sub-tasks each (defaults 10x10, spec §3/§4.6).
type Job struct {
	ID           string
	MediaLocator string
	Groups       []*Group
	State        JobState
	CreatedAt    time.Time
	TotalFrames  int
	ArchivalPath string
}

// SubTaskCount returns the total number of sub-tasks across all groups.
func (j *Job) SubTaskCount() int {
	n := 0
	for _, g := range j.Groups {
		n += len(g.SubTasks)
	}
	return n
}

// AllSubTasks returns every sub-task in the job, group order then task order.
func (j *Job) AllSubTasks() []*SubTask {
	var out []*SubTask
	for _, g := range j.Groups {
		out = append(out, g.SubTasks...)
	}
	return out
}

// PlacementQuery is the "ask" payload sent to the placement oracle for
// one group: short task names local to the group, the group's DAG, and
// the per-task payload size in bytes (spec §4.5).
type PlacementQuery struct {
	JobID      string
	GroupIndex int
	TaskNames  []string
	Adjacency  [][]bool
	Sizes      []int64
}

// PlacementAssignment pairs one short task name with a chosen node identity.
type PlacementAssignment struct {
	Task string
	Node string
}

// PlacementAnswer is the oracle's "placement" reply: one assignment per
// submitted task name (spec §4.5).
type PlacementAnswer struct {
	JobID      string
	GroupIndex int
	Assignment []PlacementAssignment
}
