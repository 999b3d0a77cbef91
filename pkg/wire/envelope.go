package wire

import (
	"fmt"
	"time"

	"github.com/cuemby/fabric/pkg/types"
	"github.com/tinylib/msgp/msgp"
)

// nanosToTime converts the int64 unix-nano encoding used for every
// time.Time field on the wire back into a time.Time. A zero input
// yields the zero time.Time, not the Unix epoch, so an absent
// timestamp round-trips as absent.
func nanosToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}

// ResourceUpdate carries the mutable fields of an update_node_info
// message (spec §4.2): configured cpu/bandwidth/memory.
type ResourceUpdate struct {
	CPU       int64
	Bandwidth int64
	Memory    int64
}

// Envelope is the tagged record carried by every frame: {kind, payload,
// reply_hint} from spec §3. Only the fields relevant to Kind are
// populated by a sender; the rest are zero/nil. The wire layout is a
// fixed-size array so every Kind shares one encode/decode path and
// round-trips as the identity (spec §8).
type Envelope struct {
	Kind      Kind
	ReplyHint string

	Node  *types.NodeDescriptor
	Nodes []*types.NodeDescriptor

	SubTaskID string
	SizeBytes int64
	Segment   *types.FrameSegment
	Result    *types.InferenceResult

	PlacementQuery  *types.PlacementQuery
	PlacementAnswer *types.PlacementAnswer

	Resources *ResourceUpdate
	Opcode    string
}

const envelopeSlots = 12

// MarshalMsg appends the msgpack encoding of e to b, matching the
// signature msgp's code generator emits for msgp.Marshaler.
func (e *Envelope) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.AppendArrayHeader(b, envelopeSlots)
	o = msgp.AppendUint8(o, uint8(e.Kind))
	o = msgp.AppendString(o, e.ReplyHint)
	o = appendNode(o, e.Node)
	o = appendNodes(o, e.Nodes)
	o = msgp.AppendString(o, e.SubTaskID)
	o = msgp.AppendInt64(o, e.SizeBytes)
	o = appendSegment(o, e.Segment)
	o = appendResult(o, e.Result)
	o = appendPlacementQuery(o, e.PlacementQuery)
	o = appendPlacementAnswer(o, e.PlacementAnswer)
	o = appendResources(o, e.Resources)
	o = msgp.AppendString(o, e.Opcode)
	return o, nil
}

// UnmarshalMsg decodes bts into e, returning any unconsumed trailing
// bytes, matching msgp.Unmarshaler's signature.
func (e *Envelope) UnmarshalMsg(bts []byte) ([]byte, error) {
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, fmt.Errorf("wire: envelope array header: %w", err)
	}
	if sz != envelopeSlots {
		return nil, fmt.Errorf("wire: envelope has %d slots, want %d: %w", sz, envelopeSlots, ErrBadEnvelope)
	}

	kindByte, bts, err := msgp.ReadUint8Bytes(bts)
	if err != nil {
		return nil, fmt.Errorf("wire: read kind: %w", err)
	}
	e.Kind = Kind(kindByte)
	if !e.Kind.Valid() {
		return nil, fmt.Errorf("wire: kind %d out of range: %w", kindByte, ErrBadEnvelope)
	}

	if e.ReplyHint, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, fmt.Errorf("wire: read reply_hint: %w", err)
	}
	if e.Node, bts, err = readNode(bts); err != nil {
		return nil, err
	}
	if e.Nodes, bts, err = readNodes(bts); err != nil {
		return nil, err
	}
	if e.SubTaskID, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, fmt.Errorf("wire: read subtask_id: %w", err)
	}
	if e.SizeBytes, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
		return nil, fmt.Errorf("wire: read size_bytes: %w", err)
	}
	if e.Segment, bts, err = readSegment(bts); err != nil {
		return nil, err
	}
	if e.Result, bts, err = readResult(bts); err != nil {
		return nil, err
	}
	if e.PlacementQuery, bts, err = readPlacementQuery(bts); err != nil {
		return nil, err
	}
	if e.PlacementAnswer, bts, err = readPlacementAnswer(bts); err != nil {
		return nil, err
	}
	if e.Resources, bts, err = readResources(bts); err != nil {
		return nil, err
	}
	if e.Opcode, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, fmt.Errorf("wire: read opcode: %w", err)
	}
	return bts, nil
}

// EncodeEnvelope is the convenience entry point used by callers that
// just want frame-ready bytes.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	return e.MarshalMsg(nil)
}

// DecodeEnvelope is the inverse of EncodeEnvelope.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	e := &Envelope{}
	rest, err := e.UnmarshalMsg(payload)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("wire: %d trailing bytes after envelope: %w", len(rest), ErrBadEnvelope)
	}
	return e, nil
}

// --- nested-type helpers -------------------------------------------------
//
// Every nilable nested type is prefixed with a presence flag so decode
// never has to guess; this keeps the whole envelope one flat, symmetric
// array regardless of which Kind populated which field.

const nodeSlots = 19

func appendNode(b []byte, n *types.NodeDescriptor) []byte {
	b = msgp.AppendBool(b, n != nil)
	if n == nil {
		return b
	}
	b = msgp.AppendArrayHeader(b, nodeSlots)
	b = msgp.AppendString(b, n.ID)
	b = msgp.AppendFloat64(b, n.ProcessingSpeed)
	b = msgp.AppendInt64(b, n.TotalCompute)
	b = msgp.AppendInt64(b, n.UsedCompute)
	b = msgp.AppendInt64(b, n.FreeCompute)
	b = msgp.AppendInt64(b, n.TotalStorage)
	b = msgp.AppendInt64(b, n.UsedStorage)
	b = msgp.AppendInt64(b, n.FreeStorage)
	b = msgp.AppendInt64(b, n.BandwidthCapacity)
	b = msgp.AppendInt64(b, n.FreeBandwidth)
	b = msgp.AppendFloat64(b, n.CPUUsedRate)
	b = msgp.AppendInt(b, n.Waiting)
	b = msgp.AppendInt(b, n.Dealing)
	b = msgp.AppendInt(b, n.Dealt)
	b = msgp.AppendInt64(b, n.LastHeartbeat.UnixNano())
	b = msgp.AppendFloat64(b, n.X)
	b = msgp.AppendFloat64(b, n.Y)
	b = msgp.AppendFloat64(b, n.SenseRadius)
	b = appendStrings(b, n.Neighbors)
	return b
}

func readNode(bts []byte) (*types.NodeDescriptor, []byte, error) {
	present, bts, err := msgp.ReadBoolBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read node presence: %w", err)
	}
	if !present {
		return nil, bts, nil
	}
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: node array header: %w", err)
	}
	if sz != nodeSlots {
		return nil, nil, fmt.Errorf("wire: node has %d slots, want %d: %w", sz, nodeSlots, ErrBadEnvelope)
	}
	n := &types.NodeDescriptor{}
	var heartbeatNanos int64
	for _, step := range []struct {
		name string
		fn   func([]byte) ([]byte, error)
	}{
		{"id", func(b []byte) (r []byte, err error) { n.ID, r, err = msgp.ReadStringBytes(b); return }},
		{"speed", func(b []byte) (r []byte, err error) { n.ProcessingSpeed, r, err = msgp.ReadFloat64Bytes(b); return }},
		{"total_compute", func(b []byte) (r []byte, err error) { n.TotalCompute, r, err = msgp.ReadInt64Bytes(b); return }},
		{"used_compute", func(b []byte) (r []byte, err error) { n.UsedCompute, r, err = msgp.ReadInt64Bytes(b); return }},
		{"free_compute", func(b []byte) (r []byte, err error) { n.FreeCompute, r, err = msgp.ReadInt64Bytes(b); return }},
		{"total_storage", func(b []byte) (r []byte, err error) { n.TotalStorage, r, err = msgp.ReadInt64Bytes(b); return }},
		{"used_storage", func(b []byte) (r []byte, err error) { n.UsedStorage, r, err = msgp.ReadInt64Bytes(b); return }},
		{"free_storage", func(b []byte) (r []byte, err error) { n.FreeStorage, r, err = msgp.ReadInt64Bytes(b); return }},
		{"bandwidth_cap", func(b []byte) (r []byte, err error) { n.BandwidthCapacity, r, err = msgp.ReadInt64Bytes(b); return }},
		{"free_bandwidth", func(b []byte) (r []byte, err error) { n.FreeBandwidth, r, err = msgp.ReadInt64Bytes(b); return }},
		{"cpu_used_rate", func(b []byte) (r []byte, err error) { n.CPUUsedRate, r, err = msgp.ReadFloat64Bytes(b); return }},
		{"waiting", func(b []byte) (r []byte, err error) { n.Waiting, r, err = msgp.ReadIntBytes(b); return }},
		{"dealing", func(b []byte) (r []byte, err error) { n.Dealing, r, err = msgp.ReadIntBytes(b); return }},
		{"dealt", func(b []byte) (r []byte, err error) { n.Dealt, r, err = msgp.ReadIntBytes(b); return }},
		{"last_heartbeat", func(b []byte) (r []byte, err error) { heartbeatNanos, r, err = msgp.ReadInt64Bytes(b); return }},
		{"x", func(b []byte) (r []byte, err error) { n.X, r, err = msgp.ReadFloat64Bytes(b); return }},
		{"y", func(b []byte) (r []byte, err error) { n.Y, r, err = msgp.ReadFloat64Bytes(b); return }},
		{"sense_radius", func(b []byte) (r []byte, err error) { n.SenseRadius, r, err = msgp.ReadFloat64Bytes(b); return }},
	} {
		bts, err = step.fn(bts)
		if err != nil {
			return nil, nil, fmt.Errorf("wire: read node.%s: %w", step.name, err)
		}
	}
	n.LastHeartbeat = nanosToTime(heartbeatNanos)
	neighbors, rest, err := readStrings(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read node.neighbors: %w", err)
	}
	n.Neighbors = neighbors
	return n, rest, nil
}

func appendNodes(b []byte, nodes []*types.NodeDescriptor) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(nodes)))
	for _, n := range nodes {
		b = appendNode(b, n)
	}
	return b
}

func readNodes(bts []byte) ([]*types.NodeDescriptor, []byte, error) {
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: nodes array header: %w", err)
	}
	if sz == 0 {
		return nil, bts, nil
	}
	out := make([]*types.NodeDescriptor, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var n *types.NodeDescriptor
		n, bts, err = readNode(bts)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, n)
	}
	return out, bts, nil
}

func appendSegment(b []byte, s *types.FrameSegment) []byte {
	b = msgp.AppendBool(b, s != nil)
	if s == nil {
		return b
	}
	b = msgp.AppendInt(b, s.StartFrame)
	b = msgp.AppendInt(b, s.EndFrame)
	b = appendStrings(b, s.Frames)
	return b
}

func readSegment(bts []byte) (*types.FrameSegment, []byte, error) {
	present, bts, err := msgp.ReadBoolBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read segment presence: %w", err)
	}
	if !present {
		return nil, bts, nil
	}
	s := &types.FrameSegment{}
	if s.StartFrame, bts, err = msgp.ReadIntBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read segment.start: %w", err)
	}
	if s.EndFrame, bts, err = msgp.ReadIntBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read segment.end: %w", err)
	}
	if s.Frames, bts, err = readStrings(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read segment.frames: %w", err)
	}
	return s, bts, nil
}

func appendResult(b []byte, r *types.InferenceResult) []byte {
	b = msgp.AppendBool(b, r != nil)
	if r == nil {
		return b
	}
	b = msgp.AppendString(b, r.SubTaskID)
	b = msgp.AppendArrayHeader(b, uint32(len(r.Images)))
	for _, img := range r.Images {
		b = msgp.AppendInt(b, img.Index)
		b = msgp.AppendString(b, img.Filename)
		b = msgp.AppendString(b, img.Path)
		b = msgp.AppendInt64(b, img.SizeBytes)
	}
	b = msgp.AppendString(b, r.Summary)
	return b
}

func readResult(bts []byte) (*types.InferenceResult, []byte, error) {
	present, bts, err := msgp.ReadBoolBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read result presence: %w", err)
	}
	if !present {
		return nil, bts, nil
	}
	r := &types.InferenceResult{}
	if r.SubTaskID, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read result.subtask_id: %w", err)
	}
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: result.images array header: %w", err)
	}
	r.Images = make([]types.ImageArtifact, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var img types.ImageArtifact
		if img.Index, bts, err = msgp.ReadIntBytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read image.index: %w", err)
		}
		if img.Filename, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read image.filename: %w", err)
		}
		if img.Path, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read image.path: %w", err)
		}
		if img.SizeBytes, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read image.size: %w", err)
		}
		r.Images = append(r.Images, img)
	}
	if r.Summary, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read result.summary: %w", err)
	}
	return r, bts, nil
}

func appendPlacementQuery(b []byte, q *types.PlacementQuery) []byte {
	b = msgp.AppendBool(b, q != nil)
	if q == nil {
		return b
	}
	b = msgp.AppendString(b, q.JobID)
	b = msgp.AppendInt(b, q.GroupIndex)
	b = appendStrings(b, q.TaskNames)
	b = appendAdjacency(b, q.Adjacency)
	b = msgp.AppendArrayHeader(b, uint32(len(q.Sizes)))
	for _, s := range q.Sizes {
		b = msgp.AppendInt64(b, s)
	}
	return b
}

func readPlacementQuery(bts []byte) (*types.PlacementQuery, []byte, error) {
	present, bts, err := msgp.ReadBoolBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read placement_query presence: %w", err)
	}
	if !present {
		return nil, bts, nil
	}
	q := &types.PlacementQuery{}
	if q.JobID, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read query.job_id: %w", err)
	}
	if q.GroupIndex, bts, err = msgp.ReadIntBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read query.group_index: %w", err)
	}
	if q.TaskNames, bts, err = readStrings(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read query.task_names: %w", err)
	}
	if q.Adjacency, bts, err = readAdjacency(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read query.adjacency: %w", err)
	}
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: query.sizes array header: %w", err)
	}
	q.Sizes = make([]int64, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var s int64
		if s, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read query.sizes[%d]: %w", i, err)
		}
		q.Sizes = append(q.Sizes, s)
	}
	return q, bts, nil
}

func appendPlacementAnswer(b []byte, a *types.PlacementAnswer) []byte {
	b = msgp.AppendBool(b, a != nil)
	if a == nil {
		return b
	}
	b = msgp.AppendString(b, a.JobID)
	b = msgp.AppendInt(b, a.GroupIndex)
	b = msgp.AppendArrayHeader(b, uint32(len(a.Assignment)))
	for _, asn := range a.Assignment {
		b = msgp.AppendString(b, asn.Task)
		b = msgp.AppendString(b, asn.Node)
	}
	return b
}

func readPlacementAnswer(bts []byte) (*types.PlacementAnswer, []byte, error) {
	present, bts, err := msgp.ReadBoolBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read placement_answer presence: %w", err)
	}
	if !present {
		return nil, bts, nil
	}
	a := &types.PlacementAnswer{}
	if a.JobID, bts, err = msgp.ReadStringBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read answer.job_id: %w", err)
	}
	if a.GroupIndex, bts, err = msgp.ReadIntBytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read answer.group_index: %w", err)
	}
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: answer.assignment array header: %w", err)
	}
	a.Assignment = make([]types.PlacementAssignment, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var asn types.PlacementAssignment
		if asn.Task, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read assignment.task: %w", err)
		}
		if asn.Node, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, nil, fmt.Errorf("wire: read assignment.node: %w", err)
		}
		a.Assignment = append(a.Assignment, asn)
	}
	return a, bts, nil
}

func appendResources(b []byte, r *ResourceUpdate) []byte {
	b = msgp.AppendBool(b, r != nil)
	if r == nil {
		return b
	}
	b = msgp.AppendInt64(b, r.CPU)
	b = msgp.AppendInt64(b, r.Bandwidth)
	b = msgp.AppendInt64(b, r.Memory)
	return b
}

func readResources(bts []byte) (*ResourceUpdate, []byte, error) {
	present, bts, err := msgp.ReadBoolBytes(bts)
	if err != nil {
		return nil, nil, fmt.Errorf("wire: read resources presence: %w", err)
	}
	if !present {
		return nil, bts, nil
	}
	r := &ResourceUpdate{}
	if r.CPU, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read resources.cpu: %w", err)
	}
	if r.Bandwidth, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read resources.bandwidth: %w", err)
	}
	if r.Memory, bts, err = msgp.ReadInt64Bytes(bts); err != nil {
		return nil, nil, fmt.Errorf("wire: read resources.memory: %w", err)
	}
	return r, bts, nil
}

func appendStrings(b []byte, ss []string) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(ss)))
	for _, s := range ss {
		b = msgp.AppendString(b, s)
	}
	return b
}

func readStrings(bts []byte) ([]string, []byte, error) {
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, err
	}
	if sz == 0 {
		return nil, bts, nil
	}
	out := make([]string, 0, sz)
	for i := uint32(0); i < sz; i++ {
		var s string
		if s, bts, err = msgp.ReadStringBytes(bts); err != nil {
			return nil, nil, err
		}
		out = append(out, s)
	}
	return out, bts, nil
}

func appendAdjacency(b []byte, adj [][]bool) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(adj)))
	for _, row := range adj {
		b = msgp.AppendArrayHeader(b, uint32(len(row)))
		for _, v := range row {
			b = msgp.AppendBool(b, v)
		}
	}
	return b
}

func readAdjacency(bts []byte) ([][]bool, []byte, error) {
	rows, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return nil, nil, err
	}
	adj := make([][]bool, 0, rows)
	for i := uint32(0); i < rows; i++ {
		cols, rest, err := msgp.ReadArrayHeaderBytes(bts)
		if err != nil {
			return nil, nil, err
		}
		bts = rest
		row := make([]bool, 0, cols)
		for j := uint32(0); j < cols; j++ {
			var v bool
			if v, bts, err = msgp.ReadBoolBytes(bts); err != nil {
				return nil, nil, err
			}
			row = append(row, v)
		}
		adj = append(adj, row)
	}
	return adj, bts, nil
}
