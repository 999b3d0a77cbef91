package node

import (
	"context"
	"errors"
	"testing"

	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestHandleGetNodeInfoReturnsSelf(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)

	reply, err := a.Handle(context.Background(), &wire.Envelope{Kind: wire.KindGetNodeInfo})
	require.NoError(t, err)
	require.Equal(t, wire.KindAnsNodeInfo, reply.Kind)
	require.Equal(t, "10.0.0.1:5002", reply.Node.ID)
	require.Empty(t, reply.Nodes)
}

func TestHandleGetNodeInfoIncludesCoordinator(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)
	coord := &types.NodeDescriptor{ID: "10.0.0.9:5002"}
	a.SetCoordinator(coord.ID, coord)

	reply, err := a.Handle(context.Background(), &wire.Envelope{Kind: wire.KindGetNodeInfo})
	require.NoError(t, err)
	require.Len(t, reply.Nodes, 1)
	require.Equal(t, coord.ID, reply.Nodes[0].ID)
}

func TestHandleGetNodesInfoReturnsView(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)
	a.MergeView(&types.NodeDescriptor{ID: "10.0.0.2:5002"})

	reply, err := a.Handle(context.Background(), &wire.Envelope{Kind: wire.KindGetNodesInfo})
	require.NoError(t, err)
	require.Equal(t, wire.KindAnsNodesInfo, reply.Kind)
	require.Len(t, reply.Nodes, 2)
}

func TestHandleSingleNodeInfoMergesSender(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)

	reply, err := a.Handle(context.Background(), &wire.Envelope{
		Kind: wire.KindSingleNodeInfo,
		Node: &types.NodeDescriptor{ID: "10.0.0.2:5002"},
	})
	require.NoError(t, err)
	require.Nil(t, reply)
	require.Len(t, a.ViewSnapshot(), 2)
}

func TestHandleSelectedCenterNodeSetsCoordinator(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)

	_, err := a.Handle(context.Background(), &wire.Envelope{
		Kind: wire.KindSelectedCenterNode,
		Node: &types.NodeDescriptor{ID: "10.0.0.2:5002"},
	})
	require.NoError(t, err)

	coordID, _ := a.Coordinator()
	require.Equal(t, "10.0.0.2:5002", coordID)
}

func TestHandleUpdateNodeInfoMutatesResources(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)

	_, err := a.Handle(context.Background(), &wire.Envelope{
		Kind:      wire.KindUpdateNodeInfo,
		Resources: &wire.ResourceUpdate{CPU: 4096, Bandwidth: 200, Memory: 8192},
	})
	require.NoError(t, err)

	d := a.Descriptor()
	require.Equal(t, int64(4096), d.TotalCompute)
	require.Equal(t, int64(200), d.BandwidthCapacity)
	require.Equal(t, int64(8192), d.TotalStorage)
}

func TestHandleShutdownClosesDone(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)

	_, err := a.Handle(context.Background(), &wire.Envelope{Kind: wire.KindShutdown})
	require.NoError(t, err)

	select {
	case <-a.Done():
	default:
		t.Fatal("shutdown handler should close Done")
	}
}

func TestHandleGetObjectsNewRunsInference(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	a := New(testConfig("10.0.0.1:5002"), &stubRunner{result: &types.InferenceResult{Summary: "done"}}, broker)

	reply, err := a.Handle(context.Background(), &wire.Envelope{
		Kind:      wire.KindGetObjectsNew,
		SubTaskID: "job_0_0",
		SizeBytes: 10,
		Segment:   &types.FrameSegment{StartFrame: 0, EndFrame: 5},
	})
	require.NoError(t, err)
	require.Equal(t, wire.KindAnsGetObjects, reply.Kind)
	require.Equal(t, "job_0_0", reply.Result.SubTaskID)
	require.Equal(t, "done", reply.Result.Summary)

	d := a.Descriptor()
	require.Equal(t, int64(0), d.UsedCompute)
	require.Equal(t, 1, d.Dealt)
}

func TestHandleGetObjectsNewReleasesOnInferenceError(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{err: errors.New("inference boom")}, nil)

	_, err := a.Handle(context.Background(), &wire.Envelope{
		Kind:      wire.KindGetObjectsNew,
		SubTaskID: "job_0_0",
		SizeBytes: 10,
		Segment:   &types.FrameSegment{StartFrame: 0, EndFrame: 5},
	})
	require.Error(t, err)

	d := a.Descriptor()
	require.Equal(t, int64(0), d.UsedCompute)
	require.Equal(t, 0, d.Dealing)
	require.Equal(t, 0, d.Dealt)
}

func TestHandleUnknownKindIsBadEnvelope(t *testing.T) {
	a := New(testConfig("10.0.0.1:5002"), &stubRunner{}, nil)

	_, err := a.Handle(context.Background(), &wire.Envelope{Kind: wire.KindAsk})
	require.Error(t, err)
}
