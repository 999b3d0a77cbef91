package node

import (
	"context"
	"fmt"

	"github.com/cuemby/fabric/pkg/errkinds"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
)

// Handle dispatches one decoded Envelope to the handler for its Kind
// and returns the reply to send back. A nil reply means the kind has
// no reply (single_node_info, selected_center_node, update_node_info,
// shutdown, flight opcodes). Routing a reply to env.ReplyHint is left
// to the caller.
func (a *Agent) Handle(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	switch env.Kind {
	case wire.KindGetNodeInfo:
		return a.handleGetNodeInfo(), nil
	case wire.KindGetNodesInfo:
		return a.handleGetNodesInfo(), nil
	case wire.KindSingleNodeInfo:
		a.handleSingleNodeInfo(env)
		return nil, nil
	case wire.KindGetObjectsNew:
		return a.handleGetObjectsNew(ctx, env)
	case wire.KindSelectedCenterNode:
		a.handleSelectedCenterNode(env)
		return nil, nil
	case wire.KindUpdateNodeInfo:
		a.handleUpdateNodeInfo(env)
		return nil, nil
	case wire.KindShutdown:
		a.Shutdown()
		return nil, nil
	case wire.KindGetFlying, wire.KindMoveMachine:
		a.log.Debug().Str("opcode", env.Opcode).Msg("forwarded to flight collaborator")
		return nil, nil
	default:
		return nil, fmt.Errorf("node: %w: unhandled kind %s", wire.ErrBadEnvelope, env.Kind)
	}
}

func (a *Agent) handleGetNodeInfo() *wire.Envelope {
	a.mu.Lock()
	self := a.self.Clone()
	coordID := a.coordinatorID
	var coord *types.NodeDescriptor
	if coordID != "" && coordID != self.ID {
		coord = a.view[coordID].Clone()
	}
	a.mu.Unlock()

	reply := &wire.Envelope{Kind: wire.KindAnsNodeInfo, Node: self}
	if coord != nil {
		reply.Nodes = []*types.NodeDescriptor{coord}
	}
	return reply
}

func (a *Agent) handleGetNodesInfo() *wire.Envelope {
	return &wire.Envelope{Kind: wire.KindAnsNodesInfo, Nodes: a.ViewSnapshot()}
}

func (a *Agent) handleSingleNodeInfo(env *wire.Envelope) {
	if env.Node == nil {
		return
	}
	a.MergeView(env.Node)
	metrics.HeartbeatsReceived.Inc()
}

func (a *Agent) handleSelectedCenterNode(env *wire.Envelope) {
	if env.Node == nil {
		return
	}
	a.SetCoordinator(env.Node.ID, env.Node)
}

func (a *Agent) handleUpdateNodeInfo(env *wire.Envelope) {
	if env.Resources == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if env.Resources.CPU > 0 {
		a.self.TotalCompute = env.Resources.CPU
		a.self.FreeCompute = a.self.TotalCompute - a.self.UsedCompute
	}
	if env.Resources.Bandwidth > 0 {
		a.self.BandwidthCapacity = env.Resources.Bandwidth
		a.self.FreeBandwidth = env.Resources.Bandwidth
	}
	if env.Resources.Memory > 0 {
		a.self.TotalStorage = env.Resources.Memory
		a.self.FreeStorage = a.self.TotalStorage - a.self.UsedStorage
	}
}

// handleGetObjectsNew runs the admission-controlled inference sequence
// from spec §4.2 steps 1-5. The caller is responsible for routing the
// returned envelope to env.ReplyHint when set, else back on the
// originating socket.
func (a *Agent) handleGetObjectsNew(ctx context.Context, env *wire.Envelope) (*wire.Envelope, error) {
	if env.Segment == nil {
		return nil, fmt.Errorf("node: %w: get_objects_new without a segment", wire.ErrBadEnvelope)
	}

	if err := a.Acquire(ctx, env.SizeBytes); err != nil {
		return nil, fmt.Errorf("node: admission: %w", err)
	}

	result, err := a.runner.Run(ctx, *env.Segment)
	if err != nil {
		a.Release(env.SizeBytes, false)
		a.publish(events.EventSubTaskFailed, "inference failed for "+env.SubTaskID, map[string]string{"subtask_id": env.SubTaskID})
		return nil, fmt.Errorf("node: %w: %v", errkinds.ErrSubTaskFailed, err)
	}
	a.Release(env.SizeBytes, true)

	if result.SubTaskID == "" {
		result.SubTaskID = env.SubTaskID
	}
	a.publish(events.EventSubTaskCompleted, "inference complete for "+env.SubTaskID, map[string]string{"subtask_id": env.SubTaskID})

	return &wire.Envelope{
		Kind:      wire.KindAnsGetObjects,
		SubTaskID: env.SubTaskID,
		Result:    result,
	}, nil
}
