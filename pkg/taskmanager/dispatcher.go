package taskmanager

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
)

// resultWaitBackoff is the pause before retrying a sub-task whose
// result socket died mid-wait (spec §4.6 step 7).
const resultWaitBackoff = time.Second

// dispatcher is the single worker servicing one (job, destination-node)
// FIFO queue (spec §4.6, §5). It processes sub-tasks strictly in
// enqueue order, never running two at once.
type dispatcher struct {
	mgr    *Manager
	jobID  string
	nodeID string
	queue  *fifoQueue
}

func (d *dispatcher) run(ctx context.Context) {
	for {
		st, ok := d.queue.pop(ctx)
		if !ok {
			return
		}
		d.process(ctx, st)
	}
}

// process drives one sub-task through dispatch, retrying connect/send
// failures via re-placement and handling a result-wait failure by
// re-queuing the same sub-task at the head of its queue.
func (d *dispatcher) process(ctx context.Context, st *types.SubTask) {
	timer := metrics.NewTimer()
	node := st.NodeID

	for {
		if ctx.Err() != nil {
			return
		}

		env := &wire.Envelope{
			Kind:      wire.KindGetObjectsNew,
			SubTaskID: st.ID,
			SizeBytes: st.SizeBytes,
			Segment:   &st.Payload,
		}

		var reply *wire.Envelope
		sent := false
		err := d.mgr.pool.WithConn(node, func(conn net.Conn) error {
			if err := wire.SendMessage(conn, env); err != nil {
				return err
			}
			sent = true
			st.State = types.SubTaskInFlight
			st.StartedAt = time.Now()

			var err error
			reply, err = wire.ReceiveMessage(conn, 0)
			return err
		})
		if err != nil {
			if !sent {
				if !d.reassign(st, &node, err) {
					return
				}
				continue
			}
			d.queue.pushFront(st)
			time.Sleep(resultWaitBackoff)
			return
		}

		st.EndedAt = time.Now()
		st.NodeID = node
		st.State = types.SubTaskDone
		timer.ObserveDuration(metrics.DispatchLatency)

		d.mgr.recordResult(d.jobID, st, reply.Result)
		d.mgr.broker.Publish(&events.Event{
			Type:    events.EventSubTaskCompleted,
			Message: fmt.Sprintf("%s completed on %s", st.ID, node),
			Metadata: map[string]string{
				"job_id":     d.jobID,
				"subtask_id": st.ID,
				"node":       node,
				"deal_time":  fmt.Sprintf("%.2f", st.EndedAt.Sub(st.StartedAt).Seconds()),
			},
		})
		d.mgr.archiveImages(d.jobID, st, reply.Result)
		return
	}
}

// reassign asks the placement oracle for a single-task replacement
// after a connect or send failure (spec §4.6 step 6). It reports
// whether the caller should retry with the new destination; false
// means the sub-task has exhausted its re-placement budget and has
// been recorded as failed.
func (d *dispatcher) reassign(st *types.SubTask, node *string, cause error) bool {
	oldNode := *node
	st.Reassignments++
	if st.Reassignments > types.MaxReassignments {
		st.State = types.SubTaskFailed
		d.mgr.recordResult(d.jobID, st, nil)
		d.mgr.broker.Publish(&events.Event{
			Type:    events.EventSubTaskFailed,
			Message: fmt.Sprintf("%s exhausted re-placement budget: %v", st.ID, cause),
			Metadata: map[string]string{
				"job_id":     d.jobID,
				"subtask_id": st.ID,
			},
		})
		return false
	}

	newNode, err := d.mgr.placement.ReplaceOne(st.JobID, st.GroupIndex, st.SizeBytes)
	if err != nil {
		st.State = types.SubTaskFailed
		d.mgr.recordResult(d.jobID, st, nil)
		d.mgr.broker.Publish(&events.Event{
			Type:    events.EventSubTaskFailed,
			Message: fmt.Sprintf("%s: replacement placement unavailable: %v", st.ID, err),
			Metadata: map[string]string{
				"job_id":     d.jobID,
				"subtask_id": st.ID,
			},
		})
		return false
	}

	*node = newNode
	st.NodeID = newNode
	metrics.SubTasksReassigned.Inc()
	d.mgr.broker.Publish(&events.Event{
		Type:    events.EventSubTaskReassigned,
		Message: fmt.Sprintf("%s reassigned to %s after: %v", st.ID, newNode, cause),
		Metadata: map[string]string{
			"job_id":     d.jobID,
			"subtask_id": st.ID,
			"node":       newNode,
			"old_node":   oldNode,
		},
	})
	return true
}
