package gateway

import (
	"context"

	"github.com/cuemby/fabric/pkg/events"
)

// forward translates domain events into front-end progress messages
// and pushes them on the same connection the request arrived on
// (spec §4.7: "Progress events pushed back on the same connection").
func (g *Gateway) forward(ctx context.Context, sub events.Subscriber, write func(*outboundEnvelope)) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			g.translate(ev, write)
		}
	}
}

func (g *Gateway) translate(ev *events.Event, write func(*outboundEnvelope)) {
	switch ev.Type {
	case events.EventSubTaskCompleted:
		write(&outboundEnvelope{Type: "task_info", Content: taskInfoContent{
			NodeName:    ev.Metadata["node"],
			DealTime:    ev.Metadata["deal_time"],
			SubtaskName: ev.Metadata["subtask_id"],
			TaskName:    ev.Metadata["job_id"],
			Path:        "",
		}})
	case events.EventSubTaskReassigned:
		write(&outboundEnvelope{Type: "reassign_info", Content: reassignInfoContent{
			OldNodeName: ev.Metadata["old_node"],
			SubtaskName: ev.Metadata["subtask_id"],
			TaskName:    ev.Metadata["job_id"],
			NewNodeName: ev.Metadata["node"],
		}})
	case events.EventJobCompleted, events.EventJobFailed:
		write(&outboundEnvelope{Type: "task_info", Content: taskInfoContent{
			TaskName: ev.Metadata["job_id"],
			Path:     ev.Metadata["archival_path"],
		}})
	}
}
