package coordinator

import (
	"context"
	"time"

	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/rs/zerolog"
)

// View is the subset of *node.Agent the sweeper needs: the local
// cluster view to prune, and the means to tell whether this process is
// currently the elected coordinator (spec §4.3: "non-coordinators do
// not expire peers").
type View interface {
	Identity() string
	Coordinator() (string, *types.NodeDescriptor)
	ExpireStale(threshold time.Duration) []string
}

// Sweeper runs the periodic expiry sweep on whichever node currently
// holds the coordinator role.
type Sweeper struct {
	view      View
	threshold time.Duration
	interval  time.Duration
	broker    *events.Broker
	log       zerolog.Logger
}

// NewSweeper builds a Sweeper that expires members whose last heartbeat
// is older than threshold, checking every interval. Both values are
// used as given; interval must be positive.
func NewSweeper(view View, threshold, interval time.Duration, broker *events.Broker) *Sweeper {
	return &Sweeper{
		view:      view,
		threshold: threshold,
		interval:  interval,
		broker:    broker,
		log:       log.WithComponent("coordinator"),
	}
}

// Run drives the sweep loop until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	coordID, _ := s.view.Coordinator()
	if coordID != s.view.Identity() {
		return
	}

	expired := s.view.ExpireStale(s.threshold)
	for _, id := range expired {
		metrics.HeartbeatExpiries.Inc()
		metrics.NodesTotal.WithLabelValues("alive").Dec()
		s.log.Info().Str("node_id", id).Msg("expired stale member")
		if s.broker != nil {
			s.broker.Publish(&events.Event{
				Type:    events.EventNodeDown,
				Message: "expired stale member " + id,
				Metadata: map[string]string{
					"node_id": id,
				},
			})
		}
	}
}
