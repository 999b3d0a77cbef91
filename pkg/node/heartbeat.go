package node

import (
	"context"
	"net"
	"time"

	"github.com/cuemby/fabric/pkg/wire"
)

// HeartbeatLoop pushes single_node_info to the current coordinator
// every interval until ctx is cancelled or Shutdown runs (spec §4.2).
// A dead connection clears the local coordinator pointer and invokes
// the registered lost-coordinator handler so membership can re-elect.
func (a *Agent) HeartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat()
		}
	}
}

func (a *Agent) sendHeartbeat() {
	coordID, _ := a.Coordinator()
	if coordID == "" || coordID == a.Identity() {
		return
	}

	self := a.Descriptor()
	self.LastHeartbeat = time.Now()

	env := &wire.Envelope{Kind: wire.KindSingleNodeInfo, Node: self}
	if err := a.pool.WithConn(coordID, func(conn net.Conn) error {
		return wire.SendMessage(conn, env)
	}); err != nil {
		a.markCoordinatorLost(coordID, err)
	}
}

func (a *Agent) markCoordinatorLost(coordID string, cause error) {
	a.log.Warn().Err(cause).Str("coordinator", coordID).Msg("heartbeat failed, coordinator presumed lost")

	a.mu.Lock()
	if a.coordinatorID == coordID {
		a.coordinatorID = ""
	}
	a.mu.Unlock()

	if a.onCoordinatorLost != nil {
		a.onCoordinatorLost()
	}
}
