package membership

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/errkinds"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/cuemby/fabric/pkg/wire"
	"github.com/rs/zerolog"
)

// Agent is the subset of *node.Agent membership depends on. Declared
// as an interface so election logic can be tested without a live TCP
// node agent underneath it.
type Agent interface {
	Identity() string
	Descriptor() *types.NodeDescriptor
	ViewSnapshot() []*types.NodeDescriptor
	MergeNodes([]*types.NodeDescriptor)
	Coordinator() (string, *types.NodeDescriptor)
	SetCoordinator(string, *types.NodeDescriptor)
	SetCoordinatorLostHandler(func())
	Pool() *pool.Pool
}

// DiscoveryTimeout is the per-address dial/request timeout for the
// subnet sweep (spec §4.3: "short per-address timeout, e.g. 500ms").
const DiscoveryTimeout = 500 * time.Millisecond

// Electorate runs discovery and election for one node agent.
type Electorate struct {
	agent Agent
	log   zerolog.Logger

	mu        sync.Mutex
	lastNotif string // last distinct coordinator broadcast this node issued, for §8 idempotence
}

// New builds an Electorate bound to agent and wires its
// lost-coordinator callback to trigger a fresh election.
func New(agent Agent) *Electorate {
	e := &Electorate{
		agent: agent,
		log:   log.WithComponent("membership").With().Str("node_id", agent.Identity()).Logger(),
	}
	agent.SetCoordinatorLostHandler(func() {
		if err := e.Elect(context.Background()); err != nil {
			e.log.Warn().Err(err).Msg("re-election after coordinator loss failed")
		}
	})
	return e
}

// Bootstrap runs the startup sequence from spec §4.3: sweep the subnet
// for peers, adopt a responder's coordinator if one is reported, else
// run a local election among whatever peers answered.
func (e *Electorate) Bootstrap(ctx context.Context, subnetBase string, hostRange [2]int, port int) error {
	found, err := e.Scan(ctx, subnetBase, hostRange, port)
	if err != nil {
		e.log.Warn().Err(err).Msg("subnet scan encountered errors")
	}

	descs := make([]*types.NodeDescriptor, 0, len(found))
	for _, r := range found {
		descs = append(descs, r.NodeDescriptor)
	}
	e.agent.MergeNodes(descs)

	for _, peer := range found {
		if peer.ReportedCoordinator == "" {
			continue
		}
		desc, err := queryNode(ctx, peer.ReportedCoordinator, DiscoveryTimeout)
		if err == nil && desc != nil {
			e.agent.SetCoordinator(peer.ReportedCoordinator, desc)
			return nil
		}
	}

	return e.Elect(ctx)
}

// scanResult augments a discovered descriptor with the coordinator
// identity that responder reported knowing about, if any.
type scanResult struct {
	*types.NodeDescriptor
	ReportedCoordinator string
}

// Scan sweeps every host in [hostRange[0], hostRange[1]] on subnetBase
// (e.g. "10.0.0.") at port, sending get_node_info to each and
// collecting responders. Unreachable addresses are skipped, not
// errors; Scan only fails if the whole sweep can't run at all (it
// currently never does, but keeps an error return for future dialers).
func (e *Electorate) Scan(ctx context.Context, subnetBase string, hostRange [2]int, port int) ([]*scanResult, error) {
	var (
		mu      sync.Mutex
		results []*scanResult
		wg      sync.WaitGroup
	)

	for host := hostRange[0]; host <= hostRange[1]; host++ {
		addr := fmt.Sprintf("%s%d:%d", subnetBase, host, port)
		if addr == e.agent.Identity() {
			continue
		}
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			desc, coordHint, err := probeNode(ctx, addr, DiscoveryTimeout)
			if err != nil {
				return
			}
			mu.Lock()
			results = append(results, &scanResult{NodeDescriptor: desc, ReportedCoordinator: coordHint})
			mu.Unlock()
		}(addr)
	}
	wg.Wait()

	return results, nil
}

// probeNode dials addr and sends get_node_info, returning the
// responder's own descriptor and, if it reported one, its known
// coordinator's identity.
func probeNode(ctx context.Context, addr string, timeout time.Duration) (*types.NodeDescriptor, string, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, "", fmt.Errorf("membership: dial %s: %w: %v", addr, errkinds.ErrPeerUnreachable, err)
	}
	defer conn.Close()

	if err := wire.SendMessage(conn, &wire.Envelope{Kind: wire.KindGetNodeInfo}); err != nil {
		return nil, "", fmt.Errorf("membership: send to %s: %w", addr, err)
	}
	reply, err := wire.ReceiveMessage(conn, timeout)
	if err != nil {
		return nil, "", fmt.Errorf("membership: receive from %s: %w", addr, err)
	}
	coordHint := ""
	if len(reply.Nodes) > 0 {
		coordHint = reply.Nodes[0].ID
	}
	return reply.Node, coordHint, nil
}

// queryNode asks addr directly for its own descriptor (used once a
// coordinator identity is already known, to fetch its current stats).
func queryNode(ctx context.Context, addr string, timeout time.Duration) (*types.NodeDescriptor, error) {
	desc, _, err := probeNode(ctx, addr, timeout)
	return desc, err
}

// Elect runs the local comparison over every member in the agent's
// view (plus itself) and, if the winner differs from the currently
// known coordinator, adopts and broadcasts it.
func (e *Electorate) Elect(ctx context.Context) error {
	view := e.agent.ViewSnapshot()
	winner := Winner(view)
	if winner == nil {
		winner = e.agent.Descriptor()
	}

	currentID, _ := e.agent.Coordinator()
	if currentID == winner.ID {
		return nil
	}

	e.agent.SetCoordinator(winner.ID, winner)
	metrics.CoordinatorElected.Set(boolToFloat(winner.ID == e.agent.Identity()))
	e.log.Info().Str("winner", winner.ID).Msg("election produced new coordinator")

	return e.Broadcast(ctx, winner, view)
}

// Broadcast sends selected_center_node to every member in view except
// the winner and this node itself. Re-sending the same winner is a
// no-op (spec §8 idempotence): a winner equal to the last one this node
// broadcast is not sent again.
func (e *Electorate) Broadcast(ctx context.Context, winner *types.NodeDescriptor, view []*types.NodeDescriptor) error {
	e.mu.Lock()
	if e.lastNotif == winner.ID {
		e.mu.Unlock()
		return nil
	}
	e.lastNotif = winner.ID
	e.mu.Unlock()

	env := &wire.Envelope{Kind: wire.KindSelectedCenterNode, Node: winner}
	var firstErr error
	for _, member := range view {
		if member.ID == winner.ID || member.ID == e.agent.Identity() {
			continue
		}
		if err := e.agent.Pool().WithConn(member.ID, func(conn net.Conn) error {
			return wire.SendMessage(conn, env)
		}); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
