package node

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/rs/zerolog"
)

// Runner executes one sub-task's inference payload. Actual inference
// engines (containerd-launched workers, in-process stubs for tests) sit
// behind this boundary; the fabric never assumes anything about what
// happens inside Run beyond its (result, error) contract.
type Runner interface {
	Run(ctx context.Context, segment types.FrameSegment) (*types.InferenceResult, error)
}

// Agent is the Node Agent: local descriptor, local cluster view,
// admission control, and the wire-level message handlers that answer
// every Kind a peer can send it.
type Agent struct {
	cfg    *config.Config
	runner Runner
	pool   *pool.Pool
	broker *events.Broker
	log    zerolog.Logger

	mu            sync.Mutex
	self          *types.NodeDescriptor
	view          map[string]*types.NodeDescriptor
	coordinatorID string

	admissionMu sync.Mutex
	dealt       int

	onCoordinatorLost func()

	closeOnce sync.Once
	done      chan struct{}
}

// New builds an Agent from a loaded configuration. The self descriptor
// is seeded from cfg and registers itself in its own view so
// get_nodes_info never omits the local node.
func New(cfg *config.Config, runner Runner, broker *events.Broker) *Agent {
	identity := cfg.MachineIP
	self := &types.NodeDescriptor{
		ID:                identity,
		TotalCompute:      cfg.CPUMemory,
		FreeCompute:       cfg.CPUMemory,
		TotalStorage:      cfg.Memory,
		FreeStorage:       cfg.Memory,
		BandwidthCapacity: cfg.Bandwidth,
		FreeBandwidth:     cfg.Bandwidth,
		LastHeartbeat:     time.Now(),
	}

	a := &Agent{
		cfg:    cfg,
		runner: runner,
		pool:   pool.New(10 * time.Second),
		broker: broker,
		log:    log.WithComponent("node").With().Str("node_id", identity).Logger(),
		self:   self,
		view:   map[string]*types.NodeDescriptor{identity: self},
		done:   make(chan struct{}),
	}
	return a
}

// Identity returns this node's "ip:port" wire identity.
func (a *Agent) Identity() string {
	return a.self.ID
}

// Pool returns the agent's outbound connection pool, shared with
// membership so heartbeat, election, and reply_hint traffic all reuse
// the same live sockets per peer.
func (a *Agent) Pool() *pool.Pool {
	return a.pool
}

// Descriptor returns a snapshot of this node's own descriptor, safe for
// the caller to retain or mutate.
func (a *Agent) Descriptor() *types.NodeDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self.Clone()
}

// ViewSnapshot returns every descriptor this node currently knows about,
// including itself.
func (a *Agent) ViewSnapshot() []*types.NodeDescriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*types.NodeDescriptor, 0, len(a.view))
	for _, d := range a.view {
		out = append(out, d.Clone())
	}
	return out
}

// Coordinator returns the identity this node currently believes is the
// coordinator, and its descriptor if known. Returns "" if none is set.
func (a *Agent) Coordinator() (string, *types.NodeDescriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.coordinatorID == "" {
		return "", nil
	}
	return a.coordinatorID, a.view[a.coordinatorID].Clone()
}

// SetCoordinator sets the local coordinator pointer and, if desc is
// non-nil, merges it into the view. It is a no-op if desc is identical
// to the currently-known coordinator descriptor (spec §8 idempotence).
func (a *Agent) SetCoordinator(identity string, desc *types.NodeDescriptor) {
	a.mu.Lock()
	changed := a.coordinatorID != identity
	a.coordinatorID = identity
	a.mu.Unlock()

	if desc != nil {
		a.MergeView(desc)
	}
	if changed {
		a.log.Info().Str("coordinator", identity).Msg("coordinator pointer updated")
		a.publish(events.EventCoordinatorChange, "coordinator changed to "+identity, nil)
	}
}

// MergeView inserts desc if new, else replaces the stored descriptor
// with a copy of desc (spec §4.4). The stored last-heartbeat time is
// the one desc carries; heartbeat senders stamp it before sending.
func (a *Agent) MergeView(desc *types.NodeDescriptor) {
	if desc == nil || desc.ID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, existed := a.view[desc.ID]
	a.view[desc.ID] = desc.Clone()
	if !existed {
		metrics.NodesTotal.WithLabelValues("alive").Inc()
	}
}

// MergeNodes merges every descriptor in descs.
func (a *Agent) MergeNodes(descs []*types.NodeDescriptor) {
	for _, d := range descs {
		a.MergeView(d)
	}
}

// ExpireStale drops members whose last heartbeat is older than
// threshold, save for the node itself. Only meaningful while this node
// is acting as coordinator (spec §4.3: non-coordinators don't expire
// peers), but harmless to call elsewhere.
func (a *Agent) ExpireStale(threshold time.Duration) []string {
	now := time.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	var expired []string
	for id, d := range a.view {
		if id == a.self.ID {
			continue
		}
		if now.Sub(d.LastHeartbeat) > threshold {
			expired = append(expired, id)
			delete(a.view, id)
		}
	}
	return expired
}

// SetCoordinatorLostHandler registers the callback invoked when the
// heartbeat loop detects the coordinator connection is dead. Membership
// wires this to its re-election path.
func (a *Agent) SetCoordinatorLostHandler(fn func()) {
	a.onCoordinatorLost = fn
}

// Done returns a channel closed once Shutdown has run.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Shutdown performs graceful termination (spec §5): closes pooled
// connections and signals every loop watching Done to exit. It always
// succeeds.
func (a *Agent) Shutdown() {
	a.closeOnce.Do(func() {
		a.pool.CloseAll()
		close(a.done)
		a.log.Info().Msg("node agent shut down")
	})
}

func (a *Agent) publish(t events.EventType, msg string, metadata map[string]string) {
	if a.broker == nil {
		return
	}
	a.broker.Publish(&events.Event{Type: t, Message: msg, Metadata: metadata})
}
