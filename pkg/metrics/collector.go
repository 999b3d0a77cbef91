package metrics

import (
	"time"

	"github.com/cuemby/fabric/pkg/types"
)

// ClusterView is the subset of *node.Agent the collector polls. It is
// declared here, not imported from pkg/node, to avoid a package cycle
// (pkg/node already imports pkg/metrics for its own counters).
type ClusterView interface {
	Identity() string
	ViewSnapshot() []*types.NodeDescriptor
	Coordinator() (string, *types.NodeDescriptor)
}

// Collector periodically samples a node's cluster view into the
// package-level gauges.
type Collector struct {
	view   ClusterView
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over view.
func NewCollector(view ClusterView) *Collector {
	return &Collector{
		view:   view,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectCoordinatorMetrics()
}

func (c *Collector) collectNodeMetrics() {
	nodes := c.view.ViewSnapshot()
	NodesTotal.WithLabelValues("alive").Set(float64(len(nodes)))
}

func (c *Collector) collectCoordinatorMetrics() {
	coordID, _ := c.view.Coordinator()
	if coordID == c.view.Identity() {
		CoordinatorElected.Set(1)
	} else {
		CoordinatorElected.Set(0)
	}
}
