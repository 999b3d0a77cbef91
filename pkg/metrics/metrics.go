package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node fabric metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_nodes_total",
			Help: "Known peers by status",
		},
		[]string{"status"},
	)

	CoordinatorElected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fabric_coordinator_elected",
			Help: "Whether this process is the current coordinator (1) or not (0)",
		},
	)

	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_heartbeats_received_total",
			Help: "Total single_node_info heartbeats received",
		},
	)

	HeartbeatExpiries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_heartbeat_expiries_total",
			Help: "Total peers dropped from the cluster view for a stale heartbeat",
		},
	)

	// Task manager metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_jobs_total",
			Help: "Total jobs by terminal state",
		},
		[]string{"state"},
	)

	SubTasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fabric_subtasks_total",
			Help: "Sub-tasks currently in each state",
		},
		[]string{"state"},
	)

	SubTasksReassigned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_subtasks_reassigned_total",
			Help: "Total sub-task re-placements after a node failure",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_dispatch_latency_seconds",
			Help:    "Time from a sub-task entering its dispatch queue to ans_get_objects",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_placement_latency_seconds",
			Help:    "Time from ask to placement for one group",
			Buckets: prometheus.DefBuckets,
		},
	)

	PlacementFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_placement_failures_total",
			Help: "Total ask requests that ended in PlacementUnavailable",
		},
	)

	AdmissionRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fabric_admission_rejected_total",
			Help: "Total get_objects_new requests rejected by a node at its parallelism cap",
		},
	)

	// Archival metrics
	ArchivalSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fabric_archival_sessions_total",
			Help: "Total per-image archival sessions by outcome",
		},
		[]string{"outcome"},
	)

	ArchivalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fabric_archival_duration_seconds",
			Help:    "Time to push one image to the archival sink, including retries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		CoordinatorElected,
		HeartbeatsReceived,
		HeartbeatExpiries,
		JobsTotal,
		SubTasksTotal,
		SubTasksReassigned,
		DispatchLatency,
		PlacementLatency,
		PlacementFailures,
		AdmissionRejected,
		ArchivalSessions,
		ArchivalDuration,
	)
}

// Handler returns the Prometheus HTTP scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
