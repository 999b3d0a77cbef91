/*
Package metrics defines and registers the fabric's Prometheus metrics.

Metrics are package-level variables registered at init, following the
same pattern across every fabric component: a node updates cluster and
admission gauges as it runs, the task manager records placement and
dispatch latency, and the archival client counts sessions.

# Catalog

Node fabric:
  - fabric_nodes_total{status}: known peers by "alive"/"dead"
  - fabric_coordinator_elected: 1 if this process is the current coordinator
  - fabric_heartbeats_received_total
  - fabric_heartbeat_expiries_total

Task manager:
  - fabric_jobs_total{state}
  - fabric_subtasks_total{state}
  - fabric_subtasks_reassigned_total
  - fabric_dispatch_latency_seconds
  - fabric_placement_latency_seconds
  - fabric_placement_failures_total
  - fabric_admission_rejected_total

Archival:
  - fabric_archival_sessions_total{outcome}
  - fabric_archival_duration_seconds

Exposed over HTTP via Handler() at /metrics.
*/
package metrics
