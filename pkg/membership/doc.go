// Package membership implements peer discovery and coordinator
// election (spec §4.3): a one-subnet sweep on startup, the
// largest-free-compute-memory comparison used both for the initial
// election and for split-brain re-merge, and the selected_center_node
// broadcast that propagates a winner to every known member.
package membership
