// Package node implements the Node Agent (spec §4.2): the process that
// runs on every fabric machine. It publishes a self-descriptor, accepts
// work requests under admission control, runs inference through a
// pluggable Runner, and keeps a heartbeat to whatever node it currently
// believes is the coordinator.
package node
