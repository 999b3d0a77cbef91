// Package gateway implements the Front-end Gateway (spec §4.7): a
// single TCP listener that accepts newline-terminated JSON control
// messages, forwards job submissions to the Task Manager and
// node-info queries to the local Node Agent, and streams progress
// events back on the same connection.
package gateway
