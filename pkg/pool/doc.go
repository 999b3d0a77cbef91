// Package pool is the connection pool from spec §3/§5: a concurrent
// map from peer identity to a live outbound connection plus a
// liveness flag. Eviction marks an entry dead before closing its
// socket so a concurrent user never observes a closed conn as live.
package pool
