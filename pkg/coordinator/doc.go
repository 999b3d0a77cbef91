// Package coordinator runs the expiry sweep that only the elected
// coordinator performs (spec §4.3, §4.4): garbage-collect any member
// whose heartbeat has gone stale. The authoritative view itself lives
// on the node.Agent that is currently elected; this package just
// drives the periodic sweep against it.
package coordinator
