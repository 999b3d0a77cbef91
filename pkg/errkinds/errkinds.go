// Package errkinds collects the closed set of error kinds named in
// spec §7 that are not already sentinels in pkg/wire
// (TruncatedFrame, OversizedFrame, BadEnvelope). Callers wrap these
// with fmt.Errorf("...: %w", err) and check with errors.Is.
package errkinds

import "errors"

var (
	ErrConnectTimeout       = errors.New("fabric: connect timeout")
	ErrPeerUnreachable      = errors.New("fabric: peer unreachable")
	ErrHeartbeatLost        = errors.New("fabric: heartbeat lost")
	ErrPlacementUnavailable = errors.New("fabric: placement unavailable")
	ErrSubTaskFailed        = errors.New("fabric: subtask failed")
	ErrArchivalFailed       = errors.New("fabric: archival failed")
)
