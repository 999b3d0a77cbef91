package node

import (
	"context"
	"time"
)

// admissionPollInterval is the blocking-wait granularity from spec §4.2
// step 2 ("polling step ~2s").
const admissionPollInterval = 2 * time.Second

// Acquire runs the admission-control sequence from spec §4.2 for one
// get_objects_new request of sizeBytes: increment waiting, block while
// used+size exceeds the memory cap or dealing is at the parallelism
// cap, then admit by decrementing waiting and incrementing dealing and
// used. Every failed poll refreshes the node's idle-CPU sample so a
// long-blocked request doesn't report stale telemetry.
func (a *Agent) Acquire(ctx context.Context, sizeBytes int64) error {
	a.mu.Lock()
	a.self.Waiting++
	a.mu.Unlock()

	ticker := time.NewTicker(admissionPollInterval)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		if a.self.UsedCompute+sizeBytes <= a.self.TotalCompute && a.self.Dealing < a.parallelismCap() {
			a.self.Waiting--
			a.self.Dealing++
			a.self.UsedCompute += sizeBytes
			a.self.FreeCompute = a.self.TotalCompute - a.self.UsedCompute
			a.mu.Unlock()
			return nil
		}
		a.refreshIdleSample()
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			a.mu.Lock()
			a.self.Waiting--
			a.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release reverses Acquire's accounting. success distinguishes a
// completed inference (dealt++) from an inference error (no dealt
// credit), per spec §4.2 steps 4-5.
func (a *Agent) Release(sizeBytes int64, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.self.Dealing--
	a.self.UsedCompute -= sizeBytes
	a.self.FreeCompute = a.self.TotalCompute - a.self.UsedCompute
	if success {
		a.self.Dealt++
	}
}

// refreshIdleSample sets CPUUsedRate to the used/total compute ratio. Held
// under a.mu by the caller.
func (a *Agent) refreshIdleSample() {
	if a.self.TotalCompute <= 0 {
		return
	}
	a.self.CPUUsedRate = float64(a.self.UsedCompute) / float64(a.self.TotalCompute)
}

func (a *Agent) parallelismCap() int {
	if a.cfg == nil || a.cfg.AdmissionParallelism <= 0 {
		return 2
	}
	return a.cfg.AdmissionParallelism
}
