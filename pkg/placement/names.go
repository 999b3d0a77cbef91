package placement

import "fmt"

// shortName is the group-local task name sent to the oracle (spec
// §4.11 supplement: the oracle sees small, job-agnostic names, not the
// full job_group_task identifier).
func shortName(taskIndex int) string {
	return fmt.Sprintf("t%d", taskIndex)
}

// qualify turns a short task name back into a full sub-task ID
// (job_id + "_" + group_idx + "_" + task_idx, per spec §3) once the
// oracle's answer is in hand.
func qualify(jobID string, groupIndex int, short string) string {
	var idx int
	if _, err := fmt.Sscanf(short, "t%d", &idx); err != nil {
		return short
	}
	return fmt.Sprintf("%s_%d_%d", jobID, groupIndex, idx)
}
