// Package events is an in-process pub/sub broker for fabric lifecycle
// events: node joins/leaves, coordinator changes, job and sub-task
// transitions. The gateway subscribes to republish these as the
// progress events defined in spec §6 (Subtasks_info, tasks_info,
// task_info, reassign_info).
package events
