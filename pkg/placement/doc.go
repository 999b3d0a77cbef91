// Package placement implements the Placement Client (spec §4.5): for
// each group of a job, it submits a short-task-name DAG and a size
// list to the external placement oracle and receives back a
// {task, node} mapping, which it re-qualifies into full sub-task IDs
// for the task manager.
package placement
