// Package taskmanager implements the Task Manager (spec §4.6): it
// splits an incoming job into groups of sub-tasks, asks the placement
// client where each sub-task should run, and runs one strictly-FIFO
// dispatch worker per destination node until every sub-task has a
// result or has exhausted its re-placement budget.
package taskmanager
