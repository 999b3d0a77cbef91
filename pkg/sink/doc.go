// Package sink implements the Image Sink Client (spec §4.8): it ships
// each finished frame to the external archival endpoint over a fresh
// TCP connection per image, and sends one task-result envelope per job,
// over an additional connection, once all of the job's sub-tasks are done.
package sink
