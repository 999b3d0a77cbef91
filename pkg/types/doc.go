// Package types defines the domain model shared by every fabric
// component: node descriptors, the cluster view, jobs, groups and
// sub-tasks, and the placement query and answer payloads. See pkg/wire
// for the message envelope that carries them between processes and its
// binary encoding.
package types
