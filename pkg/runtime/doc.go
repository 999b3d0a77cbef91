/*
Package runtime provides the containerd-backed node.Runner used by
fabric node to execute inference sub-tasks.

The Node Agent's "run the frame segment through the inference engine"
step (spec §4.2 step 4) is intentionally opaque in the specification:
it only requires a (*types.InferenceResult, error) outcome per
sub-task. ContainerdRunner fills that boundary by launching one
short-lived containerd task per sub-task, built from an OCI spec
carrying the segment's frame list as environment variables, and
tearing the container and its snapshot down again once the task exits.

A node always dials an operator-provisioned containerd socket
(config's containerd_socket, spec §6); it does not bootstrap or manage
a containerd daemon of its own.
*/
package runtime
