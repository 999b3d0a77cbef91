package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/fabric/pkg/types"
	"github.com/google/uuid"
)

// DefaultNamespace is the containerd namespace the fabric's inference
// tasks run under.
const DefaultNamespace = "fabric"

// DefaultSocketPath is the default containerd socket, used when a
// node's config leaves containerd_socket unset.
const DefaultSocketPath = "/run/containerd/containerd.sock"

// ContainerdRunner implements node.Runner by launching each sub-task's
// inference payload as a short-lived containerd task: one container per
// Run call, created, started, awaited to completion, and torn down.
// This keeps a node agnostic to what the inference image actually does;
// the fabric only reads the task's exit status. Nothing is read back
// from the container: the result summary is built from the segment.
type ContainerdRunner struct {
	client    *containerd.Client
	namespace string
	imageRef  string
}

// NewContainerdRunner dials the containerd socket and resolves the
// inference image that every Run call will launch.
func NewContainerdRunner(socketPath, imageRef string) (*ContainerdRunner, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: connect to containerd at %s: %w", socketPath, err)
	}

	return &ContainerdRunner{
		client:    client,
		namespace: DefaultNamespace,
		imageRef:  imageRef,
	}, nil
}

// Close releases the containerd client connection.
func (r *ContainerdRunner) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// Run implements node.Runner (spec §4.2 step 4): it launches one
// containerd task carrying the sub-task's frame segment as environment
// variables, waits for it to exit, and turns the exit status into an
// (*types.InferenceResult, error). The container and its snapshot are
// always deleted before Run returns, successful or not.
func (r *ContainerdRunner) Run(ctx context.Context, segment types.FrameSegment) (*types.InferenceResult, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, r.imageRef)
	if err != nil {
		image, err = r.client.Pull(ctx, r.imageRef, containerd.WithPullUnpack)
		if err != nil {
			return nil, fmt.Errorf("runtime: pull image %s: %w", r.imageRef, err)
		}
	}

	frames, err := json.Marshal(segment.Frames)
	if err != nil {
		return nil, fmt.Errorf("runtime: encode frame list: %w", err)
	}

	id := "fabric-" + uuid.NewString()
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv([]string{
			fmt.Sprintf("FABRIC_START_FRAME=%d", segment.StartFrame),
			fmt.Sprintf("FABRIC_END_FRAME=%d", segment.EndFrame),
			fmt.Sprintf("FABRIC_FRAMES=%s", frames),
		}),
	}

	container, err := r.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("runtime: create container: %w", err)
	}
	defer container.Delete(ctx, containerd.WithSnapshotCleanup)

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return nil, fmt.Errorf("runtime: create task: %w", err)
	}
	defer task.Delete(ctx)

	exitC, err := task.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: wait on task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("runtime: start task: %w", err)
	}

	select {
	case status := <-exitC:
		if status.ExitCode() != 0 {
			return nil, fmt.Errorf("runtime: inference container %s exited %d", id, status.ExitCode())
		}
		return r.collectResult(segment), nil
	case <-ctx.Done():
		killCtx, cancel := context.WithTimeout(namespaces.WithNamespace(context.Background(), r.namespace), 5*time.Second)
		defer cancel()
		_ = task.Kill(killCtx, syscall.SIGKILL)
		return nil, ctx.Err()
	}
}

// collectResult builds the sub-task's result summary. The shipped
// inference image has no real vision model behind it, so there are no
// per-frame artifacts to read back; a future image that does write one
// would replace this with a read of its declared output directory.
func (r *ContainerdRunner) collectResult(segment types.FrameSegment) *types.InferenceResult {
	return &types.InferenceResult{
		Summary: fmt.Sprintf("processed frames %d-%d (%d frames)", segment.StartFrame, segment.EndFrame, len(segment.Frames)),
	}
}
