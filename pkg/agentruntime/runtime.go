package agentruntime

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/stark/pkg/types"
)

const (
	// Namespace is the containerd namespace every pod isolate runs under.
	Namespace = "stark"

	// DefaultSocketPath is the default containerd socket path.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Runtime drives one pod isolate's lifecycle through containerd,
// generalizing the teacher's image-based container execution to pod
// bundle execution: a pack's BundleRef is pulled as an OCI image and
// its entrypoint is run as the pod's single process.
type Runtime struct {
	client *containerd.Client
}

// NewRuntime connects to the containerd socket at socketPath ("" uses
// DefaultSocketPath).
func NewRuntime(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}
	return &Runtime{client: client}, nil
}

// Close closes the containerd client connection.
func (r *Runtime) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

// PullBundle pulls and unpacks a pack's bundle image ahead of
// CreatePod, so CreatePod itself never blocks on a registry round trip.
func (r *Runtime) PullBundle(ctx context.Context, bundleRef string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	if _, err := r.client.Pull(ctx, bundleRef, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull pack bundle %s: %w", bundleRef, err)
	}
	return nil
}

// CreatePod creates (but does not start) the isolate for pod, running
// pack's bundle with env installed and pod.ResourceLimits applied.
func (r *Runtime) CreatePod(ctx context.Context, pod *types.Pod, pack *types.Pack, env map[string]string) (string, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	image, err := r.client.GetImage(ctx, pack.BundleRef)
	if err != nil {
		return "", fmt.Errorf("failed to get pack bundle %s: %w", pack.BundleRef, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(envSlice(env)),
	}
	if args := entrypointArgs(pack); len(args) > 0 {
		opts = append(opts, oci.WithProcessArgs(args...))
	}

	if pod.ResourceLimits.CPUMillis > 0 {
		shares := uint64(pod.ResourceLimits.CPUMillis)
		quota := int64(pod.ResourceLimits.CPUMillis) * 100 // millis of a 100ms period
		period := uint64(100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, period))
	}
	if pod.ResourceLimits.MemBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(pod.ResourceLimits.MemBytes)))
	}

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		pod.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(pod.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create pod isolate: %w", err)
	}
	return ctrdContainer.ID(), nil
}

// StartPod starts the already-created isolate, wiring its stdout/stderr
// through creator (see logging.go's TaggedWriter for the §4.10 shim).
func (r *Runtime) StartPod(ctx context.Context, containerID string, creator cio.Creator) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load pod isolate %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		return fmt.Errorf("failed to create pod task: %w", err)
	}
	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pod task: %w", err)
	}
	return nil
}

// StopPod sends SIGTERM, waits up to gracePeriod, then SIGKILLs and
// deletes the task -- the grace-period force-stop pkg/lifecycle expects
// an agent to honor on a pod:stop frame.
func (r *Runtime) StopPod(ctx context.Context, containerID string, gracePeriod time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load pod isolate %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no task: isolate never started, nothing to stop
	}

	stopCtx, cancel := context.WithTimeout(ctx, gracePeriod)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal pod task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for pod task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force-kill pod task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete pod task: %w", err)
	}
	return nil
}

// DeletePod removes the isolate and its snapshot, stopping it first if
// it is still running.
func (r *Runtime) DeletePod(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil // already gone
	}
	if err := r.StopPod(ctx, containerID, 10*time.Second); err != nil {
		return fmt.Errorf("failed to stop pod isolate before delete: %w", err)
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete pod isolate: %w", err)
	}
	return nil
}

// PodRunning reports whether containerID currently has a running task.
func (r *Runtime) PodRunning(ctx context.Context, containerID string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return false, fmt.Errorf("failed to load pod isolate %s: %w", containerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return false, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get pod task status: %w", err)
	}
	return status.Status == containerd.Running, nil
}

// ExecInPod runs command inside containerID's already-running task and
// returns its combined stdout/stderr, satisfying pkg/health's PodExecutor
// so an exec health check probes the pod's own process namespace instead
// of the host's.
func (r *Runtime) ExecInPod(ctx context.Context, containerID string, command []string) ([]byte, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pod isolate %s: %w", containerID, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("pod isolate %s has no running task: %w", containerID, err)
	}

	spec, err := container.Spec(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pod isolate spec: %w", err)
	}
	procSpec := *spec.Process
	procSpec.Args = command
	procSpec.Terminal = false

	var output bytes.Buffer
	execID := "healthcheck-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	process, err := task.Exec(ctx, execID, &procSpec, cio.NewCreator(cio.WithStreams(nil, &output, &output)))
	if err != nil {
		return nil, fmt.Errorf("failed to exec in pod isolate %s: %w", containerID, err)
	}
	defer process.Delete(ctx)

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for exec in pod isolate %s: %w", containerID, err)
	}
	if err := process.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start exec in pod isolate %s: %w", containerID, err)
	}

	status := <-statusC
	code, _, err := status.Result()
	if err != nil {
		return output.Bytes(), fmt.Errorf("exec wait failed in pod isolate %s: %w", containerID, err)
	}
	if code != 0 {
		return output.Bytes(), fmt.Errorf("exec in pod isolate %s exited %d: %s", containerID, code, output.String())
	}
	return output.Bytes(), nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// entrypointArgs resolves the command used to start a pack's process.
// Packs declare it via metadata["entrypoint"] (space-separated); packs
// that omit it run under the bundle image's own default entrypoint.
func entrypointArgs(pack *types.Pack) []string {
	entrypoint, ok := pack.Metadata["entrypoint"]
	if !ok || strings.TrimSpace(entrypoint) == "" {
		return nil
	}
	return strings.Fields(entrypoint)
}
