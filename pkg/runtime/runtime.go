// Package runtime implements the container runtime adapter (§4.D):
// build, run/stop/start, health-probe, inspect, and fetch logs for one
// deployment's container. Adapted from the teacher's
// pkg/runtime/containerd.go, generalized from "service/task" container
// naming to "deployment/container" and extended with BuildImage (absent
// from the teacher, since warren only ever pulls pre-built images).
package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/exec"
)

const (
	// Namespace is the containerd namespace the engine uses.
	Namespace = "apployd"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	stopGraceTimeout = 10 * time.Second
)

// RuntimeState is the shape getContainerRuntimeState returns (§4.D).
type RuntimeState struct {
	Running      bool
	Status       string
	ExitCode     uint32
	OOMKilled    bool
	RestartCount int
}

// RunSpec is the input to RunContainer (§4.D).
type RunSpec struct {
	ImageTag       string
	Port           int
	Env            []string
	MemoryMb       int64
	CpuMillicores  int64
	DeploymentID   string
}

// RunResult is RunContainer's output.
type RunResult struct {
	RuntimeID string
	HostPort  int
}

// Runtime drives containerd to build, run, and inspect deployment
// containers.
type Runtime struct {
	client    *containerd.Client
	namespace string
	ports     *hostPortPublisher
	hostExec  *exec.Executor
}

// New connects to containerd at socketPath (DefaultSocketPath if empty).
func New(socketPath string) (*Runtime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd: %w", err)
	}

	return &Runtime{client: client, namespace: Namespace, ports: newHostPortPublisher(), hostExec: exec.New()}, nil
}

// Close closes the containerd client connection.
func (r *Runtime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *Runtime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// pullImage pulls imageRef if not already present locally.
func (r *Runtime) pullImage(ctx context.Context, imageRef string) (containerd.Image, error) {
	ctx = r.ctx(ctx)
	image, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", imageRef, err)
	}
	return image, nil
}

// RunContainer implements §4.D's runContainer: allocates a loopback host
// port, applies the hardened container policy, and starts the task.
func (r *Runtime) RunContainer(ctx context.Context, spec RunSpec) (RunResult, error) {
	logger := log.WithComponent("runtime").With().Str("deployment_id", spec.DeploymentID).Logger()

	image, err := r.pullImage(ctx, spec.ImageTag)
	if err != nil {
		return RunResult{}, err
	}

	hostPort, err := allocateHostPort()
	if err != nil {
		return RunResult{}, fmt.Errorf("allocating host port: %w", err)
	}

	ctrdCtx := r.ctx(ctx)
	containerID := fmt.Sprintf("dep-%s", spec.DeploymentID)

	opts := containerPolicyOpts(image, spec, hostPort)

	ctrdContainer, err := r.client.NewContainer(
		ctrdCtx,
		containerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(containerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			"restart-policy": "unless-stopped",
		}),
	)
	if err != nil {
		return RunResult{}, fmt.Errorf("creating container: %w", err)
	}

	ringBuf := logBuffers.getOrCreate(ctrdContainer.ID())
	ioCreator := cio.NewCreator(cio.WithStreams(nil, &lineWriter{buf: ringBuf}, &lineWriter{buf: ringBuf}))

	task, err := ctrdContainer.NewTask(ctrdCtx, ioCreator)
	if err != nil {
		return RunResult{}, fmt.Errorf("creating task: %w", err)
	}

	if err := task.Start(ctrdCtx); err != nil {
		return RunResult{}, fmt.Errorf("starting task: %w", err)
	}

	if err := r.publishPort(ctx, ctrdContainer.ID(), hostPort, spec.Port); err != nil {
		_ = r.DeleteContainer(ctx, ctrdContainer.ID())
		return RunResult{}, err
	}

	logger.Info().Int("host_port", hostPort).Msg("container started")

	return RunResult{RuntimeID: ctrdContainer.ID(), HostPort: hostPort}, nil
}

// publishPort resolves a just-started container's own network-namespace
// IP and forwards hostPort to it, since containerd never joins a
// container onto the host's namespace and nothing else makes hostPort
// reachable (§4.D).
func (r *Runtime) publishPort(ctx context.Context, runtimeID string, hostPort, containerPort int) error {
	containerIP, err := r.GetContainerIP(ctx, runtimeID)
	if err != nil {
		return fmt.Errorf("resolving container IP: %w", err)
	}
	if err := r.ports.Publish(ctx, runtimeID, containerIP, hostPort, containerPort); err != nil {
		return fmt.Errorf("publishing host port: %w", err)
	}
	return nil
}

// StartContainer starts an existing, stopped container's task and
// republishes its host-port forwarding, since a new task gets a fresh
// network namespace (and typically a new container IP) from the one the
// previous task held.
func (r *Runtime) StartContainer(ctx context.Context, runtimeID string, hostPort, containerPort int) error {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", runtimeID, err)
	}

	ringBuf := logBuffers.getOrCreate(runtimeID)
	ioCreator := cio.NewCreator(cio.WithStreams(nil, &lineWriter{buf: ringBuf}, &lineWriter{buf: ringBuf}))

	task, err := container.NewTask(ctrdCtx, ioCreator)
	if err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	if err := task.Start(ctrdCtx); err != nil {
		return fmt.Errorf("starting task: %w", err)
	}

	return r.publishPort(ctx, runtimeID, hostPort, containerPort)
}

// StopContainer sends SIGTERM, waits up to stopGraceTimeout, then SIGKILL.
func (r *Runtime) StopContainer(ctx context.Context, runtimeID string) error {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", runtimeID, err)
	}

	task, err := container.Task(ctrdCtx, nil)
	if err != nil {
		// No task: already stopped.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctrdCtx, stopGraceTimeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("waiting for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctrdCtx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force killing task: %w", err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctrdCtx); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	_ = r.ports.Unpublish(ctx, runtimeID)
	return nil
}

// SetRestartPolicy records the container's restart policy as a
// containerd label. Best-effort: the actual restart decision is made by
// the recovery loop (component O), since containerd itself has no
// Docker-style daemon-managed restart policy.
func (r *Runtime) SetRestartPolicy(ctx context.Context, runtimeID, policy string) error {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", runtimeID, err)
	}
	_, err = container.SetLabels(ctrdCtx, map[string]string{"restart-policy": policy})
	return err
}

// DeleteContainer stops (if running) and removes a container + its
// snapshot.
func (r *Runtime) DeleteContainer(ctx context.Context, runtimeID string) error {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return nil
	}

	if err := r.StopContainer(ctx, runtimeID); err != nil {
		log.WithComponent("runtime").Warn().Err(err).Str("runtime_id", runtimeID).Msg("stop before delete failed")
	}
	logBuffers.delete(runtimeID)

	return container.Delete(ctrdCtx, containerd.WithSnapshotCleanup)
}

// GetContainerRuntimeState implements §4.D's getContainerRuntimeState.
func (r *Runtime) GetContainerRuntimeState(ctx context.Context, runtimeID string) (RuntimeState, error) {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return RuntimeState{}, fmt.Errorf("loading container %s: %w", runtimeID, err)
	}

	task, err := container.Task(ctrdCtx, nil)
	if err != nil {
		return RuntimeState{Running: false, Status: "missing"}, nil
	}

	status, err := task.Status(ctrdCtx)
	if err != nil {
		return RuntimeState{}, fmt.Errorf("getting task status: %w", err)
	}

	state := RuntimeState{
		Status:   string(status.Status),
		ExitCode: status.ExitStatus,
	}
	state.Running = status.Status == containerd.Running
	return state, nil
}

// GetContainerStateSummary returns a short human-readable summary of a
// container's runtime state, used to build the pipeline's errorMessage
// on probe failure (§4.K step 5).
func (r *Runtime) GetContainerStateSummary(ctx context.Context, runtimeID string) (string, error) {
	state, err := r.GetContainerRuntimeState(ctx, runtimeID)
	if err != nil {
		return "", err
	}
	if state.Running {
		return "running", nil
	}
	return fmt.Sprintf("%s (exit %d)", state.Status, state.ExitCode), nil
}

// GetContainerLogs returns the last n lines of a container's captured
// output.
func (r *Runtime) GetContainerLogs(ctx context.Context, runtimeID string, n int) ([]string, error) {
	logBuf := logBuffers.get(runtimeID)
	if logBuf == nil {
		return nil, nil
	}
	return logBuf.tail(n), nil
}

// IsRunning reports whether a container's task is currently running.
func (r *Runtime) IsRunning(ctx context.Context, runtimeID string) bool {
	state, err := r.GetContainerRuntimeState(ctx, runtimeID)
	return err == nil && state.Running
}

// ListContainers returns all container ids in the engine's namespace.
func (r *Runtime) ListContainers(ctx context.Context) ([]string, error) {
	ctrdCtx := r.ctx(ctx)
	containers, err := r.client.Containers(ctrdCtx)
	if err != nil {
		return nil, fmt.Errorf("listing containers: %w", err)
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}
