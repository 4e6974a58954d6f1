package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/coordination"
	"github.com/apployd/engine/pkg/deploy"
	"github.com/apployd/engine/pkg/events"
	"github.com/apployd/engine/pkg/metrics"
	"github.com/apployd/engine/pkg/pipeline"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/storage"
	"github.com/apployd/engine/pkg/types"
)

const heartbeatRefresh = 5 * time.Second

// Process runs components L and M (and their shared heartbeat) as
// goroutines in one process, grounded on the teacher's worker.Start()
// launching go w.heartbeatLoop() / go w.containerExecutorLoop().
type Process struct {
	store       *storage.Store
	coordinator *coordination.Store
	runtime     *runtime.Runtime
	pipeline    *pipeline.Pipeline
	publisher   *events.Publisher
	region      string

	wg sync.WaitGroup
}

// New builds a worker Process.
func New(store *storage.Store, coordinator *coordination.Store, rt *runtime.Runtime, p *pipeline.Pipeline, publisher *events.Publisher, region string) *Process {
	return &Process{store: store, coordinator: coordinator, runtime: rt, pipeline: p, publisher: publisher, region: region}
}

// Start launches the queue consumer (L), container-action consumer (M),
// and heartbeat loop as independent goroutines, each stopping when ctx
// is canceled. Returns immediately; call Wait to block until all three
// have exited.
func (p *Process) Start(ctx context.Context) {
	p.wg.Add(3)
	go func() { defer p.wg.Done(); p.deploymentQueueLoop(ctx) }()
	go func() { defer p.wg.Done(); p.containerActionLoop(ctx) }()
	go func() { defer p.wg.Done(); p.heartbeatLoop(ctx) }()
}

// Wait blocks until all of Start's goroutines have returned.
func (p *Process) Wait() {
	p.wg.Wait()
}

// heartbeatLoop refreshes this process's liveness key every 5s with a
// 20s TTL (§4.L.5).
func (p *Process) heartbeatLoop(ctx context.Context) {
	logger := log.WithComponent("worker.heartbeat")
	ticker := time.NewTicker(heartbeatRefresh)
	defer ticker.Stop()

	pid := os.Getpid()
	beat := func() {
		if err := p.coordinator.Heartbeat(ctx, p.region, pid, []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
			logger.Warn().Err(err).Msg("heartbeat failed")
		}
	}
	beat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

// deploymentQueueLoop implements §4.L: blocking dequeue, per-deployment
// lock, pipeline invocation, metrics, lock release.
func (p *Process) deploymentQueueLoop(ctx context.Context) {
	logger := log.WithComponent("worker.queue")
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.coordinator.DequeueDeploymentJob(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if payload == nil {
			continue
		}
		p.handleDeploymentJob(ctx, logger, payload)
	}
}

func (p *Process) handleDeploymentJob(ctx context.Context, logger zerolog.Logger, payload []byte) {
	var job deploy.QueuedJob
	if err := json.Unmarshal(payload, &job); err != nil {
		metrics.QueueInvalidPayloadsTotal.Inc()
		logger.Error().Err(err).Msg("invalid deployment payload")
		return
	}
	if job.DeploymentID == "" {
		metrics.QueueInvalidPayloadsTotal.Inc()
		logger.Error().Msg("invalid deployment payload: missing deployment id")
		return
	}

	acquired, err := p.coordinator.AcquireDeploymentLock(ctx, job.DeploymentID)
	if err != nil {
		logger.Error().Err(err).Str("deployment_id", job.DeploymentID).Msg("lock acquisition failed")
		return
	}
	if !acquired {
		metrics.QueueDuplicateJobsTotal.Inc()
		logger.Info().Str("deployment_id", job.DeploymentID).Msg("duplicate deployment job skipped")
		return
	}
	defer func() {
		if err := p.coordinator.ReleaseDeploymentLock(ctx, job.DeploymentID); err != nil {
			logger.Warn().Err(err).Str("deployment_id", job.DeploymentID).Msg("failed to release deployment lock")
		}
	}()

	if err := p.pipeline.Run(ctx, job.DeploymentID); err != nil {
		logger.Error().Err(err).Str("deployment_id", job.DeploymentID).Msg("deployment pipeline failed")
		return
	}
	logger.Info().Str("deployment_id", job.DeploymentID).Msg("deployment pipeline succeeded")
}

// ActionPayload is a sleep/wake job appended to the container-action
// queue (§4.M).
type ActionPayload struct {
	Action       string `json:"action"`
	ContainerID  string `json:"containerId"`
	RuntimeID    string `json:"runtimeId"`
	DeploymentID string `json:"deploymentId,omitempty"`
}

// containerActionLoop implements §4.M: same queue shape as L, second
// loop in the same process, grounded on the teacher's worker.go having
// multiple independent loops as siblings.
func (p *Process) containerActionLoop(ctx context.Context) {
	logger := log.WithComponent("worker.actions")
	for {
		if ctx.Err() != nil {
			return
		}
		payload, err := p.coordinator.DequeueContainerAction(ctx, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if payload == nil {
			continue
		}
		p.handleContainerAction(ctx, logger, payload)
	}
}

func (p *Process) handleContainerAction(ctx context.Context, logger zerolog.Logger, payload []byte) {
	var action ActionPayload
	if err := json.Unmarshal(payload, &action); err != nil {
		logger.Error().Err(err).Msg("invalid container action payload")
		return
	}

	switch action.Action {
	case "sleep":
		p.handleSleep(ctx, logger, action)
	case "wake":
		p.handleWake(ctx, logger, action)
	default:
		metrics.ContainerActionsTotal.WithLabelValues(action.Action, "unknown").Inc()
		logger.Error().Str("action", action.Action).Msg("unknown container action")
	}
}

func (p *Process) handleSleep(ctx context.Context, logger zerolog.Logger, action ActionPayload) {
	if err := p.runtime.StopContainer(ctx, action.RuntimeID); err != nil {
		metrics.ContainerActionsTotal.WithLabelValues("sleep", "failed").Inc()
		logger.Error().Err(err).Str("container_id", action.ContainerID).Msg("failed to sleep container")
		return
	}
	now := time.Now().UTC()
	if err := p.store.MarkContainerStopped(ctx, action.ContainerID, now); err != nil {
		metrics.ContainerActionsTotal.WithLabelValues("sleep", "failed").Inc()
		logger.Error().Err(err).Str("container_id", action.ContainerID).Msg("failed to persist sleep")
		return
	}
	if err := p.store.UpdateContainerState(ctx, action.ContainerID, types.ContainerSleeping, types.SleepSleeping); err != nil {
		logger.Warn().Err(err).Str("container_id", action.ContainerID).Msg("failed to update sleep status")
	}
	metrics.ContainerActionsTotal.WithLabelValues("sleep", "success").Inc()
	logger.Info().Str("container_id", action.ContainerID).Msg("container asleep")
	if p.publisher != nil && action.DeploymentID != "" {
		_ = p.publisher.Publish(ctx, events.Event{DeploymentID: action.DeploymentID, Type: events.TypeSleeping, Message: "container asleep"})
	}
}

func (p *Process) handleWake(ctx context.Context, logger zerolog.Logger, action ActionPayload) {
	container, err := p.store.GetContainer(ctx, action.ContainerID)
	if err != nil {
		metrics.ContainerActionsTotal.WithLabelValues("wake", "failed").Inc()
		logger.Error().Err(err).Str("container_id", action.ContainerID).Msg("failed to load container for wake")
		return
	}
	if err := p.runtime.StartContainer(ctx, action.RuntimeID, container.HostPort, container.InternalPort); err != nil {
		metrics.ContainerActionsTotal.WithLabelValues("wake", "failed").Inc()
		logger.Error().Err(err).Str("container_id", action.ContainerID).Msg("failed to wake container")
		return
	}
	now := time.Now().UTC()
	if err := p.store.MarkContainerWoken(ctx, action.ContainerID, now); err != nil {
		metrics.ContainerActionsTotal.WithLabelValues("wake", "failed").Inc()
		logger.Error().Err(err).Str("container_id", action.ContainerID).Msg("failed to persist wake")
		return
	}
	if err := p.store.UpdateContainerState(ctx, action.ContainerID, types.ContainerRunning, types.SleepAwake); err != nil {
		logger.Warn().Err(err).Str("container_id", action.ContainerID).Msg("failed to update wake status")
	}
	metrics.ContainerActionsTotal.WithLabelValues("wake", "success").Inc()
	logger.Info().Str("container_id", action.ContainerID).Msg("container awake")

	if action.DeploymentID != "" {
		if err := p.store.UpdateDeploymentStatus(ctx, action.DeploymentID, types.DeploymentReady); err != nil {
			logger.Warn().Err(err).Str("deployment_id", action.DeploymentID).Msg("failed to mark deployment ready after wake")
		}
		if p.publisher != nil {
			_ = p.publisher.Publish(ctx, events.Event{DeploymentID: action.DeploymentID, Type: events.TypeReady, Message: "deployment ready"})
		}
	}
}
