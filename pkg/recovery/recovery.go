package recovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/clock"
	"github.com/apployd/engine/pkg/metrics"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/storage"
	"github.com/apployd/engine/pkg/types"
)

const (
	tickInterval  = 60 * time.Second
	initialDelay  = 10 * time.Second
	maxProjects   = 5000
	restartPolicy = "unless-stopped"
)

// Loop implements §4.O's active-container reconciliation.
type Loop struct {
	store   *storage.Store
	runtime *runtime.Runtime
	clock   clock.Clock

	mu sync.Mutex
}

// New builds a Loop.
func New(store *storage.Store, rt *runtime.Runtime, clk clock.Clock) *Loop {
	return &Loop{store: store, runtime: rt, clock: clk}
}

// Run blocks, ticking every 60s after a 10s initial delay, until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	logger := log.WithComponent("recovery")

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			l.reconcile(ctx, logger)
			timer.Reset(tickInterval)
		}
	}
}

// reconcile implements §4.O steps 1-4: one project/container at a time,
// serialized against concurrent calls to Run (there should only ever be
// one, but a mutex costs nothing and keeps the contract explicit).
func (l *Loop) reconcile(ctx context.Context, logger zerolog.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RecoveryCycleDuration)

	projects, err := l.store.ListProjectsWithActiveDeployment(ctx, maxProjects)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list projects for recovery cycle")
		return
	}

	for _, project := range projects {
		l.reconcileProject(ctx, logger, project)
	}
}

func (l *Loop) reconcileProject(ctx context.Context, logger zerolog.Logger, project *types.Project) {
	container, err := l.store.GetActiveContainerForProject(ctx, project.ID)
	if err != nil {
		// No container row for the active deployment yet (still building,
		// or the deployment never reached the run stage). Nothing to recover.
		return
	}

	plog := logger.With().Str("project_id", project.ID).Str("container_id", container.ID).Logger()

	if err := l.runtime.SetRestartPolicy(ctx, container.DockerContainerID, restartPolicy); err != nil {
		plog.Warn().Err(err).Msg("failed to set restart policy")
		metrics.RecoveryActionsTotal.WithLabelValues("restart_policy_failed").Inc()
	}

	state, err := l.runtime.GetContainerRuntimeState(ctx, container.DockerContainerID)
	if err != nil {
		plog.Error().Err(err).Msg("failed to read container runtime state")
		return
	}

	switch {
	case state.Status == "missing":
		l.markCrashed(ctx, plog, container)

	case state.Running:
		if container.Status != types.ContainerRunning || container.SleepStatus != types.SleepAwake {
			if err := l.store.UpdateContainerState(ctx, container.ID, types.ContainerRunning, types.SleepAwake); err != nil {
				plog.Error().Err(err).Msg("failed to reconcile container row to running")
				return
			}
			metrics.RecoveryActionsTotal.WithLabelValues("reconciled_running").Inc()
		}

	default:
		l.recoverStopped(ctx, plog, container)
	}
}

// recoverStopped implements §4.O's present-but-not-running branch: start
// the container, health-check it, and only mark the row recovered on a
// passing probe.
func (l *Loop) recoverStopped(ctx context.Context, logger zerolog.Logger, container *types.Container) {
	if err := l.runtime.StartContainer(ctx, container.DockerContainerID, container.HostPort, container.InternalPort); err != nil {
		logger.Error().Err(err).Msg("failed to restart stopped container")
		l.markCrashed(ctx, logger, container)
		return
	}

	healthy := l.runtime.HealthCheck(ctx, container.HostPort, container.InternalPort, container.DockerContainerID, func(string) {})
	if !healthy {
		l.markCrashed(ctx, logger, container)
		return
	}

	if err := l.store.UpdateContainerState(ctx, container.ID, types.ContainerRunning, types.SleepAwake); err != nil {
		logger.Error().Err(err).Msg("failed to persist recovered container state")
		return
	}
	logger.Info().Msg("Recovered active container")
	metrics.RecoveryActionsTotal.WithLabelValues("recovered").Inc()
}

func (l *Loop) markCrashed(ctx context.Context, logger zerolog.Logger, container *types.Container) {
	if err := l.store.UpdateContainerState(ctx, container.ID, types.ContainerCrashed, container.SleepStatus); err != nil {
		logger.Error().Err(err).Msg("failed to mark container crashed")
		return
	}
	logger.Warn().Msg("marking container crashed")
	metrics.RecoveryActionsTotal.WithLabelValues("crashed").Inc()
}
