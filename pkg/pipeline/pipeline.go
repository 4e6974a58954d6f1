package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/config"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/dns"
	"github.com/apployd/engine/pkg/events"
	"github.com/apployd/engine/pkg/ingress"
	"github.com/apployd/engine/pkg/metrics"
	"github.com/apployd/engine/pkg/retry"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/types"
)

// Retry budgets per stage, per §4.K.
var (
	buildBudget = retry.Budget{Retries: 2, Delay: 2 * time.Second}
	runBudget   = retry.Budget{Retries: 1, Delay: 0}
	dnsBudget   = retry.Budget{Retries: 2, Delay: time.Second}
	proxyBudget = retry.Budget{Retries: 2, Delay: time.Second}
	tlsBudget   = retry.Budget{Retries: 1, Delay: 3 * time.Second}
)

// Pipeline drives a single deployment through §4.K's state machine. Its
// dependencies are narrowed interfaces (this package's Store, Runtime,
// Router, TLSManager) rather than the concrete pkg/storage, pkg/runtime,
// pkg/ingress, pkg/tls types, so tests can substitute fakes the way
// pkg/scheduler and pkg/tls already do.
type Pipeline struct {
	store      Store
	runtime    Runtime
	router     Router
	tlsManager TLSManager
	dnsAdapter dns.Adapter
	publisher  *events.Publisher
	cfg        *config.Config
}

// New builds a Pipeline. dnsAdapter may be dns.NoopAdapter{} when
// Cloudflare credentials are absent (§4.G).
func New(store Store, rt Runtime, router Router, tlsManager TLSManager, dnsAdapter dns.Adapter, publisher *events.Publisher, cfg *config.Config) *Pipeline {
	return &Pipeline{store: store, runtime: rt, router: router, tlsManager: tlsManager, dnsAdapter: dnsAdapter, publisher: publisher, cfg: cfg}
}

// Run executes the deployment identified by deploymentID. Exactly one
// instance runs at a time per deploymentID, enforced by the queue
// consumer's lock (§4.L.2), not by this method.
func (p *Pipeline) Run(ctx context.Context, deploymentID string) error {
	logger := log.WithComponent("pipeline").With().Str("deployment_id", deploymentID).Logger()
	started := time.Now()

	runErr := p.run(ctx, deploymentID, logger)

	status := "ready"
	switch {
	case runErr == nil:
	case errors.Is(runErr, apperr.ErrDeploymentCanceled):
		logger.Info().Msg("deployment canceled")
		metrics.DeploymentDurationSeconds.Observe(time.Since(started).Seconds())
		return nil
	default:
		status = "failed"
	}
	metrics.DeploymentProcessedTotal.WithLabelValues(status).Inc()
	metrics.DeploymentDurationSeconds.Observe(time.Since(started).Seconds())
	return runErr
}

// checkCancellation re-reads the deployment row and raises
// apperr.ErrDeploymentCanceled if an external caller has flipped its
// status to canceled, or to failed with "canceled by user" (§4.K's
// guard, checked at the start of the run and before the deploying, probe
// and route stages; it is not re-checked between the DNS, TLS and proxy
// calls).
func (p *Pipeline) checkCancellation(ctx context.Context, deploymentID string) error {
	d, err := p.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d.Status == types.DeploymentCanceled {
		return apperr.ErrDeploymentCanceled
	}
	if d.Status == types.DeploymentFailed && d.ErrorMessage == "canceled by user" {
		return apperr.ErrDeploymentCanceled
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, deploymentID string, eventType events.Type, message string) {
	if p.publisher == nil {
		return
	}
	_ = p.publisher.Publish(ctx, events.Event{DeploymentID: deploymentID, Type: eventType, Message: message})
}

func (p *Pipeline) audit(ctx context.Context, action, targetID string) {
	_ = p.store.InsertAuditLog(ctx, &types.AuditLog{
		ID: types.NewID(), Action: action, TargetType: "deployment", TargetID: targetID, CreatedAt: time.Now().UTC(),
	})
}

// runState tracks what the failure-path cleanup needs to undo.
type runState struct {
	runtimeID        string
	containerStarted bool
	capacityReserved bool
	ramMb            int64
	cpuMillicores    int64
	bandwidthGb      int64
}

func (p *Pipeline) run(ctx context.Context, deploymentID string, logger zerolog.Logger) (err error) {
	deployment, err := p.store.GetDeployment(ctx, deploymentID)
	if err != nil {
		return err
	}
	project, err := p.store.GetProject(ctx, deployment.ProjectID)
	if err != nil {
		return err
	}
	org, err := p.store.GetOrganization(ctx, project.OrganizationID)
	if err != nil {
		return err
	}
	server, err := p.store.GetServer(ctx, deployment.ServerID)
	if err != nil {
		return err
	}

	st := &runState{
		capacityReserved: deployment.CapacityReserved,
		ramMb:            project.ResourceRamMb,
		cpuMillicores:    project.ResourceCpuMillicore,
		bandwidthGb:      project.ResourceBandwidthGb,
	}

	defer func() {
		if err == nil || errors.Is(err, apperr.ErrDeploymentCanceled) {
			return
		}
		p.failDeployment(ctx, deployment, st, err)
	}()

	if err = p.checkCancellation(ctx, deploymentID); err != nil {
		return err
	}

	// Step 1: queued -> building.
	now := time.Now().UTC()
	if err = p.store.SetDeploymentStarted(ctx, deploymentID, now); err != nil {
		return err
	}
	if deployment.CommitSha != "" {
		logger.Info().Msg("Deploy request commit")
	} else {
		logger.Info().Msg("Deploy request branch")
	}
	p.publish(ctx, deploymentID, events.TypeBuilding, "build started")

	// Step 2: build stage (skipped on the rollback path).
	imageTag := deployment.ImageTag
	resolvedCommitSha := deployment.CommitSha
	if imageTag == "" {
		buildErr := retry.Do(ctx, buildBudget, func(ctx context.Context) error {
			tag, commitSha, buildErr := p.runtime.BuildImage(ctx, runtime.BuildSpec{
				DeploymentID:  deploymentID,
				ProjectID:     project.ID,
				RepoURL:       deployment.GitURL,
				Ref:           firstNonEmpty(deployment.CommitSha, deployment.Branch, project.Branch),
				RootDirectory: project.RootDirectory,
				BuildCommand:  project.BuildCommand,
				StartCommand:  project.StartCommand,
			}, func(line string) { p.publish(ctx, deploymentID, events.TypeLog, line) })
			if buildErr != nil {
				return buildErr
			}
			imageTag = tag
			if commitSha != "" {
				resolvedCommitSha = commitSha
			}
			return nil
		})
		if buildErr != nil {
			return buildErr
		}
		if err = p.store.SetDeploymentBuildResult(ctx, deploymentID, imageTag, resolvedCommitSha); err != nil {
			return err
		}
	}

	// Step 3: building -> deploying.
	if err = p.checkCancellation(ctx, deploymentID); err != nil {
		return err
	}
	if err = p.store.SetDeploymentDeploying(ctx, deploymentID); err != nil {
		return err
	}
	p.publish(ctx, deploymentID, events.TypeDeploying, "deploying")

	// Step 4: run stage.
	var runResult runtime.RunResult
	runErr := retry.Do(ctx, runBudget, func(ctx context.Context) error {
		result, runErr := p.runtime.RunContainer(ctx, runtime.RunSpec{
			ImageTag:      imageTag,
			Port:          project.TargetPort,
			MemoryMb:      project.ResourceRamMb,
			CpuMillicores: project.ResourceCpuMillicore,
			DeploymentID:  deploymentID,
		})
		if runErr != nil {
			return runErr
		}
		runResult = result
		return nil
	})
	if runErr != nil {
		return runErr
	}
	st.runtimeID = runResult.RuntimeID
	st.containerStarted = true
	logger.Info().Int("host_port", runResult.HostPort).Msg(fmt.Sprintf("Container started on port %d", runResult.HostPort))
	p.publish(ctx, deploymentID, events.TypeLog, fmt.Sprintf("Container started on port %d", runResult.HostPort))

	// Step 5: probe stage.
	if err = p.checkCancellation(ctx, deploymentID); err != nil {
		return err
	}
	healthy := p.runtime.HealthCheck(ctx, runResult.HostPort, project.TargetPort, runResult.RuntimeID, func(line string) {
		p.publish(ctx, deploymentID, events.TypeLog, line)
	})
	if !healthy {
		stateSummary, _ := p.runtime.GetContainerStateSummary(ctx, runResult.RuntimeID)
		logLines, _ := p.runtime.GetContainerLogs(ctx, runResult.RuntimeID, 40)
		return errors.New(runtime.BuildFailureMessage(stateSummary, logLines))
	}
	if polErr := p.runtime.SetRestartPolicy(ctx, runResult.RuntimeID, "unless-stopped"); polErr != nil {
		logger.Warn().Err(polErr).Msg("failed to set restart policy")
	}

	// Step 6: route stage (skipped in local mode).
	domain := deployment.Domain
	if !p.cfg.EngineLocalMode {
		if err = p.checkCancellation(ctx, deploymentID); err != nil {
			return err
		}

		if domain == "" {
			domain = GenerateDomain(project, org, deployment.Environment, p.cfg.BaseDomain, p.cfg.PreviewBaseDomain, p.cfg.PreviewDomainStyle, deployment.Branch)
		}

		aliasRows, aliasErr := p.store.ListVerifiedCustomDomains(ctx, project.ID)
		if aliasErr != nil {
			return aliasErr
		}
		aliases := make([]string, 0, len(aliasRows))
		for _, a := range aliasRows {
			aliases = append(aliases, a.Domain)
		}

		if p.cfg.DNSConfigured() {
			if err = retry.Do(ctx, dnsBudget, func(ctx context.Context) error {
				return p.dnsAdapter.UpsertARecord(ctx, domain, server.IPv4)
			}); err != nil {
				return err
			}
		} else {
			logger.Info().Str("domain", domain).Msg("DNS provider not configured, skipping DNS stage")
		}

		var certPath, keyPath string
		if err = retry.Do(ctx, tlsBudget, func(ctx context.Context) error {
			cert, certErr := p.tlsManager.EnsureCertificate(ctx, domain, aliases)
			if certErr != nil {
				return certErr
			}
			certPath, keyPath, certErr = writeCertFiles(p.cfg.TLSCertsPath, domain, cert.CertPEM, cert.KeyPEM)
			return certErr
		}); err != nil {
			return err
		}

		var wakePath string
		if p.cfg.EdgeWakeEnabled && p.cfg.ControlPlaneInternalURL != "" {
			wakePath = fmt.Sprintf("%s/internal/wake/%s", p.cfg.ControlPlaneInternalURL, project.ID)
		}

		if err = retry.Do(ctx, proxyBudget, func(ctx context.Context) error {
			return p.router.ConfigureProxy(ctx, ingress.Config{
				Domain:            domain,
				Aliases:           aliases,
				UpstreamHost:      "127.0.0.1",
				UpstreamPort:      runResult.HostPort,
				UpstreamScheme:    "http",
				AttackModeEnabled: project.AttackModeEnabled,
				WakePath:          wakePath,
				CertPath:          certPath,
				KeyPath:           keyPath,
			})
		}); err != nil {
			return err
		}

		timeout := 45
		if p.cfg.EngineHealthcheckTimeoutSeconds < timeout {
			timeout = p.cfg.EngineHealthcheckTimeoutSeconds
		}
		routeStatus := ingress.WaitForRouteReady(ctx, domain, ingress.RouteModeHTTPS, timeout)
		if !httpsReachable(routeStatus.HTTPSStatus) {
			return apperr.ErrRouteNotReady
		}

		if err = p.store.SetDeploymentDomain(ctx, deploymentID, domain); err != nil {
			return err
		}
	}

	// Step 7: insert container row.
	containerRow := &types.Container{
		ID:                types.NewID(),
		ProjectID:         project.ID,
		ServerID:          server.ID,
		DockerContainerID: runResult.RuntimeID,
		ImageTag:          imageTag,
		InternalPort:      project.TargetPort,
		HostPort:          runResult.HostPort,
		Status:            types.ContainerRunning,
		SleepStatus:       types.SleepAwake,
		StartedAt:         &now,
		LastRequestAt:     &now,
	}
	if err = p.store.InsertContainer(ctx, containerRow); err != nil {
		return err
	}

	// Step 8: capacity rebalance (production only).
	var previousContainer *types.Container
	if deployment.Environment == types.EnvironmentProduction && project.ActiveDeploymentID != "" && project.ActiveDeploymentID != deploymentID {
		if previousDeployment, pdErr := p.store.GetDeployment(ctx, project.ActiveDeploymentID); pdErr == nil {
			if previousDeployment.ServerID != server.ID {
				if err = p.store.AdjustReservationTx(ctx, previousDeployment.ServerID, -project.ResourceRamMb, -project.ResourceCpuMillicore, -project.ResourceBandwidthGb); err != nil {
					return err
				}
			}
			if previousDeployment.ContainerID != "" {
				previousContainer, _ = p.store.GetContainer(ctx, previousDeployment.ContainerID)
			}
		}
	}

	// Step 9: deploying -> ready.
	finishedAt := time.Now().UTC()
	if err = p.store.FinishDeploymentReady(ctx, deploymentID, containerRow.ID, finishedAt); err != nil {
		return err
	}
	if deployment.Environment == types.EnvironmentProduction {
		if err = p.store.SetProjectActiveDeployment(ctx, project.ID, deploymentID); err != nil {
			return err
		}
		if previousContainer != nil {
			_ = p.runtime.StopContainer(ctx, previousContainer.DockerContainerID)
			_ = p.store.MarkContainerStopped(ctx, previousContainer.ID, finishedAt)
		}
	}

	// Step 10: publish ready.
	p.publish(ctx, deploymentID, events.TypeReady, "deployment ready")
	p.audit(ctx, "deployment.ready", deploymentID)
	logger.Info().Str("domain", domain).Msg("deployment ready")

	return nil
}

// failDeployment implements §4.K's failure path: stop any container
// already started (best-effort), persist failed/errorMessage/finishedAt,
// release capacity if reserved, publish failed.
func (p *Pipeline) failDeployment(ctx context.Context, deployment *types.Deployment, st *runState, cause error) {
	if st.containerStarted && st.runtimeID != "" {
		_ = p.runtime.StopContainer(ctx, st.runtimeID)
	}

	finishedAt := time.Now().UTC()
	_ = p.store.FinishDeploymentFailed(ctx, deployment.ID, cause.Error(), finishedAt)

	if st.capacityReserved {
		if txErr := p.store.AdjustReservationTx(ctx, deployment.ServerID, -st.ramMb, -st.cpuMillicores, -st.bandwidthGb); txErr != nil {
			log.WithComponent("pipeline").Warn().Err(txErr).Msg("failed to release capacity reservation")
		}
		_ = p.store.ReleaseCapacity(ctx, deployment.ID)
	}

	p.publish(ctx, deployment.ID, events.TypeFailed, cause.Error())
	p.audit(ctx, "deployment.failed", deployment.ID)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// writeCertFiles persists an issued certificate's PEM bytes under certsDir
// so the nginx vhost's ssl_certificate directives can reference them by
// path; lego/pkg/tls hand back PEM bytes, not files.
func writeCertFiles(certsDir, domain string, certPEM, keyPEM []byte) (certPath, keyPath string, err error) {
	domainDir := filepath.Join(certsDir, domain)
	if err = os.MkdirAll(domainDir, 0o700); err != nil {
		return "", "", err
	}
	certPath = filepath.Join(domainDir, "fullchain.pem")
	keyPath = filepath.Join(domainDir, "privkey.pem")
	if err = os.WriteFile(certPath, certPEM, 0o600); err != nil {
		return "", "", err
	}
	if err = os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		return "", "", err
	}
	return certPath, keyPath, nil
}

func httpsReachable(status int) bool {
	switch status {
	case 0, 502, 503, 504:
		return false
	default:
		return true
	}
}
