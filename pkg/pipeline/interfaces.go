package pipeline

import (
	"context"
	"time"

	"github.com/apployd/engine/pkg/ingress"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/tls"
	"github.com/apployd/engine/pkg/types"
)

// Store is the persistence surface Pipeline needs, narrowed from
// *storage.Store so tests can substitute an in-memory fake, matching
// the narrow-interface idiom already used by pkg/scheduler.Store and
// pkg/tls.Store.
type Store interface {
	GetDeployment(ctx context.Context, id string) (*types.Deployment, error)
	GetProject(ctx context.Context, id string) (*types.Project, error)
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)
	GetServer(ctx context.Context, id string) (*types.Server, error)
	SetDeploymentStarted(ctx context.Context, id string, at time.Time) error
	SetDeploymentBuildResult(ctx context.Context, id, imageTag, commitSha string) error
	SetDeploymentDeploying(ctx context.Context, id string) error
	ListVerifiedCustomDomains(ctx context.Context, projectID string) ([]*types.CustomDomain, error)
	SetDeploymentDomain(ctx context.Context, id, domain string) error
	InsertContainer(ctx context.Context, c *types.Container) error
	GetContainer(ctx context.Context, id string) (*types.Container, error)
	FinishDeploymentReady(ctx context.Context, id, containerID string, at time.Time) error
	SetProjectActiveDeployment(ctx context.Context, projectID, deploymentID string) error
	MarkContainerStopped(ctx context.Context, id string, at time.Time) error
	FinishDeploymentFailed(ctx context.Context, id, errMsg string, at time.Time) error
	ReleaseCapacity(ctx context.Context, deploymentID string) error
	InsertAuditLog(ctx context.Context, a *types.AuditLog) error
	AdjustReservationTx(ctx context.Context, serverID string, ramMb, cpuMillicores, bandwidthGb int64) error
}

// Runtime is the container runtime surface Pipeline needs, narrowed
// from *runtime.Runtime.
type Runtime interface {
	BuildImage(ctx context.Context, spec runtime.BuildSpec, onLog func(line string)) (imageTag, sourceCommitSha string, err error)
	RunContainer(ctx context.Context, spec runtime.RunSpec) (runtime.RunResult, error)
	HealthCheck(ctx context.Context, hostPort, containerPort int, runtimeID string, onLog func(line string)) bool
	GetContainerStateSummary(ctx context.Context, runtimeID string) (string, error)
	GetContainerLogs(ctx context.Context, runtimeID string, n int) ([]string, error)
	SetRestartPolicy(ctx context.Context, runtimeID, policy string) error
	StopContainer(ctx context.Context, runtimeID string) error
}

// Router is the edge-proxy surface Pipeline needs, narrowed from
// *ingress.Router.
type Router interface {
	ConfigureProxy(ctx context.Context, cfg ingress.Config) error
}

// TLSManager is the certificate surface Pipeline needs, narrowed from
// *tls.Manager.
type TLSManager interface {
	EnsureCertificate(ctx context.Context, domain string, aliases []string) (*tls.Certificate, error)
}
