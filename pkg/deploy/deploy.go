package deploy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/events"
	"github.com/apployd/engine/pkg/policy"
	"github.com/apployd/engine/pkg/retry"
	"github.com/apployd/engine/pkg/scheduler"
	"github.com/apployd/engine/pkg/types"
)

// serializableAttempts bounds the retry-on-conflict loop §4.I requires
// around the insert-allocate-reserve transaction.
const serializableAttempts = 3

// Request is one create() call's input (§4.J).
type Request struct {
	ProjectID   string
	Trigger     string
	Environment types.DeploymentEnvironment
	GitURL      string
	Branch      string
	CommitSha   string
	ImageTag    string
	ActorUserID string
}

// Queue is the subset of the coordination store Create needs for
// enqueuing and for the GitHub-push dedupe key (§4.J.5, §4.J.6).
type Queue interface {
	EnqueueDeploymentJob(ctx context.Context, payload []byte) error
	ReserveGithubPushDedupe(ctx context.Context, projectID, commitSha string) (bool, error)
}

// Store is the persistence surface Create needs, narrowed from
// *storage.Store so tests can substitute an in-memory fake, matching the
// narrow-interface idiom used by pkg/scheduler.Store and pkg/pipeline.Store.
// CreateDeploymentTx collapses §4.J step 4's insert-allocate-reserve
// sequence into one call since that sequence runs under a single
// serializable transaction.
type Store interface {
	scheduler.Store
	GetProject(ctx context.Context, id string) (*types.Project, error)
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)
	GetActiveSubscription(ctx context.Context, organizationID string) (*types.Subscription, error)
	InsertAuditLog(ctx context.Context, a *types.AuditLog) error
	CreateDeploymentTx(ctx context.Context, deployment *types.Deployment, organizationID string, reserved policy.Resources) error
}

// Service implements §4.J's create() deployment request.
type Service struct {
	store     Store
	queue     Queue
	publisher *events.Publisher
}

// New builds a deployment request Service.
func New(store Store, queue Queue, publisher *events.Publisher) *Service {
	return &Service{store: store, queue: queue, publisher: publisher}
}

// QueuedJob is the single JSON blob appended to the deployment queue (§4.J step 5).
type QueuedJob struct {
	DeploymentID   string                      `json:"deploymentId"`
	OrganizationID string                      `json:"organizationId"`
	ProjectID      string                      `json:"projectId"`
	Environment    types.DeploymentEnvironment `json:"environment"`
	Request        Request                     `json:"request"`
}

// Create implements §4.J's 6-step flow.
func (svc *Service) Create(ctx context.Context, req Request) (deploymentID string, err error) {
	logger := log.WithComponent("deploy")

	project, err := svc.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return "", err
	}

	org, err := svc.store.GetOrganization(ctx, project.OrganizationID)
	if err != nil {
		return "", err
	}

	if _, err := svc.store.GetActiveSubscription(ctx, org.ID); err != nil {
		return "", err
	}

	if req.Environment == types.EnvironmentPreview && !project.PreviewDeploymentsEnabled {
		return "", apperr.ErrEntitlementMissing
	}
	if req.Trigger == "github_push" && !project.AutoDeployEnabled {
		return "", apperr.ErrEntitlementMissing
	}

	if req.Trigger == "github_push" && req.CommitSha != "" {
		isNew, err := svc.queue.ReserveGithubPushDedupe(ctx, req.ProjectID, req.CommitSha)
		if err != nil {
			return "", err
		}
		if !isNew {
			return "", apperr.ErrWebhookDuplicate
		}
	}

	server, err := scheduler.Schedule(ctx, svc.store, scheduler.Request{
		RamMb:         project.ResourceRamMb,
		CpuMillicores: project.ResourceCpuMillicore,
		BandwidthGb:   project.ResourceBandwidthGb,
	})
	if err != nil {
		return "", err
	}

	deployment := &types.Deployment{
		ID:          types.NewID(),
		ProjectID:   project.ID,
		ServerID:    server.ID,
		Environment: req.Environment,
		Status:      types.DeploymentQueued,
		Trigger:     req.Trigger,
		GitURL:      req.GitURL,
		Branch:      req.Branch,
		CommitSha:   req.CommitSha,
		ImageTag:    req.ImageTag,
		CreatedAt:   time.Now().UTC(),
	}

	reserved := policy.Resources{
		RamMb:         project.ResourceRamMb,
		CpuMillicores: project.ResourceCpuMillicore,
		BandwidthGb:   project.ResourceBandwidthGb,
	}

	if err := retry.Serializable(ctx, serializableAttempts, func(ctx context.Context) error {
		return svc.store.CreateDeploymentTx(ctx, deployment, org.ID, reserved)
	}); err != nil {
		return "", err
	}

	job := QueuedJob{
		DeploymentID:   deployment.ID,
		OrganizationID: org.ID,
		ProjectID:      project.ID,
		Environment:    req.Environment,
		Request:        req,
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := svc.queue.EnqueueDeploymentJob(ctx, payload); err != nil {
		return "", err
	}

	if svc.publisher != nil {
		_ = svc.publisher.Publish(ctx, events.Event{DeploymentID: deployment.ID, Type: events.TypeQueued, Message: "deployment queued"})
	}

	_ = svc.store.InsertAuditLog(ctx, &types.AuditLog{
		ID: types.NewID(), ActorUserID: req.ActorUserID, Action: "deployment.created",
		TargetType: "deployment", TargetID: deployment.ID, CreatedAt: time.Now().UTC(),
	})

	logger.Info().Str("deployment_id", deployment.ID).Str("project_id", project.ID).Str("server_id", server.ID).Msg("deployment request created")
	return deployment.ID, nil
}
