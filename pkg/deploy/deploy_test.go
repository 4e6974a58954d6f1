package deploy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/pkg/policy"
	"github.com/apployd/engine/pkg/types"
)

// fakeStore is an in-memory double for deploy.Store.
type fakeStore struct {
	project      *types.Project
	org          *types.Organization
	subscription *types.Subscription
	servers      []*types.Server

	created  []*types.Deployment
	auditLog []string
	txErr    error
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	return f.project, nil
}

func (f *fakeStore) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	return f.org, nil
}

func (f *fakeStore) GetActiveSubscription(ctx context.Context, organizationID string) (*types.Subscription, error) {
	if f.subscription == nil {
		return nil, apperr.ErrNoActiveSubscription
	}
	return f.subscription, nil
}

func (f *fakeStore) ListHealthyServers(ctx context.Context) ([]*types.Server, error) {
	return f.servers, nil
}

func (f *fakeStore) InsertAuditLog(ctx context.Context, a *types.AuditLog) error {
	f.auditLog = append(f.auditLog, a.Action)
	return nil
}

func (f *fakeStore) CreateDeploymentTx(ctx context.Context, deployment *types.Deployment, organizationID string, reserved policy.Resources) error {
	if f.txErr != nil {
		return f.txErr
	}
	deployment.CapacityReserved = true
	f.created = append(f.created, deployment)
	return nil
}

// fakeQueue is an in-memory double for deploy.Queue.
type fakeQueue struct {
	enqueued  [][]byte
	reserved  map[string]bool
	enqueueErr error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{reserved: map[string]bool{}}
}

func (f *fakeQueue) EnqueueDeploymentJob(ctx context.Context, payload []byte) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func (f *fakeQueue) ReserveGithubPushDedupe(ctx context.Context, projectID, commitSha string) (bool, error) {
	key := projectID + ":" + commitSha
	if f.reserved[key] {
		return false, nil
	}
	f.reserved[key] = true
	return true, nil
}

func baseFixture() (*fakeStore, *fakeQueue) {
	store := &fakeStore{
		project: &types.Project{
			ID: "proj-1", OrganizationID: "org-1", AutoDeployEnabled: true,
			PreviewDeploymentsEnabled: true, ResourceRamMb: 256, ResourceCpuMillicore: 100, ResourceBandwidthGb: 1,
		},
		org:          &types.Organization{ID: "org-1"},
		subscription: &types.Subscription{ID: "sub-1", OrganizationID: "org-1", Status: types.SubscriptionActive},
		servers:      []*types.Server{{ID: "srv-1", Region: "us-east", Status: types.ServerHealthy, TotalRamMb: 4096, TotalCpuMillicores: 4000, TotalBandwidthGb: 100, CreatedAt: time.Now()}},
	}
	return store, newFakeQueue()
}

func TestCreate_HappyPath(t *testing.T) {
	store, queue := baseFixture()
	svc := New(store, queue, nil)

	id, err := svc.Create(context.Background(), Request{ProjectID: "proj-1", Trigger: "manual", Environment: types.EnvironmentProduction})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, store.created, 1)
	assert.True(t, store.created[0].CapacityReserved)
	assert.Len(t, queue.enqueued, 1)
	assert.Contains(t, store.auditLog, "deployment.created")
}

// E5: a second github_push with the same project/commitSha is rejected as
// a duplicate without reaching the scheduler or the transaction.
func TestCreate_WebhookDedupe(t *testing.T) {
	store, queue := baseFixture()
	svc := New(store, queue, nil)
	req := Request{ProjectID: "proj-1", Trigger: "github_push", Environment: types.EnvironmentProduction, CommitSha: "abc123"}

	_, err := svc.Create(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrWebhookDuplicate))
	assert.Len(t, store.created, 1, "duplicate push must not create a second deployment")
}

func TestCreate_NoActiveSubscription(t *testing.T) {
	store, queue := baseFixture()
	store.subscription = nil
	svc := New(store, queue, nil)

	_, err := svc.Create(context.Background(), Request{ProjectID: "proj-1", Trigger: "manual", Environment: types.EnvironmentProduction})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNoActiveSubscription))
}

func TestCreate_PreviewDisabledRejected(t *testing.T) {
	store, queue := baseFixture()
	store.project.PreviewDeploymentsEnabled = false
	svc := New(store, queue, nil)

	_, err := svc.Create(context.Background(), Request{ProjectID: "proj-1", Trigger: "manual", Environment: types.EnvironmentPreview})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEntitlementMissing))
}

func TestCreate_AutoDeployDisabledRejectsPush(t *testing.T) {
	store, queue := baseFixture()
	store.project.AutoDeployEnabled = false
	svc := New(store, queue, nil)

	_, err := svc.Create(context.Background(), Request{ProjectID: "proj-1", Trigger: "github_push", Environment: types.EnvironmentProduction, CommitSha: "abc123"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEntitlementMissing))
}

// A non-conflict error returned by the transaction (here the
// retry-exhausted sentinel itself) propagates unretried and the
// deployment is never enqueued.
func TestCreate_TransactionFailurePropagates(t *testing.T) {
	store, queue := baseFixture()
	store.txErr = apperr.ErrRetryableSerializationFailure
	svc := New(store, queue, nil)

	_, err := svc.Create(context.Background(), Request{ProjectID: "proj-1", Trigger: "manual", Environment: types.EnvironmentProduction})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrRetryableSerializationFailure))
	assert.Empty(t, queue.enqueued)
}

func TestCreate_NoHealthyServers(t *testing.T) {
	store, queue := baseFixture()
	store.servers = nil
	svc := New(store, queue, nil)

	_, err := svc.Create(context.Background(), Request{ProjectID: "proj-1", Trigger: "manual", Environment: types.EnvironmentProduction})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNoHealthyServers))
}
