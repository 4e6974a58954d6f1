package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/config"
	"github.com/apployd/engine/pkg/ingress"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/tls"
	"github.com/apployd/engine/pkg/types"
)

// fakeStore is an in-memory double for pipeline.Store, covering the rows
// a single Run needs. Reservation deltas are recorded rather than applied,
// since tests only assert on what the pipeline asked to adjust.
type fakeStore struct {
	deployment *types.Deployment
	project    *types.Project
	org        *types.Organization
	server     *types.Server
	containers map[string]*types.Container

	reservations []reservationCall
	auditLog     []string

	cancelAfterReads int
	reads            int
}

type reservationCall struct {
	serverID                          string
	ramMb, cpuMillicores, bandwidthGb int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{containers: map[string]*types.Container{}}
}

func (f *fakeStore) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	f.reads++
	if f.cancelAfterReads > 0 && f.reads > f.cancelAfterReads {
		canceled := *f.deployment
		canceled.Status = types.DeploymentCanceled
		return &canceled, nil
	}
	return f.deployment, nil
}

func (f *fakeStore) GetProject(ctx context.Context, id string) (*types.Project, error) {
	return f.project, nil
}

func (f *fakeStore) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	return f.org, nil
}

func (f *fakeStore) GetServer(ctx context.Context, id string) (*types.Server, error) {
	return f.server, nil
}

func (f *fakeStore) SetDeploymentStarted(ctx context.Context, id string, at time.Time) error {
	f.deployment.Status = types.DeploymentBuilding
	f.deployment.StartedAt = &at
	return nil
}

func (f *fakeStore) SetDeploymentBuildResult(ctx context.Context, id, imageTag, commitSha string) error {
	f.deployment.ImageTag = imageTag
	f.deployment.CommitSha = commitSha
	return nil
}

func (f *fakeStore) SetDeploymentDeploying(ctx context.Context, id string) error {
	f.deployment.Status = types.DeploymentDeploying
	return nil
}

func (f *fakeStore) ListVerifiedCustomDomains(ctx context.Context, projectID string) ([]*types.CustomDomain, error) {
	return nil, nil
}

func (f *fakeStore) SetDeploymentDomain(ctx context.Context, id, domain string) error {
	f.deployment.Domain = domain
	return nil
}

func (f *fakeStore) InsertContainer(ctx context.Context, c *types.Container) error {
	f.containers[c.ID] = c
	return nil
}

func (f *fakeStore) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	c, ok := f.containers[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return c, nil
}

func (f *fakeStore) FinishDeploymentReady(ctx context.Context, id, containerID string, at time.Time) error {
	f.deployment.Status = types.DeploymentReady
	f.deployment.ContainerID = containerID
	f.deployment.FinishedAt = &at
	return nil
}

func (f *fakeStore) SetProjectActiveDeployment(ctx context.Context, projectID, deploymentID string) error {
	f.project.ActiveDeploymentID = deploymentID
	return nil
}

func (f *fakeStore) MarkContainerStopped(ctx context.Context, id string, at time.Time) error {
	if c, ok := f.containers[id]; ok {
		c.Status = types.ContainerStopped
		c.StoppedAt = &at
	}
	return nil
}

func (f *fakeStore) FinishDeploymentFailed(ctx context.Context, id, errMsg string, at time.Time) error {
	f.deployment.Status = types.DeploymentFailed
	f.deployment.ErrorMessage = errMsg
	f.deployment.FinishedAt = &at
	return nil
}

func (f *fakeStore) ReleaseCapacity(ctx context.Context, deploymentID string) error {
	f.deployment.CapacityReserved = false
	return nil
}

func (f *fakeStore) InsertAuditLog(ctx context.Context, a *types.AuditLog) error {
	f.auditLog = append(f.auditLog, a.Action)
	return nil
}

func (f *fakeStore) AdjustReservationTx(ctx context.Context, serverID string, ramMb, cpuMillicores, bandwidthGb int64) error {
	f.reservations = append(f.reservations, reservationCall{serverID, ramMb, cpuMillicores, bandwidthGb})
	return nil
}

// fakeRuntime is an in-memory double for pipeline.Runtime.
type fakeRuntime struct {
	buildErr      error
	runErr        error
	healthy       bool
	stoppedIDs    []string
	runtimeIDSeq  int
	restartPolicy string
}

func (f *fakeRuntime) BuildImage(ctx context.Context, spec runtime.BuildSpec, onLog func(line string)) (string, string, error) {
	if f.buildErr != nil {
		return "", "", f.buildErr
	}
	return "img:" + spec.DeploymentID, "sha-" + spec.DeploymentID, nil
}

func (f *fakeRuntime) RunContainer(ctx context.Context, spec runtime.RunSpec) (runtime.RunResult, error) {
	if f.runErr != nil {
		return runtime.RunResult{}, f.runErr
	}
	f.runtimeIDSeq++
	return runtime.RunResult{RuntimeID: "rt-1", HostPort: 30000 + f.runtimeIDSeq}, nil
}

func (f *fakeRuntime) HealthCheck(ctx context.Context, hostPort, containerPort int, runtimeID string, onLog func(line string)) bool {
	return f.healthy
}

func (f *fakeRuntime) GetContainerStateSummary(ctx context.Context, runtimeID string) (string, error) {
	return "exited", nil
}

func (f *fakeRuntime) GetContainerLogs(ctx context.Context, runtimeID string, n int) ([]string, error) {
	return []string{"boom"}, nil
}

func (f *fakeRuntime) SetRestartPolicy(ctx context.Context, runtimeID, policy string) error {
	f.restartPolicy = policy
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, runtimeID string) error {
	f.stoppedIDs = append(f.stoppedIDs, runtimeID)
	return nil
}

type fakeRouter struct{ configured int }

func (f *fakeRouter) ConfigureProxy(ctx context.Context, cfg ingress.Config) error {
	f.configured++
	return nil
}

type fakeTLSManager struct{}

func (f *fakeTLSManager) EnsureCertificate(ctx context.Context, domain string, aliases []string) (*tls.Certificate, error) {
	return &tls.Certificate{CertPEM: []byte("cert"), KeyPEM: []byte("key")}, nil
}

func newTestPipeline(store *fakeStore, rt *fakeRuntime) *Pipeline {
	return New(store, rt, &fakeRouter{}, &fakeTLSManager{}, nil, nil, &config.Config{EngineLocalMode: true})
}

func baseFixture() *fakeStore {
	store := newFakeStore()
	store.deployment = &types.Deployment{ID: "dep-1", ProjectID: "proj-1", ServerID: "srv-1", Environment: types.EnvironmentProduction, Status: types.DeploymentQueued, GitURL: "https://example.com/repo.git"}
	store.project = &types.Project{ID: "proj-1", OrganizationID: "org-1", TargetPort: 8080, ResourceRamMb: 256, ResourceCpuMillicore: 100, ResourceBandwidthGb: 1}
	store.org = &types.Organization{ID: "org-1"}
	store.server = &types.Server{ID: "srv-1", IPv4: "10.0.0.1"}
	return store
}

// E1: happy-path build -> run -> probe -> ready, skipping route/DNS/TLS in
// local mode.
func TestRun_HappyPath(t *testing.T) {
	store := baseFixture()
	rt := &fakeRuntime{healthy: true}
	p := newTestPipeline(store, rt)

	err := p.Run(context.Background(), "dep-1")
	require.NoError(t, err)

	assert.Equal(t, types.DeploymentReady, store.deployment.Status)
	assert.Equal(t, "img:dep-1", store.deployment.ImageTag)
	assert.Equal(t, "sha-dep-1", store.deployment.CommitSha)
	assert.Equal(t, "dep-1", store.project.ActiveDeploymentID)
	assert.Equal(t, "unless-stopped", rt.restartPolicy)
	assert.Len(t, store.containers, 1)
}

// E3: a failing health probe fails the deployment, stops the container
// that was started, and releases its capacity reservation.
func TestRun_HealthCheckFailureRollsBack(t *testing.T) {
	store := baseFixture()
	store.deployment.CapacityReserved = true
	rt := &fakeRuntime{healthy: false}
	p := newTestPipeline(store, rt)

	err := p.Run(context.Background(), "dep-1")
	require.Error(t, err)

	assert.Equal(t, types.DeploymentFailed, store.deployment.Status)
	assert.Contains(t, rt.stoppedIDs, "rt-1")
	assert.False(t, store.deployment.CapacityReserved)
	require.Len(t, store.reservations, 1)
	assert.Equal(t, "srv-1", store.reservations[0].serverID)
	assert.Equal(t, int64(-256), store.reservations[0].ramMb)
}

// E4: a reused image tag (rollback redeploy) skips the build stage
// entirely; BuildImage must not be called.
func TestRun_ReusedImageTagSkipsBuild(t *testing.T) {
	store := baseFixture()
	store.deployment.ImageTag = "img:reused"
	rt := &fakeRuntime{healthy: true, buildErr: errors.New("must not be called")}
	p := newTestPipeline(store, rt)

	err := p.Run(context.Background(), "dep-1")
	require.NoError(t, err)
	assert.Equal(t, "img:reused", store.deployment.ImageTag)
}

// Invariant 4: status transitions are monotonic queued->building->deploying->ready.
func TestRun_StatusTransitionsAreMonotonic(t *testing.T) {
	store := baseFixture()
	rt := &fakeRuntime{healthy: true}
	p := newTestPipeline(store, rt)

	require.NoError(t, p.Run(context.Background(), "dep-1"))
	assert.Equal(t, types.DeploymentReady, store.deployment.Status)
	assert.NotNil(t, store.deployment.StartedAt)
	assert.NotNil(t, store.deployment.FinishedAt)
}

// Invariant 9: a deployment canceled mid-run is left untouched by the
// failure path (no failed status, no capacity release) and Run returns nil.
func TestRun_CancellationSkipsFailurePath(t *testing.T) {
	store := baseFixture()
	store.deployment.CapacityReserved = true
	store.cancelAfterReads = 1 // first GetDeployment (in run()) succeeds; checkCancellation's re-read sees canceled
	rt := &fakeRuntime{healthy: true}
	p := newTestPipeline(store, rt)

	err := p.Run(context.Background(), "dep-1")
	require.NoError(t, err)

	assert.True(t, store.deployment.CapacityReserved, "capacity release must not run on cancellation")
	assert.Empty(t, store.reservations)
	assert.NotEqual(t, types.DeploymentFailed, store.deployment.Status)
}

func TestRun_RunContainerFailureFailsDeployment(t *testing.T) {
	store := baseFixture()
	rt := &fakeRuntime{runErr: errors.New("containerd unavailable")}
	p := newTestPipeline(store, rt)

	err := p.Run(context.Background(), "dep-1")
	require.Error(t, err)
	assert.Equal(t, types.DeploymentFailed, store.deployment.Status)
	assert.Contains(t, store.deployment.ErrorMessage, "containerd unavailable")
}
