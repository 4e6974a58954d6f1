package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/pkg/types"
)

type fakeStore struct {
	servers []*types.Server
}

func (f fakeStore) ListHealthyServers(ctx context.Context) ([]*types.Server, error) {
	return f.servers, nil
}

func server(id, region string, ram, cpu, bw int64, created time.Time) *types.Server {
	return &types.Server{
		ID: id, Region: region, Status: types.ServerHealthy,
		TotalRamMb: ram, TotalCpuMillicores: cpu, TotalBandwidthGb: bw,
		CreatedAt: created,
	}
}

func TestSchedule_PicksHighestScore(t *testing.T) {
	now := time.Now()
	store := fakeStore{servers: []*types.Server{
		server("small", "us-east", 1024, 1000, 10, now),
		server("large", "us-east", 8192, 4000, 100, now.Add(time.Minute)),
	}}

	best, err := Schedule(context.Background(), store, Request{RamMb: 512, CpuMillicores: 500, BandwidthGb: 1})
	require.NoError(t, err)
	assert.Equal(t, "large", best.ID)
}

func TestSchedule_TieBreaksOnEarliestCreatedAt(t *testing.T) {
	now := time.Now()
	store := fakeStore{servers: []*types.Server{
		server("second", "us-east", 2048, 2000, 20, now.Add(time.Minute)),
		server("first", "us-east", 2048, 2000, 20, now),
	}}

	best, err := Schedule(context.Background(), store, Request{RamMb: 100, CpuMillicores: 100, BandwidthGb: 1})
	require.NoError(t, err)
	assert.Equal(t, "first", best.ID)
}

func TestSchedule_RegionFirstThenGlobalRetry(t *testing.T) {
	now := time.Now()
	store := fakeStore{servers: []*types.Server{
		server("wrong-region", "eu-west", 8192, 4000, 100, now),
	}}

	best, err := Schedule(context.Background(), store, Request{RamMb: 512, CpuMillicores: 500, BandwidthGb: 1, Region: "us-east"})
	require.NoError(t, err)
	assert.Equal(t, "wrong-region", best.ID)
}

func TestSchedule_NoHealthyServers(t *testing.T) {
	store := fakeStore{}
	_, err := Schedule(context.Background(), store, Request{RamMb: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNoHealthyServers))
}

func TestSchedule_InsufficientCapacity(t *testing.T) {
	store := fakeStore{servers: []*types.Server{
		server("tiny", "us-east", 512, 500, 5, time.Now()),
	}}
	_, err := Schedule(context.Background(), store, Request{RamMb: 4096, CpuMillicores: 2000, BandwidthGb: 50})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrInsufficientCapacity))

	var schedErr *apperr.SchedulerError
	require.True(t, errors.As(err, &schedErr))
	assert.Equal(t, 1, schedErr.Diagnostics.HealthyCount)
}
