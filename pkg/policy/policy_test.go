package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apployd/engine/internal/apperr"
)

type fakeTx struct {
	used Resources
	pool Resources
}

func (f fakeTx) SumOrgProjectResources(ctx context.Context, organizationID, excludeProjectID string) (Resources, error) {
	return f.used, nil
}

func (f fakeTx) ActiveSubscriptionPool(ctx context.Context, organizationID string) (Resources, error) {
	return f.pool, nil
}

func TestAssertCanAllocate_WithinPool(t *testing.T) {
	tx := fakeTx{
		used: Resources{RamMb: 1024, CpuMillicores: 500, BandwidthGb: 10},
		pool: Resources{RamMb: 4096, CpuMillicores: 2000, BandwidthGb: 100},
	}
	err := AssertCanAllocate(context.Background(), tx, "org-1", "proj-1", Resources{RamMb: 512, CpuMillicores: 250, BandwidthGb: 5})
	require.NoError(t, err)
}

func TestAssertCanAllocate_ExceedsRam(t *testing.T) {
	tx := fakeTx{
		used: Resources{RamMb: 3800, CpuMillicores: 500, BandwidthGb: 10},
		pool: Resources{RamMb: 4096, CpuMillicores: 2000, BandwidthGb: 100},
	}
	err := AssertCanAllocate(context.Background(), tx, "org-1", "proj-1", Resources{RamMb: 512, CpuMillicores: 250, BandwidthGb: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrAllocationRejected))

	var allocErr *apperr.AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Equal(t, "ramMb", allocErr.Axis)
}
