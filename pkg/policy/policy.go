package policy

import (
	"context"

	"github.com/apployd/engine/internal/apperr"
)

// Resources is a resource request/allocation along the three axes
// accounted for across the engine (§4.I, §4.H).
type Resources struct {
	RamMb         int64
	CpuMillicores int64
	BandwidthGb   int64
}

// Tx is the subset of a transaction AssertCanAllocate needs. Storage
// implements this against the live Postgres row set within the caller's
// serializable transaction.
type Tx interface {
	// SumOrgProjectResources sums resource* across every project of
	// organizationID except excludeProjectID.
	SumOrgProjectResources(ctx context.Context, organizationID, excludeProjectID string) (Resources, error)

	// ActiveSubscriptionPool returns the organization's active
	// subscription resource pool, or apperr.ErrNoActiveSubscription if
	// none is active.
	ActiveSubscriptionPool(ctx context.Context, organizationID string) (Resources, error)
}

// AssertCanAllocate implements §4.I: under a serializable transaction,
// sums resource* across the org's projects excluding projectID, adds
// req, and rejects if any axis would exceed the subscription pool.
// Reports *apperr.AllocationError{axis, requested, available}.
func AssertCanAllocate(ctx context.Context, tx Tx, organizationID, projectID string, req Resources) error {
	used, err := tx.SumOrgProjectResources(ctx, organizationID, projectID)
	if err != nil {
		return err
	}

	pool, err := tx.ActiveSubscriptionPool(ctx, organizationID)
	if err != nil {
		return err
	}

	if axis, available := overflow("ramMb", used.RamMb, req.RamMb, pool.RamMb); axis != "" {
		return &apperr.AllocationError{Axis: axis, Requested: req.RamMb, Available: available}
	}
	if axis, available := overflow("cpuMillicores", used.CpuMillicores, req.CpuMillicores, pool.CpuMillicores); axis != "" {
		return &apperr.AllocationError{Axis: axis, Requested: req.CpuMillicores, Available: available}
	}
	if axis, available := overflow("bandwidthGb", used.BandwidthGb, req.BandwidthGb, pool.BandwidthGb); axis != "" {
		return &apperr.AllocationError{Axis: axis, Requested: req.BandwidthGb, Available: available}
	}

	return nil
}

// overflow returns the axis name and remaining headroom if used+requested
// would exceed pool, or ("", 0) if the axis fits.
func overflow(axis string, used, requested, pool int64) (string, int64) {
	available := pool - used
	if requested > available {
		return axis, available
	}
	return "", 0
}
