package storage

import (
	"context"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/pkg/policy"
	"github.com/apployd/engine/pkg/types"
)

// GetOrganization loads one organization row.
func (s *Store) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	var org types.Organization
	err := s.pool.QueryRow(ctx, `SELECT id, slug, owner_user_id FROM organizations WHERE id = $1`, id).
		Scan(&org.ID, &org.Slug, &org.OwnerUserID)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &org, nil
}

// GetActiveSubscription loads the organization's active/trialing subscription,
// or apperr.ErrNoActiveSubscription if none is active (§4.J step 1).
func (s *Store) GetActiveSubscription(ctx context.Context, organizationID string) (*types.Subscription, error) {
	return scanSubscription(ctx, s.pool, organizationID)
}

func (tx *Tx) GetActiveSubscription(ctx context.Context, organizationID string) (*types.Subscription, error) {
	return scanSubscription(ctx, tx.q, organizationID)
}

func scanSubscription(ctx context.Context, q querier, organizationID string) (*types.Subscription, error) {
	var sub types.Subscription
	err := q.QueryRow(ctx, `
		SELECT id, organization_id, plan_code, status, period_start, period_end,
		       pool_ram_mb, pool_cpu_millicores, pool_bandwidth_gb, overage_enabled
		FROM subscriptions
		WHERE organization_id = $1 AND status IN ('active', 'trialing')
		ORDER BY period_start DESC LIMIT 1`, organizationID).
		Scan(&sub.ID, &sub.OrganizationID, &sub.PlanCode, &sub.Status, &sub.PeriodStart, &sub.PeriodEnd,
			&sub.PoolRamMb, &sub.PoolCpuMillicores, &sub.PoolBandwidthGb, &sub.OverageEnabled)
	if err != nil {
		if err := wrapNotFound(err); err == apperr.ErrNotFound {
			return nil, apperr.ErrNoActiveSubscription
		}
		return nil, err
	}
	return &sub, nil
}

// SumOrgProjectResources satisfies pkg/policy.Tx: resource* totals across
// an organization's projects, excluding excludeProjectID (§4.I).
func (tx *Tx) SumOrgProjectResources(ctx context.Context, organizationID, excludeProjectID string) (policy.Resources, error) {
	var res policy.Resources
	err := tx.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(resource_ram_mb), 0), COALESCE(SUM(resource_cpu_millicore), 0),
		       COALESCE(SUM(resource_bandwidth_gb), 0)
		FROM projects
		WHERE organization_id = $1 AND id <> $2`, organizationID, excludeProjectID).
		Scan(&res.RamMb, &res.CpuMillicores, &res.BandwidthGb)
	return res, err
}

// ActiveSubscriptionPool satisfies pkg/policy.Tx: the org's active
// subscription's resource pool.
func (tx *Tx) ActiveSubscriptionPool(ctx context.Context, organizationID string) (policy.Resources, error) {
	sub, err := tx.GetActiveSubscription(ctx, organizationID)
	if err != nil {
		return policy.Resources{}, err
	}
	return policy.Resources{
		RamMb:         sub.PoolRamMb,
		CpuMillicores: sub.PoolCpuMillicores,
		BandwidthGb:   sub.PoolBandwidthGb,
	}, nil
}
