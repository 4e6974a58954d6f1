package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/apployd/engine/pkg/types"
)

// InsertUsageRecords batch-inserts the non-zero rows a stats collector
// cycle derives (§4.N step 5). Empty input is a no-op.
func (s *Store) InsertUsageRecords(ctx context.Context, records []*types.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := make([][]any, len(records))
	for i, r := range records {
		batch[i] = []any{r.ID, r.OrganizationID, r.SubscriptionID, r.ProjectID, r.MetricType, r.Quantity, r.Unit, r.RecordedAt}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"usage_records"},
		[]string{"id", "organization_id", "subscription_id", "project_id", "metric_type", "quantity", "unit", "recorded_at"},
		pgx.CopyFromRows(batch))
	return err
}

// ListUsageRecords loads usage rows for the anomaly detector's window/
// baseline math (§4.P step 1).
func (s *Store) ListUsageRecords(ctx context.Context, projectIDs []string, metricTypes []types.MetricType, sinceISO string) ([]*types.UsageRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, subscription_id, project_id, metric_type, quantity, unit, recorded_at
		FROM usage_records
		WHERE project_id = ANY($1) AND metric_type = ANY($2) AND recorded_at >= $3::timestamptz
		ORDER BY recorded_at ASC`, projectIDs, metricTypes, sinceISO)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.UsageRecord
	for rows.Next() {
		var u types.UsageRecord
		if err := rows.Scan(&u.ID, &u.OrganizationID, &u.SubscriptionID, &u.ProjectID, &u.MetricType, &u.Quantity, &u.Unit, &u.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}
