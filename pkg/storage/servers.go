package storage

import (
	"context"

	"github.com/apployd/engine/pkg/types"
)

// ListHealthyServers satisfies pkg/scheduler.Store: servers with
// status=healthy ordered (region asc, createdAt asc), per §4.H step 1.
func (s *Store) ListHealthyServers(ctx context.Context) ([]*types.Server, error) {
	return listServers(ctx, s.pool, `
		SELECT id, name, region, ipv4, status, total_ram_mb, total_cpu_millicores,
		       total_bandwidth_gb, reserved_ram_mb, reserved_cpu_millicores,
		       reserved_bandwidth_gb, max_containers, created_at
		FROM servers WHERE status = 'healthy'
		ORDER BY region ASC, created_at ASC`)
}

// GetServer loads one server row.
func (s *Store) GetServer(ctx context.Context, id string) (*types.Server, error) {
	return scanServer(s.pool.QueryRow(ctx, `
		SELECT id, name, region, ipv4, status, total_ram_mb, total_cpu_millicores,
		       total_bandwidth_gb, reserved_ram_mb, reserved_cpu_millicores,
		       reserved_bandwidth_gb, max_containers, created_at
		FROM servers WHERE id = $1`, id))
}

// AdjustReservation applies a delta (positive or negative) to a server's
// reserved* columns within tx, per §4.J step 4 and §4.K step 8.
func (tx *Tx) AdjustReservation(ctx context.Context, serverID string, ramMb, cpuMillicores, bandwidthGb int64) error {
	_, err := tx.q.Exec(ctx, `
		UPDATE servers
		SET reserved_ram_mb = reserved_ram_mb + $2,
		    reserved_cpu_millicores = reserved_cpu_millicores + $3,
		    reserved_bandwidth_gb = reserved_bandwidth_gb + $4
		WHERE id = $1`, serverID, ramMb, cpuMillicores, bandwidthGb)
	return err
}

// AdjustReservationTx runs a single AdjustReservation inside its own
// serializable transaction, for callers (pkg/pipeline's capacity
// rebalance and failure-path release) that don't need to compose it
// with other statements and so have no need for the full *Tx surface.
// Narrowing it this way lets pkg/pipeline depend on a small interface
// instead of *storage.Store, matching pkg/scheduler.Store/pkg/tls.Store.
func (s *Store) AdjustReservationTx(ctx context.Context, serverID string, ramMb, cpuMillicores, bandwidthGb int64) error {
	return s.WithSerializableTx(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.AdjustReservation(ctx, serverID, ramMb, cpuMillicores, bandwidthGb)
	})
}

func listServers(ctx context.Context, q querier, sql string, args ...any) ([]*types.Server, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Server
	for rows.Next() {
		srv, err := scanServerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*types.Server, error) {
	srv, err := scanServerRow(row)
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return srv, nil
}

func scanServerRow(row rowScanner) (*types.Server, error) {
	var srv types.Server
	err := row.Scan(&srv.ID, &srv.Name, &srv.Region, &srv.IPv4, &srv.Status,
		&srv.TotalRamMb, &srv.TotalCpuMillicores, &srv.TotalBandwidthGb,
		&srv.ReservedRamMb, &srv.ReservedCpuMillicores, &srv.ReservedBandwidthGb,
		&srv.MaxContainers, &srv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &srv, nil
}
