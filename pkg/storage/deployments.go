package storage

import (
	"context"
	"time"

	"github.com/apployd/engine/pkg/policy"
	"github.com/apployd/engine/pkg/types"
)

const deploymentColumns = `
	id, project_id, server_id, environment, status, trigger, git_url, branch, commit_sha,
	image_tag, domain, build_logs, deploy_logs, error_message, capacity_reserved,
	created_at, started_at, finished_at, container_id`

func scanDeploymentRow(row rowScanner) (*types.Deployment, error) {
	var d types.Deployment
	err := row.Scan(&d.ID, &d.ProjectID, &d.ServerID, &d.Environment, &d.Status, &d.Trigger,
		&d.GitURL, &d.Branch, &d.CommitSha, &d.ImageTag, &d.Domain, &d.BuildLogs, &d.DeployLogs,
		&d.ErrorMessage, &d.CapacityReserved, &d.CreatedAt, &d.StartedAt, &d.FinishedAt, &d.ContainerID)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDeployment loads one deployment row.
func (s *Store) GetDeployment(ctx context.Context, id string) (*types.Deployment, error) {
	d, err := scanDeploymentRow(s.pool.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return d, nil
}

// InsertDeployment creates the initial queued deployment row within tx (§4.J step 4).
func (tx *Tx) InsertDeployment(ctx context.Context, d *types.Deployment) error {
	_, err := tx.q.Exec(ctx, `
		INSERT INTO deployments (id, project_id, server_id, environment, status, trigger, git_url,
			branch, commit_sha, image_tag, capacity_reserved, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.ProjectID, d.ServerID, d.Environment, d.Status, d.Trigger, d.GitURL,
		d.Branch, d.CommitSha, d.ImageTag, d.CapacityReserved, d.CreatedAt)
	return err
}

// MarkCapacityReserved flips capacityReserved=true after the reservation is applied.
func (tx *Tx) MarkCapacityReserved(ctx context.Context, deploymentID string) error {
	_, err := tx.q.Exec(ctx, `UPDATE deployments SET capacity_reserved = true WHERE id = $1`, deploymentID)
	return err
}

// CreateDeploymentTx runs §4.J step 4's insert-allocate-reserve sequence
// inside one serializable transaction: insert the queued deployment row,
// assert the organization's pool has headroom, transfer the project's
// prior reservation if it sat on a different server, apply the new one,
// and flip capacityReserved. Collapsing the sequence into a single call
// lets pkg/deploy depend on an interface instead of *Store, matching
// pkg/pipeline's AdjustReservationTx.
func (s *Store) CreateDeploymentTx(ctx context.Context, deployment *types.Deployment, organizationID string, reserved policy.Resources) error {
	return s.WithSerializableTx(ctx, func(ctx context.Context, tx *Tx) error {
		if err := tx.InsertDeployment(ctx, deployment); err != nil {
			return err
		}
		if err := policy.AssertCanAllocate(ctx, tx, organizationID, deployment.ProjectID, reserved); err != nil {
			return err
		}
		if oldServerID, found, err := tx.ActiveReservationServer(ctx, deployment.ProjectID); err != nil {
			return err
		} else if found && oldServerID != deployment.ServerID {
			if err := tx.AdjustReservation(ctx, oldServerID, -reserved.RamMb, -reserved.CpuMillicores, -reserved.BandwidthGb); err != nil {
				return err
			}
		}
		if err := tx.AdjustReservation(ctx, deployment.ServerID, reserved.RamMb, reserved.CpuMillicores, reserved.BandwidthGb); err != nil {
			return err
		}
		return tx.MarkCapacityReserved(ctx, deployment.ID)
	})
}

// UpdateDeploymentStatus persists a status transition, enforcing the
// monotonic state machine at the storage boundary is the pipeline's job;
// this just writes the row (§4.K).
func (s *Store) UpdateDeploymentStatus(ctx context.Context, id string, status types.DeploymentStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE deployments SET status = $2 WHERE id = $1`, id, status)
	return err
}

// SetDeploymentStarted marks a deployment building, per §4.K step 1.
func (s *Store) SetDeploymentStarted(ctx context.Context, id string, startedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE deployments SET status = 'building', started_at = $2 WHERE id = $1`, id, startedAt)
	return err
}

// SetDeploymentBuildResult persists the resolved image tag and commit sha (§4.K step 2).
func (s *Store) SetDeploymentBuildResult(ctx context.Context, id, imageTag, commitSha string) error {
	_, err := s.pool.Exec(ctx, `UPDATE deployments SET image_tag = $2, commit_sha = $3 WHERE id = $1`, id, imageTag, commitSha)
	return err
}

// SetDeploymentDeploying records the building->deploying transition.
func (s *Store) SetDeploymentDeploying(ctx context.Context, id string) error {
	return s.UpdateDeploymentStatus(ctx, id, types.DeploymentDeploying)
}

// SetDeploymentDomain persists the resolved route domain (§4.K step 6).
func (s *Store) SetDeploymentDomain(ctx context.Context, id, domain string) error {
	_, err := s.pool.Exec(ctx, `UPDATE deployments SET domain = $2 WHERE id = $1`, id, domain)
	return err
}

// FinishDeploymentReady persists the successful outcome (§4.K step 9).
func (s *Store) FinishDeploymentReady(ctx context.Context, id, containerID string, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deployments SET status = 'ready', container_id = $2, finished_at = $3 WHERE id = $1`,
		id, containerID, finishedAt)
	return err
}

// FinishDeploymentFailed persists the failure outcome, per §4.K's failure path.
func (s *Store) FinishDeploymentFailed(ctx context.Context, id, errorMessage string, finishedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE deployments SET status = 'failed', error_message = $2, finished_at = $3 WHERE id = $1`,
		id, errorMessage, finishedAt)
	return err
}

// ReleaseCapacity clears capacityReserved after the failure path releases
// the server reservation (§4.K failure path).
func (s *Store) ReleaseCapacity(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE deployments SET capacity_reserved = false WHERE id = $1`, id)
	return err
}
