package storage

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/apployd/engine/pkg/types"
)

func scanProjectRow(row rowScanner) (*types.Project, error) {
	var p types.Project
	err := row.Scan(&p.ID, &p.OrganizationID, &p.Slug, &p.GitProvider, &p.RepoURL, &p.Branch,
		&p.Runtime, &p.ServiceType, &p.InstallCommand, &p.BuildCommand, &p.StartCommand,
		&p.RootDirectory, &p.TargetPort, &p.AutoDeployEnabled, &p.PreviewDeploymentsEnabled,
		&p.SleepEnabled, &p.AttackModeEnabled, &p.ResourceRamMb, &p.ResourceCpuMillicore,
		&p.ResourceBandwidthGb, &p.ActiveDeploymentID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

const projectColumns = `
	id, organization_id, slug, git_provider, repo_url, branch, runtime, service_type,
	install_command, build_command, start_command, root_directory, target_port,
	auto_deploy_enabled, preview_deployments_enabled, sleep_enabled, attack_mode_enabled,
	resource_ram_mb, resource_cpu_millicore, resource_bandwidth_gb, active_deployment_id`

// GetProject loads one project row.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	p, err := scanProjectRow(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return p, nil
}

func (tx *Tx) GetProject(ctx context.Context, id string) (*types.Project, error) {
	p, err := scanProjectRow(tx.q.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return p, nil
}

// SetProjectActiveDeployment updates a project's activeDeploymentId (§4.K step 9).
func (tx *Tx) SetProjectActiveDeployment(ctx context.Context, projectID, deploymentID string) error {
	_, err := tx.q.Exec(ctx, `UPDATE projects SET active_deployment_id = $2 WHERE id = $1`, projectID, deploymentID)
	return err
}

// SetProjectActiveDeployment is the single-statement wrapper pkg/pipeline
// calls after FinishDeploymentReady, narrowing the transactional version
// above to something a pkg/pipeline.Store fake can implement directly.
func (s *Store) SetProjectActiveDeployment(ctx context.Context, projectID, deploymentID string) error {
	return s.WithSerializableTx(ctx, func(ctx context.Context, tx *Tx) error {
		return tx.SetProjectActiveDeployment(ctx, projectID, deploymentID)
	})
}

// ActiveReservationServer returns the server currently holding this
// project's capacity reservation (its active deployment's server, if that
// deployment's capacityReserved is still set), used by §4.J step 4's
// reservation-transfer logic.
func (tx *Tx) ActiveReservationServer(ctx context.Context, projectID string) (serverID string, found bool, err error) {
	err = tx.q.QueryRow(ctx, `
		SELECT d.server_id FROM deployments d
		JOIN projects p ON p.active_deployment_id = d.id
		WHERE p.id = $1 AND d.capacity_reserved = true`, projectID).Scan(&serverID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return serverID, true, nil
}

// ListVerifiedCustomDomains returns a project's active custom domain aliases (§4.K step 6).
func (s *Store) ListVerifiedCustomDomains(ctx context.Context, projectID string) ([]*types.CustomDomain, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, project_id, domain, cname_target, verification_token, status
		FROM custom_domains WHERE project_id = $1 AND status = 'active'`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.CustomDomain
	for rows.Next() {
		var d types.CustomDomain
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Domain, &d.CNAMETarget, &d.VerificationToken, &d.Status); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
