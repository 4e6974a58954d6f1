package storage

import (
	"context"
	"time"

	"github.com/apployd/engine/pkg/types"
)

const containerColumns = `
	id, project_id, server_id, docker_container_id, image_tag, internal_port, host_port,
	status, sleep_status, started_at, stopped_at, last_request_at`

func scanContainerRow(row rowScanner) (*types.Container, error) {
	var c types.Container
	err := row.Scan(&c.ID, &c.ProjectID, &c.ServerID, &c.DockerContainerID, &c.ImageTag,
		&c.InternalPort, &c.HostPort, &c.Status, &c.SleepStatus, &c.StartedAt, &c.StoppedAt, &c.LastRequestAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContainer loads one container row.
func (s *Store) GetContainer(ctx context.Context, id string) (*types.Container, error) {
	c, err := scanContainerRow(s.pool.QueryRow(ctx, `SELECT `+containerColumns+` FROM containers WHERE id = $1`, id))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return c, nil
}

// GetActiveContainerForProject loads the container backing a project's
// active deployment, used by the recovery loop (§4.O step 1).
func (s *Store) GetActiveContainerForProject(ctx context.Context, projectID string) (*types.Container, error) {
	c, err := scanContainerRow(s.pool.QueryRow(ctx, `
		SELECT c.`+containerColumns+`
		FROM containers c
		JOIN deployments d ON d.container_id = c.id
		JOIN projects p ON p.active_deployment_id = d.id
		WHERE p.id = $1`, projectID))
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return c, nil
}

// ListProjectsWithActiveDeployment loads up to limit projects that have an
// active deployment set, for the recovery loop (§4.O step 1).
func (s *Store) ListProjectsWithActiveDeployment(ctx context.Context, limit int) ([]*types.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE active_deployment_id IS NOT NULL AND active_deployment_id <> ''
		ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProjectRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertContainer creates a container row after a successful run (§4.K step 7).
func (s *Store) InsertContainer(ctx context.Context, c *types.Container) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO containers (id, project_id, server_id, docker_container_id, image_tag,
			internal_port, host_port, status, sleep_status, started_at, last_request_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.ProjectID, c.ServerID, c.DockerContainerID, c.ImageTag, c.InternalPort,
		c.HostPort, c.Status, c.SleepStatus, c.StartedAt, c.LastRequestAt)
	return err
}

// UpdateContainerState updates status/sleepStatus, used by the queue
// consumer's sleep/wake actions (§4.M) and the recovery loop (§4.O).
func (s *Store) UpdateContainerState(ctx context.Context, id string, status types.ContainerStatus, sleepStatus types.SleepStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE containers SET status = $2, sleep_status = $3 WHERE id = $1`, id, status, sleepStatus)
	return err
}

// MarkContainerStopped persists a stop (§4.M sleep action, §4.K step 9 prior-container stop).
func (s *Store) MarkContainerStopped(ctx context.Context, id string, stoppedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE containers SET status = 'stopped', sleep_status = 'sleeping', stopped_at = $2 WHERE id = $1`,
		id, stoppedAt)
	return err
}

// MarkContainerWoken persists a wake (§4.M wake action).
func (s *Store) MarkContainerWoken(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE containers SET status = 'running', sleep_status = 'awake', started_at = $2, last_request_at = $2
		WHERE id = $1`, id, at)
	return err
}

// TouchLastRequest bumps lastRequestAt. Nothing in this module calls it.
func (s *Store) TouchLastRequest(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE containers SET last_request_at = $2 WHERE id = $1`, id, at)
	return err
}

// ListRuntimePrefixedContainers returns containers whose dockerContainerId
// begins with prefix, for the stats collector's platform-scoped poll (§4.N step 1).
func (s *Store) ListRuntimePrefixedContainers(ctx context.Context, prefix string) ([]*types.Container, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+containerColumns+` FROM containers
		WHERE docker_container_id LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Container
	for rows.Next() {
		c, err := scanContainerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// OwnerOf resolves the organization/subscription/project owning a
// container, for the stats collector's ownership cache (§4.N step 2).
func (s *Store) OwnerOf(ctx context.Context, containerID string) (organizationID, subscriptionID, projectID string, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT p.organization_id, COALESCE(sub.id, ''), c.project_id
		FROM containers c
		JOIN projects p ON p.id = c.project_id
		LEFT JOIN LATERAL (
			SELECT id FROM subscriptions
			WHERE organization_id = p.organization_id AND status IN ('active','trialing')
			ORDER BY period_start DESC LIMIT 1
		) sub ON true
		WHERE c.id = $1`, containerID).
		Scan(&organizationID, &subscriptionID, &projectID)
	if err != nil {
		err = wrapNotFound(err)
	}
	return
}
