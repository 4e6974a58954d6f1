package storage

import (
	"context"

	"github.com/apployd/engine/pkg/types"
)

// InsertAuditLog appends one auditable-action row. Its callers write
// deployment.created (pkg/deploy) and deployment.ready/deployment.failed
// (pkg/pipeline); intermediate transitions and sleep/wake actions are
// not audited.
func (s *Store) InsertAuditLog(ctx context.Context, a *types.AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_user_id, action, target_type, target_id, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.ActorUserID, a.Action, a.TargetType, a.TargetID, a.Metadata, a.CreatedAt)
	return err
}

// InsertLogEntry appends one structured pipeline/application log line for
// dashboard display (distinct from the engine's own process logs).
func (s *Store) InsertLogEntry(ctx context.Context, l *types.LogEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO log_entries (id, project_id, deployment_id, container_id, level, source, message, metadata, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		l.ID, l.ProjectID, l.DeploymentID, l.ContainerID, l.Level, l.Source, l.Message, l.Metadata, l.Timestamp)
	return err
}
