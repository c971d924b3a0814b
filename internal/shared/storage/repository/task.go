// Package repository 任务快照存取
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
	"github.com/getkanchi/kanchi-sub002/internal/shared/storage"
)

// UpsertTask 写入/覆盖一条任务快照
func (s *Store) UpsertTask(ctx context.Context, v *model.TaskView) error {
	query := `INSERT INTO task_snapshots
		(id, status, name, queue, hostname, retries, runtime, retry_of,
		 has_retries, is_orphan, orphaned_at, first_seen, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) ` +
		s.dialect.UpsertConflict("id", []string{
			"status = EXCLUDED.status",
			"name = EXCLUDED.name",
			"queue = EXCLUDED.queue",
			"hostname = EXCLUDED.hostname",
			"retries = EXCLUDED.retries",
			"runtime = EXCLUDED.runtime",
			"retry_of = EXCLUDED.retry_of",
			"has_retries = EXCLUDED.has_retries",
			"is_orphan = EXCLUDED.is_orphan",
			"orphaned_at = EXCLUDED.orphaned_at",
			"last_updated = EXCLUDED.last_updated",
		})

	var runtime sql.NullFloat64
	if v.Runtime != nil {
		runtime = sql.NullFloat64{Float64: *v.Runtime, Valid: true}
	}
	var orphanedAt sql.NullTime
	if v.OrphanedAt != nil {
		orphanedAt = sql.NullTime{Time: *v.OrphanedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		v.ID, string(v.Status), v.Name, v.Queue, v.Hostname, v.Retries,
		runtime, v.RetryOf, v.HasRetries, v.IsOrphan, orphanedAt,
		v.FirstSeen, v.LastUpdated)
	return err
}

// GetTask 读取一条任务快照
func (s *Store) GetTask(ctx context.Context, taskID string) (*model.TaskView, error) {
	query := `SELECT id, status, name, queue, hostname, retries, runtime,
		retry_of, has_retries, is_orphan, orphaned_at, first_seen, last_updated
		FROM task_snapshots WHERE id = $1`

	var (
		v          model.TaskView
		status     string
		runtime    sql.NullFloat64
		orphanedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, s.rebind(query), taskID).Scan(
		&v.ID, &status, &v.Name, &v.Queue, &v.Hostname, &v.Retries,
		&runtime, &v.RetryOf, &v.HasRetries, &v.IsOrphan, &orphanedAt,
		&v.FirstSeen, &v.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.Status = model.TaskStatus(status)
	if runtime.Valid {
		v.Runtime = &runtime.Float64
	}
	if orphanedAt.Valid {
		v.OrphanedAt = &orphanedAt.Time
	}
	return &v, nil
}
