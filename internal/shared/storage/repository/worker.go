// Package repository Worker 快照存取
package repository

import (
	"context"

	"github.com/getkanchi/kanchi-sub002/internal/shared/model"
)

// UpsertWorker 写入/覆盖一条 Worker 快照
func (s *Store) UpsertWorker(ctx context.Context, w *model.WorkerRecord) error {
	query := `INSERT INTO worker_snapshots
		(hostname, status, last_heartbeat, first_seen, active_tasks, processed, sw_ident, sw_ver)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ` +
		s.dialect.UpsertConflict("hostname", []string{
			"status = EXCLUDED.status",
			"last_heartbeat = EXCLUDED.last_heartbeat",
			"active_tasks = EXCLUDED.active_tasks",
			"processed = EXCLUDED.processed",
			"sw_ident = EXCLUDED.sw_ident",
			"sw_ver = EXCLUDED.sw_ver",
		})

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		w.Hostname, string(w.Status), w.LastHeartbeat, w.FirstSeen,
		w.ActiveTasks, w.Processed, w.SoftwareIdent, w.SoftwareVer)
	return err
}

// ListWorkers 读取全部 Worker 快照
func (s *Store) ListWorkers(ctx context.Context) ([]*model.WorkerRecord, error) {
	query := `SELECT hostname, status, last_heartbeat, first_seen,
		active_tasks, processed, sw_ident, sw_ver
		FROM worker_snapshots ORDER BY hostname`

	rows, err := s.db.QueryContext(ctx, s.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.WorkerRecord
	for rows.Next() {
		var (
			w      model.WorkerRecord
			status string
		)
		if err := rows.Scan(&w.Hostname, &status, &w.LastHeartbeat, &w.FirstSeen,
			&w.ActiveTasks, &w.Processed, &w.SoftwareIdent, &w.SoftwareVer); err != nil {
			return nil, err
		}
		w.Status = model.WorkerStatus(status)
		out = append(out, &w)
	}
	return out, rows.Err()
}
