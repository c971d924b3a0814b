// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于开发、测试和单机部署场景。
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/getkanchi/kanchi-sub002/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.RebindToQuestion(query)
}

func (d *Dialect) CurrentTimestamp() string {
	return "datetime('now')"
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (d *Dialect) UpsertConflict(conflictColumn string, updateExprs []string) string {
	result := fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET ", conflictColumn)
	for i, expr := range updateExprs {
		if i > 0 {
			result += ", "
		}
		result += expr
	}
	return result
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:kanchi.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite 优化设置
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- 任务快照
CREATE TABLE IF NOT EXISTS task_snapshots (
    id VARCHAR(64) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    name VARCHAR(200),
    queue VARCHAR(200),
    hostname VARCHAR(200),
    retries INTEGER DEFAULT 0,
    runtime REAL,
    retry_of VARCHAR(64),
    has_retries INTEGER DEFAULT 0,
    is_orphan INTEGER DEFAULT 0,
    orphaned_at DATETIME,
    first_seen DATETIME,
    last_updated DATETIME
);

CREATE INDEX IF NOT EXISTS idx_task_snapshots_status ON task_snapshots(status);
CREATE INDEX IF NOT EXISTS idx_task_snapshots_hostname ON task_snapshots(hostname);
CREATE INDEX IF NOT EXISTS idx_task_snapshots_last_updated ON task_snapshots(last_updated);

-- Worker 快照
CREATE TABLE IF NOT EXISTS worker_snapshots (
    hostname VARCHAR(200) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    last_heartbeat DATETIME,
    first_seen DATETIME,
    active_tasks INTEGER DEFAULT 0,
    processed INTEGER DEFAULT 0,
    sw_ident VARCHAR(200),
    sw_ver VARCHAR(64)
);
`
