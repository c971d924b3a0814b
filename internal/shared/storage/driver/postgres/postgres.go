// Package postgres PostgreSQL 数据库驱动
//
// 提供 PostgreSQL 连接管理和方言实现。
package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/getkanchi/kanchi-sub002/internal/shared/storage/dbutil"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Dialect PostgreSQL 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverPostgres
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.RebindToPositional(query)
}

func (d *Dialect) CurrentTimestamp() string {
	return "NOW()"
}

func (d *Dialect) BooleanLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
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

// Open 创建 PostgreSQL 数据库连接
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// NewDialect 创建 PostgreSQL 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema PostgreSQL 建表语句
const schema = `
CREATE TABLE IF NOT EXISTS task_snapshots (
    id VARCHAR(64) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    name VARCHAR(200),
    queue VARCHAR(200),
    hostname VARCHAR(200),
    retries INTEGER DEFAULT 0,
    runtime DOUBLE PRECISION,
    retry_of VARCHAR(64),
    has_retries BOOLEAN DEFAULT FALSE,
    is_orphan BOOLEAN DEFAULT FALSE,
    orphaned_at TIMESTAMPTZ,
    first_seen TIMESTAMPTZ,
    last_updated TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_task_snapshots_status ON task_snapshots(status);
CREATE INDEX IF NOT EXISTS idx_task_snapshots_hostname ON task_snapshots(hostname);
CREATE INDEX IF NOT EXISTS idx_task_snapshots_last_updated ON task_snapshots(last_updated);

CREATE TABLE IF NOT EXISTS worker_snapshots (
    hostname VARCHAR(200) PRIMARY KEY,
    status VARCHAR(32) NOT NULL,
    last_heartbeat TIMESTAMPTZ,
    first_seen TIMESTAMPTZ,
    active_tasks INTEGER DEFAULT 0,
    processed BIGINT DEFAULT 0,
    sw_ident VARCHAR(200),
    sw_ver VARCHAR(64)
);
`
