package mysql

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	// test ping
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

const createRuns = `
CREATE TABLE IF NOT EXISTS analysis_runs (
  id              VARCHAR(36)  NOT NULL PRIMARY KEY,
  started_at      DATETIME(3)  NOT NULL,
  input_size      INT          NOT NULL,
  input_sha256    CHAR(64)     NOT NULL,
  model           VARCHAR(128) NOT NULL,
  status          VARCHAR(16)  NOT NULL,
  tool_findings   INT          NOT NULL DEFAULT 0,
  model_findings  INT          NOT NULL DEFAULT 0,
  merged          INT          NOT NULL DEFAULT 0,
  degraded_reason VARCHAR(255) NOT NULL DEFAULT '-',
  error           TEXT,
  artifact_url    VARCHAR(512) NOT NULL DEFAULT '',
  duration_ms     BIGINT       NOT NULL DEFAULT 0,
  INDEX idx_runs_started (started_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the analysis_runs table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createRuns)
	return err
}
