package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

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
  id              VARCHAR(36)  PRIMARY KEY,
  started_at      TIMESTAMPTZ  NOT NULL,
  input_size      INTEGER      NOT NULL,
  input_sha256    CHAR(64)     NOT NULL,
  model           VARCHAR(128) NOT NULL,
  status          VARCHAR(16)  NOT NULL,
  tool_findings   INTEGER      NOT NULL DEFAULT 0,
  model_findings  INTEGER      NOT NULL DEFAULT 0,
  merged          INTEGER      NOT NULL DEFAULT 0,
  degraded_reason VARCHAR(255) NOT NULL DEFAULT '-',
  error           TEXT,
  artifact_url    VARCHAR(512) NOT NULL DEFAULT '',
  duration_ms     BIGINT       NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON analysis_runs (started_at);`

// EnsureSchema creates the analysis_runs table when missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, createRuns)
	return err
}
