package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

const upsertRun = `
INSERT INTO analysis_runs
(id, started_at, input_size, input_sha256, model, status,
 tool_findings, model_findings, merged, degraded_reason, error,
 artifact_url, duration_ms)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 status = VALUES(status),
 tool_findings = VALUES(tool_findings),
 model_findings = VALUES(model_findings),
 merged = VALUES(merged),
 degraded_reason = VALUES(degraded_reason),
 error = VALUES(error),
 artifact_url = VALUES(artifact_url),
 duration_ms = VALUES(duration_ms)`

// Save insert/update satu run record
func (r *RunRepository) Save(ctx context.Context, rec *analysis.RunRecord) error {
	if _, err := r.db.ExecContext(ctx, upsertRun, runArgs(rec)...); err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	return nil
}

func runArgs(rec *analysis.RunRecord) []any {
	var errText sql.NullString
	if rec.Error != "" {
		errText = sql.NullString{String: rec.Error, Valid: true}
	}
	return []any{
		string(rec.ID), startedOrNow(rec.StartedAt), rec.InputSize, rec.InputSHA256,
		stringOrDash(rec.Model), stringOrDash(string(rec.Status)),
		rec.ToolFindings, rec.ModelFindings, rec.Merged,
		stringOrDash(rec.DegradedReason), errText,
		rec.ArtifactURL, rec.DurationMS,
	}
}
