package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

type RunRepository struct{ db *sql.DB }

func NewRunRepository(db *sql.DB) *RunRepository { return &RunRepository{db: db} }

const upsertRun = `
INSERT INTO analysis_runs
(id, started_at, input_size, input_sha256, model, status,
 tool_findings, model_findings, merged, degraded_reason, error,
 artifact_url, duration_ms)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
 status = EXCLUDED.status,
 tool_findings = EXCLUDED.tool_findings,
 model_findings = EXCLUDED.model_findings,
 merged = EXCLUDED.merged,
 degraded_reason = EXCLUDED.degraded_reason,
 error = EXCLUDED.error,
 artifact_url = EXCLUDED.artifact_url,
 duration_ms = EXCLUDED.duration_ms;`

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
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return []any{
		string(rec.ID), started.UTC(), rec.InputSize, rec.InputSHA256,
		stringOrDash(rec.Model), stringOrDash(string(rec.Status)),
		rec.ToolFindings, rec.ModelFindings, rec.Merged,
		stringOrDash(rec.DegradedReason), errText,
		rec.ArtifactURL, rec.DurationMS,
	}
}

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
