package analysis

import "time"

// RunID tipe untuk satu analysis run
type RunID string

// RunStatus enum
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunDegraded  RunStatus = "degraded"
	RunFailed    RunStatus = "failed"
)

// RunRecord is the audit metadata of one analysis run.
type RunRecord struct {
	ID             RunID     `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	InputSize      int       `json:"input_size"`
	InputSHA256    string    `json:"input_sha256"`
	Model          string    `json:"model"`
	Status         RunStatus `json:"status"`
	ToolFindings   int       `json:"tool_findings"`
	ModelFindings  int       `json:"model_findings"`
	Merged         int       `json:"merged"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
	Error          string    `json:"error,omitempty"`
	ArtifactURL    string    `json:"artifact_url,omitempty"`
	DurationMS     int64     `json:"duration_ms"`
}
