package analysis

import (
	"fmt"
	"strings"
)

// Request is the validated input of one analysis run.
type Request struct {
	Code string `json:"code"`
}

// Validate rejects empty or whitespace-only code before any processing happens.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: No code provided for analysis", ErrValidation)
	}
	return nil
}

// ToolFinding is one rule match reported by the static-analysis tool, in the tool's vocabulary.
type ToolFinding struct {
	RuleID    string   `json:"rule_id"`
	Message   string   `json:"message"`
	Path      string   `json:"path,omitempty"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Snippet   string   `json:"snippet"`
	Severity  string   `json:"severity"` // ERROR | WARNING | INFO (semgrep), error | warning | note (sarif)
	CWE       []string `json:"cwe,omitempty"`
	CVSS      *float64 `json:"cvss,omitempty"`
	Fix       string   `json:"fix,omitempty"`
}

// ModelFinding is one issue as asserted by the reasoning model.
// CVSSScore is a pointer so that a missing score can be told apart from 0.0.
type ModelFinding struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Code        string   `json:"code" validate:"required"`
	Fix         string   `json:"fix" validate:"required"`
	CVSSScore   *float64 `json:"cvss_score" validate:"required,gte=0,lte=10"`
	Severity    string   `json:"severity" validate:"required,oneof=critical high medium low"`
}

// Candidate is the model's final structured output before assembly.
type Candidate struct {
	Summary string         `json:"summary" validate:"required"`
	Issues  []ModelFinding `json:"issues" validate:"required,dive"`
}

// SecurityIssue is the unified issue shape returned to callers.
type SecurityIssue struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Code        string   `json:"code"`
	Fix         string   `json:"fix"`
	CVSSScore   float64  `json:"cvss_score"`
	Severity    Severity `json:"severity"`
}

// SecurityReport value object, produced once per request.
type SecurityReport struct {
	Summary string          `json:"summary"`
	Issues  []SecurityIssue `json:"issues"`
}

// Issue converts a validated model finding into the unified shape. Severity is
// recomputed from the score; the model's label is not trusted.
func (m ModelFinding) Issue() SecurityIssue {
	var score float64
	if m.CVSSScore != nil {
		score = ClampScore(*m.CVSSScore)
	}
	return SecurityIssue{
		Title:       strings.TrimSpace(m.Title),
		Description: strings.TrimSpace(m.Description),
		Code:        m.Code,
		Fix:         strings.TrimSpace(m.Fix),
		CVSSScore:   score,
		Severity:    SeverityForScore(score),
	}
}
