package analysis

import (
	"math"
	"strings"
)

// Severity enum
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Valid reports whether s is one of the four recognised labels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// SeverityForScore maps a CVSS score onto its band:
// critical >= 9.0, high 7.0-8.9, medium 4.0-6.9, low < 4.0.
func SeverityForScore(score float64) Severity {
	switch {
	case score >= 9.0:
		return SeverityCritical
	case score >= 7.0:
		return SeverityHigh
	case score >= 4.0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// ClampScore forces a score into [0.0, 10.0] and rounds it to one decimal.
func ClampScore(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return math.Round(score*10) / 10
}

// NormalizeSeverityLabel lowercases and trims a model-supplied label.
func NormalizeSeverityLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// toolSeverityScores approximates a CVSS score for tool vocabularies that do not
// carry one. Covers semgrep (ERROR/WARNING/INFO), SARIF levels and generic labels.
var toolSeverityScores = map[string]float64{
	"critical": 9.5,
	"error":    7.5,
	"high":     7.5,
	"warning":  5.0,
	"medium":   5.0,
	"moderate": 5.0,
	"info":     2.5,
	"note":     2.5,
	"low":      2.5,
}

// ToolSeverityScore returns the approximate CVSS score for a tool severity label.
// Unknown labels are treated as medium.
func ToolSeverityScore(label string) float64 {
	if v, ok := toolSeverityScores[strings.ToLower(strings.TrimSpace(label))]; ok {
		return v
	}
	return 5.0
}
