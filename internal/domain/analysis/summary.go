package analysis

import (
	"fmt"
	"strings"
)

// SummaryContext is the caller-supplied context prepended to the model narrative.
type SummaryContext struct {
	InputSize      int
	Degraded       bool
	DegradedReason string
	Narrative      string
}

// ComposeSummary states the input size, the count of tool findings against the
// count of additional model-only findings, a degradation note, then the narrative.
func ComposeSummary(sc SummaryContext, stats AssemblyStats) string {
	parts := []string{
		fmt.Sprintf("Analyzed %d characters of code: %s, %s.",
			sc.InputSize,
			countNoun(stats.ToolFindings, "tool finding"),
			countNoun(stats.AdditionalFindings, "additional finding")),
	}
	if sc.Degraded {
		reason := strings.TrimSpace(sc.DegradedReason)
		if reason == "" {
			reason = "tool unavailable"
		}
		parts = append(parts, fmt.Sprintf("Degraded analysis: static analysis was unavailable (%s); findings come from AI review only.", reason))
	}
	if n := strings.TrimSpace(sc.Narrative); n != "" {
		parts = append(parts, n)
	}
	return strings.Join(parts, " ")
}

func countNoun(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
