package analysis

import (
	"strings"
	"unicode"
)

// DedupPolicy holds the tunable thresholds used to decide whether two findings
// describe the same vulnerability.
type DedupPolicy struct {
	// SnippetOverlap is the minimum share of lines the two snippets must share.
	SnippetOverlap float64 `yaml:"snippet_overlap" validate:"gt=0,lte=1"`
	// TextSimilarity is the minimum title/description Jaccard index used when
	// at least one side cannot be classified.
	TextSimilarity float64 `yaml:"text_similarity" validate:"gt=0,lte=1"`
}

// DefaultDedupPolicy returns the thresholds used when none are configured.
func DefaultDedupPolicy() DedupPolicy {
	return DedupPolicy{SnippetOverlap: 0.5, TextSimilarity: 0.35}
}

// Origin marks which source produced an entry.
type Origin int

const (
	OriginTool Origin = iota
	OriginModel
)

// AssemblyStats counts what the assembler kept.
type AssemblyStats struct {
	ToolFindings       int `json:"tool_findings"`
	AdditionalFindings int `json:"additional_findings"`
	Merged             int `json:"merged"`
}

type entry struct {
	issue        SecurityIssue
	origin       Origin
	class        string
	derivedScore bool
	derivedFix   bool
}

// Assemble merges tool findings and model issues into one deduplicated report.
// Tool-sourced entries come first, then model-sourced ones, each in discovery order.
// The function is pure: the same inputs always produce the same report.
func Assemble(tool []ToolFinding, model []SecurityIssue, sc SummaryContext, policy DedupPolicy) (SecurityReport, AssemblyStats) {
	var (
		kept  []*entry
		stats AssemblyStats
	)
	add := func(e *entry) {
		for _, k := range kept {
			if sameFinding(k, e, policy) {
				mergeInto(k, e)
				stats.Merged++
				return
			}
		}
		kept = append(kept, e)
	}

	for _, f := range tool {
		add(toolEntry(f))
	}
	for _, m := range model {
		add(modelEntry(m))
	}

	issues := make([]SecurityIssue, 0, len(kept))
	for _, k := range kept {
		k.issue.CVSSScore = ClampScore(k.issue.CVSSScore)
		k.issue.Severity = SeverityForScore(k.issue.CVSSScore)
		issues = append(issues, k.issue)
		if k.origin == OriginTool {
			stats.ToolFindings++
		} else {
			stats.AdditionalFindings++
		}
	}

	return SecurityReport{
		Summary: ComposeSummary(sc, stats),
		Issues:  issues,
	}, stats
}

// NormalizeToolFinding maps one tool finding onto the unified issue shape.
func NormalizeToolFinding(f ToolFinding) SecurityIssue {
	return toolEntry(f).issue
}

func toolEntry(f ToolFinding) *entry {
	score := ToolSeverityScore(f.Severity)
	derivedScore := true
	if f.CVSS != nil {
		score = *f.CVSS
		derivedScore = false
	}
	score = ClampScore(score)

	fix := strings.TrimSpace(f.Fix)
	derivedFix := false
	if fix == "" {
		fix = "Review the code flagged by rule " + f.RuleID + " and apply the remediation recommended for that rule."
		derivedFix = true
	}
	title := humanizeRuleID(f.RuleID)
	desc := strings.TrimSpace(f.Message)
	if len(f.CWE) > 0 {
		desc += " (" + strings.Join(f.CWE, ", ") + ")"
	}
	return &entry{
		issue: SecurityIssue{
			Title:       title,
			Description: desc,
			Code:        f.Snippet,
			Fix:         fix,
			CVSSScore:   score,
			Severity:    SeverityForScore(score),
		},
		origin:       OriginTool,
		class:        toolClass(f, title),
		derivedScore: derivedScore,
		derivedFix:   derivedFix,
	}
}

// toolClass prefers the CWE tags over keyword matching on the rule text.
func toolClass(f ToolFinding, title string) string {
	if c := ClassifyCWE(f.CWE); c != "" {
		return c
	}
	return Classify(title+" "+f.RuleID, f.Message)
}

func modelEntry(m SecurityIssue) *entry {
	m.CVSSScore = ClampScore(m.CVSSScore)
	m.Severity = SeverityForScore(m.CVSSScore)
	return &entry{
		issue:  m,
		origin: OriginModel,
		class:  Classify(m.Title, m.Description),
	}
}

// sameFinding: the snippets must overlap substantially AND both entries must
// describe the same vulnerability class.
func sameFinding(a, b *entry, p DedupPolicy) bool {
	if snippetOverlap(a.issue.Code, b.issue.Code) < p.SnippetOverlap {
		return false
	}
	if a.class != "" && b.class != "" {
		return a.class == b.class
	}
	return tokenSimilarity(a.issue.Title+" "+a.issue.Description, b.issue.Title+" "+b.issue.Description) >= p.TextSimilarity
}

func mergeInto(dst, src *entry) {
	// tool snippets are extracted from the source mechanically
	if dst.origin != OriginTool && src.origin == OriginTool {
		dst.issue.Code = src.issue.Code
	}
	// model wording is written for humans; rule ids are not
	if dst.origin == OriginTool && src.origin == OriginModel {
		if t := strings.TrimSpace(src.issue.Title); t != "" {
			dst.issue.Title = t
		}
		if len(src.issue.Description) > len(dst.issue.Description) {
			dst.issue.Description = src.issue.Description
		}
	}
	if moreSpecificFix(src, dst) {
		dst.issue.Fix = src.issue.Fix
		dst.derivedFix = src.derivedFix
	}
	switch {
	case dst.derivedScore && !src.derivedScore:
		dst.issue.CVSSScore = src.issue.CVSSScore
		dst.derivedScore = false
	case dst.derivedScore == src.derivedScore && src.issue.CVSSScore > dst.issue.CVSSScore:
		dst.issue.CVSSScore = src.issue.CVSSScore
	}
	dst.issue.Severity = SeverityForScore(dst.issue.CVSSScore)
	if dst.class == "" {
		dst.class = src.class
	}
}

func moreSpecificFix(src, dst *entry) bool {
	if src.derivedFix != dst.derivedFix {
		return !src.derivedFix
	}
	return len(strings.TrimSpace(src.issue.Fix)) > len(strings.TrimSpace(dst.issue.Fix))
}

// humanizeRuleID turns "python.lang.security.audit.eval-detected.eval-detected"
// into "Eval Detected".
func humanizeRuleID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "Static analysis finding"
	}
	parts := strings.Split(id, ".")
	last := parts[len(parts)-1]
	words := strings.FieldsFunc(last, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		rs := []rune(w)
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	if len(words) == 0 {
		return id
	}
	return strings.Join(words, " ")
}
