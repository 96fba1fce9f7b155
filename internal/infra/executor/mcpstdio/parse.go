package mcpstdio

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

// ErrUnknownPayload is returned when a tool payload is neither semgrep JSON nor SARIF.
var ErrUnknownPayload = errors.New("unrecognised tool payload")

type semgrepJSON struct {
	Results []struct {
		CheckID string `json:"check_id"`
		Path    string `json:"path"`
		Start   struct {
			Line int `json:"line"`
		} `json:"start"`
		End struct {
			Line int `json:"line"`
		} `json:"end"`
		Extra struct {
			Message  string `json:"message"`
			Severity string `json:"severity"` // INFO|WARNING|ERROR
			Lines    string `json:"lines"`
			Fix      string `json:"fix"`
			Metadata struct {
				Cwe  any `json:"cwe"` // string | []string | null
				CVSS any `json:"cvss"`
			} `json:"metadata"`
		} `json:"extra"`
	} `json:"results"`
}

type sarifJSON struct {
	Runs []struct {
		Tool struct {
			Driver struct {
				Rules []struct {
					ID         string         `json:"id"`
					Properties map[string]any `json:"properties"`
				} `json:"rules"`
			} `json:"driver"`
		} `json:"tool"`
		Results []struct {
			RuleID  string `json:"ruleId"`
			Level   string `json:"level"`
			Message struct {
				Text string `json:"text"`
			} `json:"message"`
			Locations []struct {
				PhysicalLocation struct {
					ArtifactLocation struct {
						URI string `json:"uri"`
					} `json:"artifactLocation"`
					Region struct {
						StartLine int `json:"startLine"`
						EndLine   int `json:"endLine"`
						Snippet   struct {
							Text string `json:"text"`
						} `json:"snippet"`
					} `json:"region"`
				} `json:"physicalLocation"`
			} `json:"locations"`
			Properties map[string]any `json:"properties"`
		} `json:"results"`
	} `json:"runs"`
}

// ParseFindings turns a tool payload into findings. Semgrep's own JSON output
// and SARIF are both accepted.
func ParseFindings(payload []byte) ([]analysis.ToolFinding, error) {
	var probe struct {
		Results json.RawMessage `json:"results"`
		Runs    json.RawMessage `json:"runs"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownPayload, err)
	}
	switch {
	case probe.Results != nil:
		return parseSemgrep(payload)
	case probe.Runs != nil:
		return parseSARIF(payload)
	}
	return nil, ErrUnknownPayload
}

func parseSemgrep(b []byte) ([]analysis.ToolFinding, error) {
	var doc semgrepJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("semgrep results: %w", err)
	}
	out := make([]analysis.ToolFinding, 0, len(doc.Results))
	for _, r := range doc.Results {
		lines := r.Extra.Lines
		// returned instead of the source when the CLI is not logged in
		if strings.TrimSpace(lines) == "requires login" {
			lines = ""
		}
		out = append(out, analysis.ToolFinding{
			RuleID:    r.CheckID,
			Message:   strings.TrimSpace(r.Extra.Message),
			Path:      filepath.ToSlash(r.Path),
			StartLine: safeLine(r.Start.Line),
			EndLine:   safeLine(r.End.Line),
			Snippet:   lines,
			Severity:  r.Extra.Severity,
			CWE:       toCwe(r.Extra.Metadata.Cwe),
			CVSS:      toScore(r.Extra.Metadata.CVSS),
			Fix:       r.Extra.Fix,
		})
	}
	return out, nil
}

func parseSARIF(b []byte) ([]analysis.ToolFinding, error) {
	var doc sarifJSON
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("sarif runs: %w", err)
	}
	var out []analysis.ToolFinding
	for _, run := range doc.Runs {
		rules := make(map[string]map[string]any, len(run.Tool.Driver.Rules))
		for _, rule := range run.Tool.Driver.Rules {
			rules[rule.ID] = rule.Properties
		}
		for _, r := range run.Results {
			f := analysis.ToolFinding{
				RuleID:   r.RuleID,
				Message:  strings.TrimSpace(r.Message.Text),
				Severity: sarifSeverity(r.Level, r.Properties),
			}
			if len(r.Locations) > 0 {
				loc := r.Locations[0].PhysicalLocation
				f.Path = filepath.ToSlash(loc.ArtifactLocation.URI)
				f.StartLine = safeLine(loc.Region.StartLine)
				f.EndLine = safeLine(loc.Region.EndLine)
				f.Snippet = loc.Region.Snippet.Text
			}
			if f.EndLine < f.StartLine {
				f.EndLine = f.StartLine
			}
			// security-severity is a CVSS-style score, on the result or its rule
			f.CVSS = toScore(r.Properties["security-severity"])
			if f.CVSS == nil {
				f.CVSS = toScore(rules[r.RuleID]["security-severity"])
			}
			f.CWE = toCwe(r.Properties["cwe"])
			if f.CWE == nil {
				f.CWE = toCwe(rules[r.RuleID]["cwe"])
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func sarifSeverity(level string, props map[string]any) string {
	for _, key := range []string{"severity", "Severity"} {
		if s, ok := props[key].(string); ok && s != "" {
			return strings.ToLower(s)
		}
	}
	if level == "" {
		return "warning"
	}
	return strings.ToLower(level)
}

func safeLine(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// toCwe keeps only the identifier of entries like "CWE-95: Improper Neutralization ...".
func toCwe(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = []string{t}
	case []any:
		for _, e := range t {
			if s, ok := e.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var out []string
	for _, s := range raw {
		id, _, _ := strings.Cut(s, ":")
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func toScore(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = n
	default:
		return nil
	}
	if f < 0 || f > 10 {
		return nil
	}
	return &f
}
