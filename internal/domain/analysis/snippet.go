package analysis

import "strings"

// minLineLen drops braces and other trivial lines before snippets are compared.
const minLineLen = 3

// snippetOverlap returns the share of lines of the shorter snippet that also appear
// (equal or contained) in the other snippet, after whitespace normalisation.
func snippetOverlap(a, b string) float64 {
	la, lb := normalizedLines(a), normalizedLines(b)
	if len(la) == 0 || len(lb) == 0 {
		return 0
	}
	small, large := la, lb
	if len(small) > len(large) {
		small, large = large, small
	}
	matched := 0
	for _, s := range small {
		for _, l := range large {
			if s == l || strings.Contains(l, s) || strings.Contains(s, l) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(small))
}

func normalizedLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		norm := strings.Join(strings.Fields(line), " ")
		if len(norm) < minLineLen {
			continue
		}
		out = append(out, norm)
	}
	return out
}

// FillSnippets replaces each finding's snippet with the exact source lines of its
// location, so tool snippets always match the analysed code. Findings whose
// location falls outside the source keep the snippet reported by the tool.
func FillSnippets(findings []ToolFinding, source string) []ToolFinding {
	lines := strings.Split(source, "\n")
	out := make([]ToolFinding, len(findings))
	for i, f := range findings {
		out[i] = f
		start, end := f.StartLine, f.EndLine
		if end < start {
			end = start
		}
		if start < 1 || start > len(lines) {
			continue
		}
		if end > len(lines) {
			end = len(lines)
		}
		out[i].Snippet = strings.Join(lines[start-1:end], "\n")
	}
	return out
}
