package prompt

import (
	"fmt"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/ai"
)

// Researcher builds the messages of the "Security Researcher" agent.
type Researcher struct {
	// ScanTool is the capability name the model may call.
	ScanTool string
}

func NewResearcher(scanTool string) Researcher {
	return Researcher{ScanTool: scanTool}
}

// System provides strict directions and the report schema.
func (r Researcher) System() string {
	return fmt.Sprintf(`You are Security Researcher, a senior application security analyst reviewing a single block of source code.

Process:
1. Call the %[1]s tool exactly once to run static analysis on the code. You do not need to pass the code; the tool already has it.
2. Review the code yourself, line by line. Look for what static analysis misses: business logic flaws, missing authorization, unsafe defaults, race conditions, weak cryptography, injection through indirect data flows.
3. Produce the final report.

If the tool reports that static analysis is unavailable, continue with your own review only and say so in the summary. Do not call the tool a second time.

Report rules:
- Output one JSON object only, no markdown and no commentary.
- Include every finding returned by the tool, plus every additional issue you found.
- "code" must quote the vulnerable lines exactly as they appear in the input.
- "cvss_score" is a CVSS v3 base score between 0.0 and 10.0.
- "severity" is one of critical (9.0-10.0), high (7.0-8.9), medium (4.0-6.9), low (below 4.0) and must match the score.
- "fix" is concrete remediation, ideally corrected code.
- "summary" is a short narrative of the overall security posture.

Schema:
{
  "summary": "<string>",
  "issues": [
    {
      "title": "<string>",
      "description": "<string>",
      "code": "<string>",
      "fix": "<string>",
      "cvss_score": 0.0,
      "severity": "<critical|high|medium|low>"
    }
  ]
}`, r.ScanTool)
}

// User wraps the submitted code.
func (r Researcher) User(code string) string {
	return fmt.Sprintf("Please analyze the following code for security vulnerabilities:\n\n%s", code)
}

// Revision asks for a corrected report after a schema violation.
func (r Researcher) Revision(violation string) string {
	return fmt.Sprintf("Your report was rejected: %s\nReply with the corrected JSON report only. Do not call any tool.", violation)
}

// Tool describes the scan capability to the model. Arguments are optional
// because the scan always runs over the submitted code.
func (r Researcher) Tool() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        r.ScanTool,
		Description: "Run Semgrep static analysis over the submitted code with the default security ruleset. Can be called once.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"reason": map[string]any{
					"type":        "string",
					"description": "Why the scan is being requested.",
				},
			},
			"additionalProperties": false,
		},
	}
}
