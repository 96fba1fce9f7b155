package analysis

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestValidate(t *testing.T) {
	for _, code := range []string{"", "   ", "\n\t  \n"} {
		err := Request{Code: code}.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	}
	assert.NoError(t, Request{Code: "print(1)"}.Validate())
}

func TestSecurityReportRoundTrip(t *testing.T) {
	in := SecurityReport{
		Summary: "Analyzed 20 characters of code: 1 tool finding, 0 additional findings.",
		Issues: []SecurityIssue{
			{
				Title:       "Use of eval",
				Description: "User input reaches eval().",
				Code:        "x = input(); eval(x)",
				Fix:         "Use ast.literal_eval or avoid dynamic evaluation.",
				CVSSScore:   9.8,
				Severity:    SeverityCritical,
			},
		},
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out SecurityReport
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, in, out)
	assert.Contains(t, string(b), `"cvss_score":9.8`)
}

func TestModelFindingIssueRecomputesSeverity(t *testing.T) {
	score := 9.1
	issue := ModelFinding{
		Title: " SQL injection ", Description: "d", Code: "c", Fix: "f",
		CVSSScore: &score, Severity: "low",
	}.Issue()
	assert.Equal(t, "SQL injection", issue.Title)
	assert.Equal(t, SeverityCritical, issue.Severity)
}
