package mcpstdio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseFindings_Semgrep(t *testing.T) {
	payload := []byte(`{
	  "results": [
	    {
	      "check_id": "python.django.security.injection.sql.sql-injection-using-raw",
	      "path": "app\\views.py",
	      "start": {"line": 10},
	      "end": {"line": 11},
	      "extra": {
	        "message": "  User input reaches a raw SQL query.  ",
	        "severity": "ERROR",
	        "lines": "cursor.execute(q)",
	        "fix": "cursor.execute(q, params)",
	        "metadata": {"cwe": "CWE-89: SQL Injection", "cvss": "8.1"}
	      }
	    }
	  ],
	  "errors": []
	}`)

	got, err := ParseFindings(payload)
	require.NoError(t, err)
	require.Len(t, got, 1)
	f := got[0]
	assert.Equal(t, "User input reaches a raw SQL query.", f.Message)
	assert.Equal(t, 10, f.StartLine)
	assert.Equal(t, 11, f.EndLine)
	assert.Equal(t, "ERROR", f.Severity)
	assert.Equal(t, "cursor.execute(q)", f.Snippet)
	assert.Equal(t, "cursor.execute(q, params)", f.Fix)
	assert.Equal(t, []string{"CWE-89"}, f.CWE)
	require.NotNil(t, f.CVSS)
	assert.InDelta(t, 8.1, *f.CVSS, 1e-9)
}

func TestParseFindings_EmptySemgrepResults(t *testing.T) {
	got, err := ParseFindings([]byte(`{"results": [], "errors": []}`))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestParseFindings_SARIF(t *testing.T) {
	payload := []byte(`{
	  "version": "2.1.0",
	  "runs": [{
	    "tool": {"driver": {"name": "semgrep", "rules": [
	      {"id": "eval-detected", "properties": {"security-severity": "6.5", "cwe": ["CWE-95: Eval Injection"]}}
	    ]}},
	    "results": [
	      {
	        "ruleId": "eval-detected",
	        "level": "warning",
	        "message": {"text": "Detected eval()"},
	        "locations": [{"physicalLocation": {
	          "artifactLocation": {"uri": "input.py"},
	          "region": {"startLine": 2, "snippet": {"text": "eval(x)"}}
	        }}]
	      },
	      {
	        "ruleId": "hardcoded-password",
	        "level": "error",
	        "message": {"text": "Hardcoded password"},
	        "properties": {"severity": "CRITICAL", "security-severity": 9.1}
	      }
	    ]
	  }]
	}`)

	got, err := ParseFindings(payload)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "warning", got[0].Severity)
	assert.Equal(t, 2, got[0].StartLine)
	assert.Equal(t, 2, got[0].EndLine)
	assert.Equal(t, "eval(x)", got[0].Snippet)
	assert.Equal(t, []string{"CWE-95"}, got[0].CWE)
	require.NotNil(t, got[0].CVSS)
	assert.InDelta(t, 6.5, *got[0].CVSS, 1e-9)

	assert.Equal(t, "critical", got[1].Severity)
	require.NotNil(t, got[1].CVSS)
	assert.InDelta(t, 9.1, *got[1].CVSS, 1e-9)
}

func TestParseFindings_Unknown(t *testing.T) {
	for _, payload := range []string{`not json`, `{"foo": 1}`, `[]`} {
		_, err := ParseFindings([]byte(payload))
		assert.ErrorIs(t, err, ErrUnknownPayload, payload)
	}
}

func TestToScoreRejectsOutOfRange(t *testing.T) {
	assert.Nil(t, toScore("11"))
	assert.Nil(t, toScore(-1.0))
	assert.Nil(t, toScore(true))
}

func TestLauncherArgv(t *testing.T) {
	local := NewLauncher(LaunchConfig{Command: "uvx", Args: []string{"semgrep-mcp"}}, zap.NewNop())
	name, args := local.argv()
	assert.Equal(t, "uvx", name)
	assert.Equal(t, []string{"semgrep-mcp"}, args)

	docker := NewLauncher(LaunchConfig{
		Runtime: RuntimeDocker,
		Image:   "ghcr.io/semgrep/mcp:latest",
		Args:    []string{"-t", "stdio"},
		Env:     map[string]string{"SEMGREP_APP_TOKEN": "tok", "EMPTY": "", "A_FIRST": "1"},
	}, zap.NewNop())
	name, args = docker.argv()
	assert.Equal(t, "docker", name)
	assert.Equal(t, []string{
		"run", "-i", "--rm",
		"-e", "A_FIRST",
		"-e", "SEMGREP_APP_TOKEN",
		"ghcr.io/semgrep/mcp:latest", "-t", "stdio",
	}, args)
}
