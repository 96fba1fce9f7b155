package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-codesec/internal/application"
	domain "github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

const inputValidationReport = `{
  "summary": "The code evaluates raw user input.",
  "issues": [
    {
      "title": "Missing input validation",
      "description": "The value read from the user is never checked against an allow-list before use.",
      "code": "x = input()",
      "fix": "Validate the value against an expected format before using it.",
      "cvss_score": 5.3,
      "severity": "medium"
    }
  ]
}`

func newTestService(model *scriptedModel, launcher *fakeLauncher) *Service {
	return &Service{
		Launcher:  launcher,
		Loop:      NewLoop(model, researcher(), 8, zap.NewNop()),
		Validator: NewSchemaValidator(),
		Config: ServiceConfig{
			Model:      "gpt-4.1-mini",
			Gate:       gateConfig(),
			EnsureScan: true,
			Dedup:      domain.DefaultDedupPolicy(),
		},
		Logger: zap.NewNop(),
	}
}

func TestService_EvalScenario(t *testing.T) {
	session := &fakeSession{result: domain.ToolResult{
		Findings: []domain.ToolFinding{evalFinding()},
		Raw:      []byte(`{"results":[{}]}`),
	}}
	launcher := &fakeLauncher{session: session}
	model := newScriptedModel(callTool("call_1"), answer(inputValidationReport))
	runs := &recordingRuns{}
	archive := &recordingArchive{}

	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := newTestService(model, launcher)
	svc.Runs = runs
	svc.Archive = archive
	svc.Clock = &application.StepClock{At: start, Step: 1500 * time.Millisecond}

	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)

	require.Len(t, report.Issues, 2)
	assert.Equal(t, "Eval Detected", report.Issues[0].Title)
	assert.Equal(t, evalCode, report.Issues[0].Code)
	assert.Equal(t, "Missing input validation", report.Issues[1].Title)
	assert.Contains(t, report.Summary, "Analyzed 20 characters of code: 1 tool finding, 1 additional finding.")
	assert.Contains(t, report.Summary, "The code evaluates raw user input.")
	for _, is := range report.Issues {
		assert.GreaterOrEqual(t, is.CVSSScore, 0.0)
		assert.LessOrEqual(t, is.CVSSScore, 10.0)
		assert.Equal(t, domain.SeverityForScore(is.CVSSScore), is.Severity)
	}

	assert.Equal(t, 1, session.invokeCount())
	assert.Equal(t, 1, session.closes, "session closed once the loop is done")

	require.Len(t, runs.runs, 1)
	run := runs.runs[0]
	assert.Equal(t, domain.RunSucceeded, run.Status)
	assert.Equal(t, 20, run.InputSize)
	assert.Equal(t, 1, run.ToolFindings)
	assert.Equal(t, 1, run.ModelFindings)
	assert.Len(t, run.InputSHA256, 64)
	assert.Equal(t, start, run.StartedAt)
	assert.Equal(t, int64(1500), run.DurationMS)
	require.Len(t, archive.keys, 1)
	assert.Equal(t, "http://minio.local/codesec/"+archive.keys[0], run.ArtifactURL)
}

func TestService_EmptyInputRejectedBeforeAnyCall(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	model := newScriptedModel()
	svc := newTestService(model, launcher)

	for _, code := range []string{"", "   \n\t "} {
		_, err := svc.Analyze(context.Background(), domain.Request{Code: code})
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, err.Error(), "No code provided for analysis")
	}
	assert.Zero(t, launcher.opens)
	assert.Empty(t, model.calls())
}

func TestService_MissingCredentials(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	svc := newTestService(newScriptedModel(), launcher)
	svc.Ready = func() error { return fmt.Errorf("%w: OpenAI API key not configured", domain.ErrConfiguration) }

	_, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Zero(t, launcher.opens)
}

func TestService_ToolStartupFailureDegrades(t *testing.T) {
	launcher := &fakeLauncher{err: fmt.Errorf("%w: exec: \"uvx\": executable file not found in $PATH", domain.ErrToolStartup)}
	model := newScriptedModel(callTool("call_1"), answer(inputValidationReport))
	runs := &recordingRuns{}
	svc := newTestService(model, launcher)
	svc.Runs = runs

	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	assert.Equal(t, "Missing input validation", report.Issues[0].Title)
	assert.Contains(t, report.Summary, "0 tool findings, 1 additional finding.")
	assert.Contains(t, report.Summary, "Degraded analysis: static analysis was unavailable (tool failed to start)")

	require.Len(t, runs.runs, 1)
	assert.Equal(t, domain.RunDegraded, runs.runs[0].Status)
}

func TestService_ToolStartupFailureDegradesWithoutCall(t *testing.T) {
	launcher := &fakeLauncher{err: fmt.Errorf("%w: exec: \"uvx\": executable file not found in $PATH", domain.ErrToolStartup)}
	model := newScriptedModel(answer(inputValidationReport))
	runs := &recordingRuns{}
	svc := newTestService(model, launcher)
	svc.Config.EnsureScan = false
	svc.Runs = runs

	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)

	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Summary, "0 tool findings, 1 additional finding.")
	assert.Contains(t, report.Summary, "Degraded analysis: static analysis was unavailable (tool failed to start)")

	require.Len(t, runs.runs, 1)
	assert.Equal(t, domain.RunDegraded, runs.runs[0].Status)
	assert.Equal(t, "tool failed to start", runs.runs[0].DegradedReason)
}

func TestService_ToolConfigurationErrorIsFatal(t *testing.T) {
	launcher := &fakeLauncher{err: fmt.Errorf("%w: tool command is empty", domain.ErrConfiguration)}
	model := newScriptedModel(answer(inputValidationReport))
	runs := &recordingRuns{}
	svc := newTestService(model, launcher)
	svc.Runs = runs

	_, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Empty(t, model.calls())
	require.Len(t, runs.runs, 1)
	assert.Equal(t, domain.RunFailed, runs.runs[0].Status)
}

func TestService_ToolTimeoutDegrades(t *testing.T) {
	session := &fakeSession{err: fmt.Errorf("%w: no answer", domain.ErrToolTimeout)}
	model := newScriptedModel(callTool("call_1"), answer(inputValidationReport))
	svc := newTestService(model, &fakeLauncher{session: session})

	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)
	assert.Contains(t, report.Summary, "(tool timed out)")
	assert.Equal(t, 1, session.invokeCount())
}

func TestService_EnsureScanWhenModelSkipsTool(t *testing.T) {
	session := &fakeSession{result: domain.ToolResult{Findings: []domain.ToolFinding{evalFinding()}}}
	model := newScriptedModel(answer(inputValidationReport))
	svc := newTestService(model, &fakeLauncher{session: session})

	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)
	assert.Equal(t, 1, session.invokeCount())
	assert.Len(t, report.Issues, 2)

	session = &fakeSession{result: domain.ToolResult{Findings: []domain.ToolFinding{evalFinding()}}}
	svc = newTestService(newScriptedModel(answer(inputValidationReport)), &fakeLauncher{session: session})
	svc.Config.EnsureScan = false
	report, err = svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)
	assert.Zero(t, session.invokeCount())
	assert.Len(t, report.Issues, 1)
}

func TestService_AtMostOneInvocation(t *testing.T) {
	session := &fakeSession{result: domain.ToolResult{Findings: []domain.ToolFinding{evalFinding()}}}
	model := newScriptedModel(callTool("a", "b"), callTool("c"), callTool("d"), answer(inputValidationReport))
	svc := newTestService(model, &fakeLauncher{session: session})

	_, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)
	assert.Equal(t, 1, session.invokeCount())
}

func TestService_ModelErrorIsFatal(t *testing.T) {
	session := &fakeSession{}
	runs := &recordingRuns{}
	svc := newTestService(newScriptedModel(failWith(errors.New("503 service unavailable"))), &fakeLauncher{session: session})
	svc.Runs = runs

	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Empty(t, report.Issues)
	assert.Empty(t, report.Summary)
	assert.Equal(t, 1, session.closes, "session closed on the error path")
	require.Len(t, runs.runs, 1)
	assert.Equal(t, domain.RunFailed, runs.runs[0].Status)
}

func TestService_OneRevisionAfterSchemaViolation(t *testing.T) {
	bad := `{"summary":"s","issues":[{"title":"t","description":"d","code":"c","fix":"f","cvss_score":11.0,"severity":"critical"}]}`

	model := newScriptedModel(answer(bad), answer(inputValidationReport))
	svc := newTestService(model, &fakeLauncher{session: &fakeSession{}})
	report, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)
	assert.Len(t, report.Issues, 1)
	assert.Len(t, model.calls(), 2)

	model = newScriptedModel(answer(bad), answer(bad))
	svc = newTestService(model, &fakeLauncher{session: &fakeSession{}})
	_, err = svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.ErrorIs(t, err, domain.ErrMalformedOutput)
	assert.Len(t, model.calls(), 2, "only one revision is requested")
}

func TestService_ArchiveFailureDoesNotFailRequest(t *testing.T) {
	session := &fakeSession{result: domain.ToolResult{Raw: []byte(`{"results":[]}`)}}
	svc := newTestService(newScriptedModel(callTool("a"), answer(inputValidationReport)), &fakeLauncher{session: session})
	svc.Archive = &recordingArchive{err: errors.New("minio down")}

	_, err := svc.Analyze(context.Background(), domain.Request{Code: evalCode})
	require.NoError(t, err)
}
