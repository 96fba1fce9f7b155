package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-codesec/internal/domain/ai"
	"github.com/bryanwahyu/automaton-codesec/internal/infra/ai/prompt"
)

const evalCode = "x = input(); eval(x)"

type turnFunc func(ai.ChatRequest) (ai.Reply, error)

// scriptedModel answers each turn with the next scripted function.
type scriptedModel struct {
	mu       sync.Mutex
	turns    []turnFunc
	requests []ai.ChatRequest
}

func newScriptedModel(turns ...turnFunc) *scriptedModel {
	return &scriptedModel{turns: turns}
}

func (m *scriptedModel) Chat(_ context.Context, req ai.ChatRequest) (ai.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	i := len(m.requests) - 1
	if i >= len(m.turns) {
		return ai.Reply{}, errors.New("unexpected model turn")
	}
	return m.turns[i](req)
}

func (m *scriptedModel) calls() []ai.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ai.ChatRequest(nil), m.requests...)
}

func answer(content string) turnFunc {
	return func(ai.ChatRequest) (ai.Reply, error) {
		return ai.Reply{Content: content, FinishReason: "stop"}, nil
	}
}

func callTool(ids ...string) turnFunc {
	return func(ai.ChatRequest) (ai.Reply, error) {
		r := ai.Reply{FinishReason: "tool_calls"}
		for _, id := range ids {
			r.ToolCalls = append(r.ToolCalls, ai.ToolCall{ID: id, Name: "semgrep_scan", Arguments: `{"reason":"baseline"}`})
		}
		return r, nil
	}
}

func failWith(err error) turnFunc {
	return func(ai.ChatRequest) (ai.Reply, error) { return ai.Reply{}, err }
}

type fakeSession struct {
	mu      sync.Mutex
	result  domain.ToolResult
	err     error
	invokes int
	args    []map[string]any
	closes  int
}

func (s *fakeSession) Invoke(_ context.Context, _ string, args map[string]any, _ time.Duration) (domain.ToolResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokes++
	s.args = append(s.args, args)
	return s.result, s.err
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) invokeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invokes
}

type fakeLauncher struct {
	session *fakeSession
	err     error
	opens   int
}

func (l *fakeLauncher) Open(context.Context) (domain.ToolSession, error) {
	l.opens++
	if l.err != nil {
		return nil, l.err
	}
	return l.session, nil
}

func evalFinding() domain.ToolFinding {
	return domain.ToolFinding{
		RuleID:    "python.lang.security.audit.eval-detected.eval-detected",
		Message:   "Detected the use of eval(). eval() can be dangerous if used to evaluate dynamic content.",
		StartLine: 1,
		EndLine:   1,
		Severity:  "WARNING",
		CWE:       []string{"CWE-95"},
	}
}

func gateConfig() GateConfig {
	return GateConfig{Capability: "semgrep_scan", Ruleset: "auto", FileName: "input.py", Timeout: time.Second}
}

func researcher() prompt.Researcher {
	return prompt.NewResearcher("semgrep_scan")
}

type recordingRuns struct {
	mu   sync.Mutex
	runs []domain.RunRecord
}

func (r *recordingRuns) Save(_ context.Context, run *domain.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, *run)
	return nil
}

type recordingArchive struct {
	keys []string
	err  error
}

func (a *recordingArchive) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	a.keys = append(a.keys, key)
	if a.err != nil {
		return "", a.err
	}
	return "http://minio.local/codesec/" + key, nil
}
