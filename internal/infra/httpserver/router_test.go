package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-codesec/internal/middleware"
)

type stubAnalyzer struct {
	report analysis.SecurityReport
	err    error
	calls  int
	got    analysis.Request
}

func (s *stubAnalyzer) Analyze(_ context.Context, req analysis.Request) (analysis.SecurityReport, error) {
	s.calls++
	s.got = req
	return s.report, s.err
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeDetail(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Detail
}

func TestAnalyze_ReturnsReport(t *testing.T) {
	svc := &stubAnalyzer{report: analysis.SecurityReport{
		Summary: "Analyzed 20 characters of code: 1 tool finding, 0 additional findings.",
		Issues: []analysis.SecurityIssue{{
			Title: "Eval Detected", Description: "d", Code: "eval(x)", Fix: "f", CVSSScore: 5, Severity: analysis.SeverityMedium,
		}},
	}}
	h := NewRouter(svc, Options{})

	rec := do(t, h, http.MethodPost, "/api/analyze", `{"code":"x = input(); eval(x)\r\n"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got analysis.SecurityReport
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, svc.report, got)
	assert.Equal(t, "x = input(); eval(x)\n", svc.got.Code)
}

func TestAnalyze_EmptyCode(t *testing.T) {
	svc := &stubAnalyzer{}
	h := NewRouter(svc, Options{})

	rec := do(t, h, http.MethodPost, "/api/analyze", `{"code":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No code provided for analysis", decodeDetail(t, rec))
	assert.Zero(t, svc.calls)
}

func TestAnalyze_BadBody(t *testing.T) {
	h := NewRouter(&stubAnalyzer{}, Options{})
	rec := do(t, h, http.MethodPost, "/api/analyze", `{"code":`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAnalyze_TooLarge(t *testing.T) {
	h := NewRouter(&stubAnalyzer{}, Options{MaxCodeBytes: 16})
	rec := do(t, h, http.MethodPost, "/api/analyze", `{"code":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/analyze", `{"code":"`+strings.Repeat("a", 20)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{fmt.Errorf("%w: OpenAI API key not configured", analysis.ErrConfiguration), http.StatusInternalServerError, "OpenAI API key not configured"},
		{fmt.Errorf("%w: connection refused", analysis.ErrModelUnavailable), http.StatusInternalServerError, "Analysis failed: model provider unavailable: connection refused"},
		{errors.New("boom"), http.StatusInternalServerError, "Analysis failed: boom"},
	}
	for _, tc := range cases {
		h := NewRouter(&stubAnalyzer{err: tc.err}, Options{})
		rec := do(t, h, http.MethodPost, "/api/analyze", `{"code":"eval(x)"}`)
		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, tc.detail, decodeDetail(t, rec))
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := NewRouter(&stubAnalyzer{}, Options{Readiness: map[string]middleware.HealthChecker{
		"tool": middleware.CheckerFunc(func(context.Context) error { return nil }),
	}})

	rec := do(t, h, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Cybersecurity Analyzer API"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "").Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codesec_http_requests_total")
}

func TestCORS(t *testing.T) {
	h := NewRouter(&stubAnalyzer{}, Options{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/analyze", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>analyzer</h1>"), 0o600))

	h := NewRouter(&stubAnalyzer{}, Options{StaticDir: dir})
	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "analyzer")

	// API routes still win over the file server
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/health", "").Code)
}
