package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/ai"
)

func newTestServer(t *testing.T, status int, body string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		if captured != nil {
			require.NoError(t, json.Unmarshal(b, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientChat_ToolCalls(t *testing.T) {
	var sent map[string]any
	srv := newTestServer(t, http.StatusOK, `{
	  "id": "chatcmpl-1",
	  "object": "chat.completion",
	  "choices": [{
	    "index": 0,
	    "finish_reason": "tool_calls",
	    "message": {
	      "role": "assistant",
	      "content": "",
	      "tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "semgrep_scan", "arguments": "{}"}}]
	    }
	  }]
	}`, &sent)

	c := NewClient("test-key", "", srv.URL+"/v1")
	reply, err := c.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{
			{Role: ai.RoleSystem, Content: "sys"},
			{Role: ai.RoleUser, Content: "code"},
		},
		Tools: []ai.ToolSpec{{Name: "semgrep_scan", Description: "scan", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)
	require.Len(t, reply.ToolCalls, 1)
	assert.Equal(t, "call_1", reply.ToolCalls[0].ID)
	assert.Equal(t, "semgrep_scan", reply.ToolCalls[0].Name)
	assert.Equal(t, "tool_calls", reply.FinishReason)

	assert.Equal(t, "gpt-4.1-mini", sent["model"])
	assert.EqualValues(t, maxTokens, sent["max_tokens"])
	assert.NotContains(t, sent, "tool_choice")
	tools := sent["tools"].([]any)
	require.Len(t, tools, 1)
	format := sent["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
}

func TestClientChat_FinalTurnDisablesTools(t *testing.T) {
	var sent map[string]any
	srv := newTestServer(t, http.StatusOK, `{"choices":[{"finish_reason":"stop","message":{"role":"assistant","content":"{\"summary\":\"ok\",\"issues\":[]}"}}]}`, &sent)

	c := NewClient("test-key", "o3-mini", srv.URL+"/v1")
	reply, err := c.Chat(context.Background(), ai.ChatRequest{
		Messages: []ai.Message{
			{Role: ai.RoleAssistant, ToolCalls: []ai.ToolCall{{ID: "call_1", Name: "semgrep_scan", Arguments: "{}"}}},
			{Role: ai.RoleTool, ToolCallID: "call_1", Content: `{"status":"ok"}`},
		},
		Tools: []ai.ToolSpec{{Name: "semgrep_scan"}},
		Final: true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"summary":"ok","issues":[]}`, reply.Content)

	assert.Equal(t, "none", sent["tool_choice"])
	assert.EqualValues(t, maxTokens, sent["max_completion_tokens"])
	assert.NotContains(t, sent, "max_tokens")

	msgs := sent["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "call_1", msgs[1].(map[string]any)["tool_call_id"])
}

func TestClientChat_QuotaError(t *testing.T) {
	srv := newTestServer(t, http.StatusTooManyRequests, `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`, nil)

	c := NewClient("test-key", "gpt-4.1-mini", srv.URL+"/v1")
	_, err := c.Chat(context.Background(), ai.ChatRequest{Messages: []ai.Message{{Role: ai.RoleUser, Content: "x"}}})
	require.ErrorIs(t, err, ai.ErrQuotaExceeded)
}

func TestClientChat_ServerError(t *testing.T) {
	srv := newTestServer(t, http.StatusInternalServerError, `{"error":{"message":"boom","type":"server_error"}}`, nil)

	c := NewClient("test-key", "gpt-4.1-mini", srv.URL+"/v1")
	_, err := c.Chat(context.Background(), ai.ChatRequest{Messages: []ai.Message{{Role: ai.RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ai.ErrQuotaExceeded)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o4-mini"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4.1-mini"))
}
