package ai

import "context"

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a tool-call directive emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Message is one entry of a conversation.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ToolSpec describes a function the model may call. Parameters is a JSON schema.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  any
}

// ChatRequest is one model turn.
type ChatRequest struct {
	Messages []Message
	Tools    []ToolSpec
	// Final disables tool use for this turn (Tools stay declared but may not be
	// called); the model must answer with the report.
	Final bool
}

// Reply is the model's answer for one turn.
type Reply struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// ChatModel port untuk generative model provider.
type ChatModel interface {
	Chat(ctx context.Context, req ChatRequest) (Reply, error)
}
