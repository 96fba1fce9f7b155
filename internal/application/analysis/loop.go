package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-codesec/internal/domain/ai"
)

const defaultMaxTurns = 8

// ToolInvoker is the loop's view of the per-request gate.
type ToolInvoker interface {
	TryInvoke(ctx context.Context, capability string, args map[string]any) ([]domain.ToolFinding, error)
}

// Prompter builds the agent messages.
type Prompter interface {
	System() string
	User(code string) string
	Revision(violation string) string
	Tool() ai.ToolSpec
}

type LoopState int

const (
	StateStart LoopState = iota
	StateReasoning
	StateToolResult
	StateFinalizing
	StateDone
)

func (s LoopState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateReasoning:
		return "reasoning"
	case StateToolResult:
		return "tool_result"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Conversation is the state of one reasoning run. It is owned by one request.
type Conversation struct {
	messages []ai.Message
	pending  []ai.ToolCall
	state    LoopState
	turns    int
	output   string
	toolErr  error
}

// Output is the model's final answer.
func (c *Conversation) Output() string { return c.output }

// Turns is the number of model calls made so far.
func (c *Conversation) Turns() int { return c.turns }

// ToolErr is the tool-side failure reported to the model, if any.
func (c *Conversation) ToolErr() error { return c.toolErr }

// Loop drives the model through bounded tool-calling turns until it emits the
// final report. The last allowed turn is always a forced finalization.
type Loop struct {
	model    ai.ChatModel
	prompts  Prompter
	maxTurns int
	logger   *zap.Logger
}

func NewLoop(model ai.ChatModel, prompts Prompter, maxTurns int, logger *zap.Logger) *Loop {
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{model: model, prompts: prompts, maxTurns: maxTurns, logger: logger}
}

// Run reasons over code until the model produces its final output.
func (l *Loop) Run(ctx context.Context, code string, tools ToolInvoker) (*Conversation, error) {
	conv := &Conversation{
		messages: []ai.Message{
			{Role: ai.RoleSystem, Content: l.prompts.System()},
			{Role: ai.RoleUser, Content: l.prompts.User(code)},
		},
		state: StateStart,
	}

	for conv.state != StateDone {
		var err error
		switch conv.state {
		case StateStart:
			conv.state = l.next(conv)
		case StateReasoning:
			err = l.reason(ctx, conv)
		case StateToolResult:
			l.answerToolCalls(ctx, conv, tools)
			conv.state = l.next(conv)
		case StateFinalizing:
			err = l.finalize(ctx, conv)
		}
		if err != nil {
			return conv, err
		}
	}
	l.logger.Debug("reasoning finished", zap.Int("turns", conv.turns))
	return conv, nil
}

// Revise continues conv after its output was rejected, asking the model for a
// corrected report. Tool calls stay disabled.
func (l *Loop) Revise(ctx context.Context, conv *Conversation, violation string) (string, error) {
	conv.messages = append(conv.messages, ai.Message{Role: ai.RoleUser, Content: l.prompts.Revision(violation)})
	reply, err := l.chat(ctx, conv, true)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply.Content) == "" {
		return "", fmt.Errorf("%w: empty revision", domain.ErrMalformedOutput)
	}
	conv.messages = append(conv.messages, ai.Message{Role: ai.RoleAssistant, Content: reply.Content})
	conv.output = reply.Content
	return reply.Content, nil
}

// next picks Reasoning while turns remain and Finalizing for the last one.
func (l *Loop) next(conv *Conversation) LoopState {
	if conv.turns >= l.maxTurns-1 {
		return StateFinalizing
	}
	return StateReasoning
}

func (l *Loop) reason(ctx context.Context, conv *Conversation) error {
	reply, err := l.chat(ctx, conv, false)
	if err != nil {
		return err
	}
	conv.messages = append(conv.messages, ai.Message{Role: ai.RoleAssistant, Content: reply.Content, ToolCalls: reply.ToolCalls})
	if len(reply.ToolCalls) > 0 {
		conv.pending = reply.ToolCalls
		conv.state = StateToolResult
		return nil
	}
	if strings.TrimSpace(reply.Content) == "" {
		// nothing to act on, push the model to finish
		conv.state = l.next(conv)
		return nil
	}
	conv.output = reply.Content
	conv.state = StateDone
	return nil
}

func (l *Loop) finalize(ctx context.Context, conv *Conversation) error {
	reply, err := l.chat(ctx, conv, true)
	if err != nil {
		return err
	}
	if len(reply.ToolCalls) > 0 || strings.TrimSpace(reply.Content) == "" {
		return fmt.Errorf("%w: no final report after %d turns", domain.ErrReasoningTimeout, conv.turns)
	}
	conv.messages = append(conv.messages, ai.Message{Role: ai.RoleAssistant, Content: reply.Content})
	conv.output = reply.Content
	conv.state = StateDone
	return nil
}

func (l *Loop) chat(ctx context.Context, conv *Conversation, final bool) (ai.Reply, error) {
	// the tool stays declared on final turns since earlier messages reference it;
	// Final makes the provider refuse new calls
	req := ai.ChatRequest{
		Messages: append([]ai.Message(nil), conv.messages...),
		Tools:    []ai.ToolSpec{l.prompts.Tool()},
		Final:    final,
	}
	reply, err := l.model.Chat(ctx, req)
	conv.turns++
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return ai.Reply{}, fmt.Errorf("%w: %w", domain.ErrReasoningTimeout, ctx.Err())
		case ctx.Err() != nil:
			return ai.Reply{}, ctx.Err()
		}
		return ai.Reply{}, fmt.Errorf("%w: %w", domain.ErrModelUnavailable, err)
	}
	l.logger.Debug("model turn",
		zap.Int("turn", conv.turns),
		zap.Bool("final", final),
		zap.Int("tool_calls", len(reply.ToolCalls)),
		zap.String("finish_reason", reply.FinishReason),
	)
	return reply, nil
}

// answerToolCalls gives every pending call a result message, as the chat
// protocol requires, including denied and failed ones.
func (l *Loop) answerToolCalls(ctx context.Context, conv *Conversation, tools ToolInvoker) {
	scan := l.prompts.Tool().Name
	for _, call := range conv.pending {
		var content string
		if call.Name != scan {
			content = toolMessage(map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)})
		} else {
			var args map[string]any
			if call.Arguments != "" {
				_ = json.Unmarshal([]byte(call.Arguments), &args)
			}
			findings, err := tools.TryInvoke(ctx, call.Name, args)
			switch {
			case err == nil:
				if findings == nil {
					findings = []domain.ToolFinding{}
				}
				content = toolMessage(map[string]any{"status": "ok", "findings": findings})
			case errors.Is(err, domain.ErrToolDenied):
				content = toolMessage(map[string]any{
					"status": "denied",
					"error":  "the scan already ran for this request; use its earlier results",
				})
			default:
				conv.toolErr = err
				l.logger.Warn("static analysis unavailable, continuing with model-only review", zap.Error(err))
				content = toolMessage(map[string]any{
					"status": "unavailable",
					"error":  "static analysis is unavailable for this request; continue with your own review",
				})
			}
		}
		conv.messages = append(conv.messages, ai.Message{Role: ai.RoleTool, Content: content, ToolCallID: call.ID})
	}
	conv.pending = nil
}

func toolMessage(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return `{"status":"unavailable"}`
	}
	return string(b)
}
