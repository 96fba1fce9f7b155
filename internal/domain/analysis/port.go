package analysis

import (
	"context"
	"time"
)

// ToolResult is what one invocation of the static-analysis capability yields.
type ToolResult struct {
	Findings []ToolFinding
	Raw      []byte
}

// ToolSession port: one tool server process owned by one request.
type ToolSession interface {
	Invoke(ctx context.Context, capability string, args map[string]any, timeout time.Duration) (ToolResult, error)
	Close() error
}

// ToolLauncher port: starts a new ToolSession for a request.
type ToolLauncher interface {
	Open(ctx context.Context) (ToolSession, error)
}

// RunRepository port (optional) untuk audit metadata run. Reports are never stored.
type RunRepository interface {
	Save(ctx context.Context, r *RunRecord) error
}

// PayloadArchive port (optional) for keeping the raw tool payload of a run.
type PayloadArchive interface {
	Put(ctx context.Context, key string, payload []byte, contentType string) (string, error)
}
