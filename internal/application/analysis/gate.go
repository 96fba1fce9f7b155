package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	domain "github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

// GateConfig fixes what the single tool invocation of a request looks like.
type GateConfig struct {
	Capability string
	Ruleset    string
	// FileName is the virtual file name the submitted code is scanned as.
	FileName string
	Timeout  time.Duration
}

// ToolOutcome is what the gate remembers about the request's tool usage.
type ToolOutcome struct {
	Attempted bool
	Findings  []domain.ToolFinding
	Raw       []byte
	Err       error
}

// Gate enforces at most one tool invocation per request. Arguments supplied by
// the caller are never forwarded: the tool always scans the request's own code
// with the fixed ruleset.
type Gate struct {
	session  domain.ToolSession
	startErr error
	cfg      GateConfig
	code     string
	logger   *zap.Logger

	mu      sync.Mutex
	used    bool
	outcome ToolOutcome
}

// NewGate builds the gate for one request. session may be nil when the tool
// server failed to start, in which case startErr is what the first call reports.
func NewGate(session domain.ToolSession, startErr error, cfg GateConfig, code string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if session == nil && startErr == nil {
		startErr = fmt.Errorf("%w: no tool session", domain.ErrToolStartup)
	}
	return &Gate{session: session, startErr: startErr, cfg: cfg, code: code, logger: logger}
}

// TryInvoke forwards the first call for the configured capability and denies
// every other call without touching the tool server.
func (g *Gate) TryInvoke(ctx context.Context, capability string, args map[string]any) ([]domain.ToolFinding, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if capability != g.cfg.Capability {
		gateDenialsTotal.Inc()
		return nil, fmt.Errorf("%w: unknown capability %q", domain.ErrToolDenied, capability)
	}
	if g.used {
		gateDenialsTotal.Inc()
		g.logger.Info("tool invocation denied, already used for this request", zap.String("capability", capability))
		return nil, fmt.Errorf("%w: %s may be used once per request", domain.ErrToolDenied, capability)
	}
	g.used = true

	if len(args) > 0 {
		g.logger.Debug("ignoring caller supplied tool arguments", zap.Strings("keys", argKeys(args)))
	}

	if g.session == nil {
		toolInvocationsTotal.WithLabelValues("startup").Inc()
		g.outcome = ToolOutcome{Attempted: true, Err: g.startErr}
		return nil, g.startErr
	}

	res, err := g.session.Invoke(ctx, capability, g.fixedArgs(), g.cfg.Timeout)
	if err != nil {
		toolInvocationsTotal.WithLabelValues(resultLabel(err)).Inc()
		g.outcome = ToolOutcome{Attempted: true, Err: err}
		return nil, err
	}

	findings := domain.FillSnippets(res.Findings, g.code)
	toolInvocationsTotal.WithLabelValues("ok").Inc()
	g.outcome = ToolOutcome{Attempted: true, Findings: findings, Raw: res.Raw}
	return findings, nil
}

// Used reports whether the one invocation has been spent.
func (g *Gate) Used() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

func (g *Gate) Outcome() ToolOutcome {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outcome
}

func (g *Gate) fixedArgs() map[string]any {
	return map[string]any{
		"code_files": []map[string]string{{
			"filename": g.cfg.FileName,
			"content":  g.code,
		}},
		"config": g.cfg.Ruleset,
	}
}

func argKeys(args map[string]any) []string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrToolTimeout):
		return "timeout"
	case errors.Is(err, domain.ErrToolStartup):
		return "startup"
	case errors.Is(err, domain.ErrToolProtocol):
		return "protocol"
	default:
		return "aborted"
	}
}
