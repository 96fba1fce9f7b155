package mcpstdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

const (
	defaultStartupTimeout = 60 * time.Second
	defaultCloseGrace     = 2 * time.Second
	defaultCallTimeout    = 120 * time.Second
	stderrTailSize        = 8 << 10
)

// Command describes the tool server process to start.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Options tune one session.
type Options struct {
	// AllowedTools is the allow-list of capabilities exposed to callers.
	AllowedTools   []string
	StartupTimeout time.Duration
	CloseGrace     time.Duration
	ClientName     string
	ClientVersion  string
}

func (o Options) withDefaults() Options {
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = defaultStartupTimeout
	}
	if o.CloseGrace <= 0 {
		o.CloseGrace = defaultCloseGrace
	}
	if o.ClientName == "" {
		o.ClientName = "automaton-codesec"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	return o
}

type callResult struct {
	msg rpcMessage
	err error
}

// Session is one MCP tool server process speaking newline-delimited JSON-RPC
// over stdin/stdout. It is owned by a single request and never shared.
type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	logger *zap.Logger
	cancel context.CancelFunc

	allowed map[string]bool
	offered map[string]bool

	nextID  atomic.Int64
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[int64]chan callResult

	readDone chan struct{}
	exited   chan struct{}
	waitErr  error

	closed     atomic.Bool
	closeOnce  sync.Once
	closeGrace time.Duration
	closeErr   error
}

// Open starts the process and negotiates capabilities. The process is bound to
// ctx: cancelling the request kills it. Any failure is an ErrToolStartup.
func Open(ctx context.Context, c Command, opts Options, logger *zap.Logger) (*Session, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	procCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(procCtx, c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	// bounds how long Wait keeps draining pipes held open by grandchildren
	cmd.WaitDelay = opts.CloseGrace

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: stdin pipe: %w", analysis.ErrToolStartup, err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: start %s: %w", analysis.ErrToolStartup, c.Path, err)
	}

	s := &Session{
		cmd:        cmd,
		stdin:      stdin,
		stderr:     stderr,
		logger:     logger.With(zap.Int("pid", cmd.Process.Pid)),
		cancel:     cancel,
		allowed:    make(map[string]bool, len(opts.AllowedTools)),
		offered:    map[string]bool{},
		pending:    map[int64]chan callResult{},
		readDone:   make(chan struct{}),
		exited:     make(chan struct{}),
		closeGrace: opts.CloseGrace,
	}
	for _, name := range opts.AllowedTools {
		s.allowed[name] = true
	}

	go s.wait(pw)
	go s.readLoop(pr)

	hctx, hcancel := context.WithTimeout(ctx, opts.StartupTimeout)
	defer hcancel()
	if err := s.handshake(hctx, opts); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("%w: %w%s", analysis.ErrToolStartup, err, s.stderrTail())
	}

	s.logger.Debug("tool server ready", zap.Strings("capabilities", s.Capabilities()))
	return s, nil
}

// Capabilities returns the negotiated allow-listed tools, sorted.
func (s *Session) Capabilities() []string {
	out := make([]string, 0, len(s.offered))
	for name := range s.offered {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Session) handshake(ctx context.Context, opts Options) error {
	raw, err := s.call(ctx, methodInitialize, initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: opts.ClientName, Version: opts.ClientVersion},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(raw, &init); err != nil {
		return fmt.Errorf("%w: initialize result: %w", analysis.ErrToolProtocol, err)
	}
	if init.Capabilities.Tools == nil {
		return fmt.Errorf("%w: server %q does not expose tools", analysis.ErrToolProtocol, init.ServerInfo.Name)
	}
	if err := s.notify(methodInitialized); err != nil {
		return fmt.Errorf("%w: initialized notification: %w", analysis.ErrToolProtocol, err)
	}

	raw, err = s.call(ctx, methodToolsList, nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var list toolsListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("%w: tools/list result: %w", analysis.ErrToolProtocol, err)
	}
	for _, t := range list.Tools {
		if s.allowed[t.Name] {
			s.offered[t.Name] = true
		}
	}
	for name := range s.allowed {
		if !s.offered[name] {
			return fmt.Errorf("capability %q not offered by server %q", name, init.ServerInfo.Name)
		}
	}
	return nil
}

// Invoke sends exactly one tools/call frame and blocks until the response arrives
// or timeout elapses. On timeout or cancellation the session is torn down.
func (s *Session) Invoke(ctx context.Context, capability string, args map[string]any, timeout time.Duration) (analysis.ToolResult, error) {
	if !s.offered[capability] {
		return analysis.ToolResult{}, fmt.Errorf("%w: capability %q is not in the allow-list", analysis.ErrToolDenied, capability)
	}
	if s.closed.Load() {
		return analysis.ToolResult{}, fmt.Errorf("%w: session already closed", analysis.ErrToolProtocol)
	}
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	raw, err := s.call(callCtx, methodToolsCall, callToolParams{Name: capability, Arguments: args})
	if err != nil {
		switch {
		case ctx.Err() != nil:
			_ = s.Close()
			return analysis.ToolResult{}, fmt.Errorf("tool call aborted: %w", ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			_ = s.Close()
			return analysis.ToolResult{}, fmt.Errorf("%w: %s did not answer within %s", analysis.ErrToolTimeout, capability, timeout)
		}
		return analysis.ToolResult{}, err
	}

	var res callToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return analysis.ToolResult{}, fmt.Errorf("%w: tools/call result: %w", analysis.ErrToolProtocol, err)
	}
	payload := res.payload()
	if res.IsError {
		return analysis.ToolResult{}, fmt.Errorf("%w: %s reported an error: %s", analysis.ErrToolProtocol, capability, truncate(string(payload), 300))
	}

	findings, err := ParseFindings(payload)
	if err != nil {
		return analysis.ToolResult{}, fmt.Errorf("%w: %w", analysis.ErrToolProtocol, err)
	}
	s.logger.Info("tool call completed",
		zap.String("capability", capability),
		zap.Int("findings", len(findings)),
		zap.Duration("duration", time.Since(start)),
	)
	return analysis.ToolResult{Findings: findings, Raw: payload}, nil
}

// Close terminates the process and releases the transport. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		_ = s.stdin.Close()

		timer := time.NewTimer(s.closeGrace)
		defer timer.Stop()
		killed := false
		select {
		case <-s.exited:
		case <-timer.C:
			s.logger.Warn("tool server ignored stdin close, killing it")
			killed = true
			s.cancel()
			<-s.exited
		}
		s.cancel()
		<-s.readDone

		if s.waitErr != nil && !killed {
			var exitErr *exec.ExitError
			if errors.As(s.waitErr, &exitErr) && exitErr.ExitCode() > 0 {
				s.closeErr = fmt.Errorf("tool server exited with code %d%s", exitErr.ExitCode(), s.stderrTail())
			}
		}
		s.logger.Debug("tool server stopped", zap.Bool("killed", killed))
	})
	return s.closeErr
}

func (s *Session) wait(pw *io.PipeWriter) {
	s.waitErr = s.cmd.Wait()
	_ = pw.Close()
	close(s.exited)
}

func (s *Session) readLoop(r io.Reader) {
	defer close(s.readDone)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxFrameSize)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var msg rpcMessage
		if err := json.Unmarshal(line, &msg); err != nil || msg.JSONRPC != jsonrpcVersion {
			s.failPending(fmt.Errorf("%w: malformed frame: %s", analysis.ErrToolProtocol, truncate(string(line), 200)))
			continue
		}
		switch {
		case msg.isResponse():
			s.deliver(msg)
		case msg.isRequest():
			s.answer(msg)
		default:
			s.logger.Debug("tool notification", zap.String("method", msg.Method))
		}
	}
	if err := sc.Err(); err != nil {
		s.failPending(fmt.Errorf("%w: read: %w", analysis.ErrToolProtocol, err))
		return
	}
	s.failPending(fmt.Errorf("%w: tool server closed its output%s", analysis.ErrToolProtocol, s.stderrTail()))
}

func (s *Session) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := make(chan callResult, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.send(rpcRequest{JSONRPC: jsonrpcVersion, ID: &id, Method: method, Params: params}); err != nil {
		s.forget(id)
		return nil, fmt.Errorf("%w: write %s: %w", analysis.ErrToolProtocol, method, err)
	}

	select {
	case res := <-ch:
		return unwrap(method, res)
	case <-s.readDone:
		s.forget(id)
		select {
		case res := <-ch:
			return unwrap(method, res)
		default:
		}
		return nil, fmt.Errorf("%w: tool server exited during %s%s", analysis.ErrToolProtocol, method, s.stderrTail())
	case <-ctx.Done():
		s.forget(id)
		return nil, ctx.Err()
	}
}

func unwrap(method string, res callResult) (json.RawMessage, error) {
	if res.err != nil {
		return nil, res.err
	}
	if res.msg.Error != nil {
		return nil, fmt.Errorf("%w: %s: %w", analysis.ErrToolProtocol, method, res.msg.Error)
	}
	return res.msg.Result, nil
}

func (s *Session) notify(method string) error {
	return s.send(rpcRequest{JSONRPC: jsonrpcVersion, Method: method})
}

func (s *Session) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.stdin.Write(b)
	return err
}

// answer handles server-to-client requests. Only ping is supported.
func (s *Session) answer(msg rpcMessage) {
	resp := rpcResponse{JSONRPC: jsonrpcVersion, ID: msg.ID}
	if msg.Method == methodPing {
		resp.Result = map[string]any{}
	} else {
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: "method not supported by client: " + msg.Method}
	}
	if err := s.send(resp); err != nil {
		s.logger.Debug("failed to answer tool server request", zap.String("method", msg.Method), zap.Error(err))
	}
}

func (s *Session) deliver(msg rpcMessage) {
	id, ok := msg.numericID()
	if !ok {
		s.failPending(fmt.Errorf("%w: response with unexpected id %s", analysis.ErrToolProtocol, string(msg.ID)))
		return
	}
	s.mu.Lock()
	ch := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if ch == nil {
		s.logger.Debug("dropping response for unknown request", zap.Int64("id", id))
		return
	}
	ch <- callResult{msg: msg}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		ch <- callResult{err: err}
		delete(s.pending, id)
	}
}

func (s *Session) forget(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

func (s *Session) stderrTail() string {
	tail := strings.TrimSpace(s.stderr.String())
	if tail == "" {
		return ""
	}
	return "; stderr: " + truncate(tail, 500)
}

// payload prefers structured content and falls back to the concatenated text parts.
func (r callToolResult) payload() []byte {
	if len(r.StructuredContent) > 0 && string(r.StructuredContent) != "null" {
		return r.StructuredContent
	}
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return []byte(b.String())
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
