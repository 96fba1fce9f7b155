package mcpstdio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

type Runtime string

const (
	RuntimeLocal  Runtime = "local"
	RuntimeDocker Runtime = "docker"
)

// LaunchConfig says how to start the tool server.
type LaunchConfig struct {
	Runtime Runtime
	// Command and Args are used as-is for the local runtime; for docker, Args
	// are appended after the image.
	Command        string
	Args           []string
	Image          string
	Env            map[string]string
	AllowedTools   []string
	StartupTimeout time.Duration
	CloseGrace     time.Duration
}

// Launcher opens one fresh Session per analysis request.
type Launcher struct {
	cfg    LaunchConfig
	logger *zap.Logger
}

func NewLauncher(cfg LaunchConfig, logger *zap.Logger) *Launcher {
	if cfg.Runtime == "" {
		cfg.Runtime = RuntimeLocal
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{cfg: cfg, logger: logger.Named("mcp")}
}

func (l *Launcher) Open(ctx context.Context) (analysis.ToolSession, error) {
	c, err := l.command()
	if err != nil {
		return nil, err
	}
	s, err := Open(ctx, c, Options{
		AllowedTools:   l.cfg.AllowedTools,
		StartupTimeout: l.cfg.StartupTimeout,
		CloseGrace:     l.cfg.CloseGrace,
	}, l.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Check reports whether the executable needed to start the tool can be found.
// Used by the readiness probe.
func (l *Launcher) Check(_ context.Context) error {
	name, _ := l.argv()
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s not found on PATH", analysis.ErrToolStartup, name)
	}
	return nil
}

func (l *Launcher) command() (Command, error) {
	name, args := l.argv()
	if name == "" {
		return Command{}, fmt.Errorf("%w: tool command is empty", analysis.ErrConfiguration)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %s: %w", analysis.ErrToolStartup, name, err)
	}

	env := os.Environ()
	for _, k := range l.envKeys() {
		env = append(env, k+"="+l.cfg.Env[k])
	}
	return Command{Path: path, Args: args, Env: env}, nil
}

// argv builds the executable name and arguments for the configured runtime.
func (l *Launcher) argv() (string, []string) {
	switch l.cfg.Runtime {
	case RuntimeDocker:
		// -i keeps stdin attached; the JSON-RPC stream runs over it
		args := []string{"run", "-i", "--rm"}
		// values are forwarded from the docker client environment, never put on the command line
		for _, k := range l.envKeys() {
			args = append(args, "-e", k)
		}
		args = append(args, l.cfg.Image)
		args = append(args, l.cfg.Args...)
		return "docker", args
	default:
		return l.cfg.Command, append([]string(nil), l.cfg.Args...)
	}
}

func (l *Launcher) envKeys() []string {
	keys := make([]string, 0, len(l.cfg.Env))
	for k, v := range l.cfg.Env {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
