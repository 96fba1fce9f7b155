package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanwahyu/automaton-codesec/internal/bootstrap"
	"github.com/bryanwahyu/automaton-codesec/internal/config"
	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
	"github.com/bryanwahyu/automaton-codesec/internal/middleware"
	"github.com/bryanwahyu/automaton-codesec/internal/observability"
)

type analyzer interface {
	Analyze(ctx context.Context, req analysis.Request) (analysis.SecurityReport, error)
}

type analyzeFlags struct {
	configPath string
	model      string
	noScan     bool
	compact    bool
	timeout    time.Duration
	debug      bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seccheck",
		Short:         "Security analysis of source code with Semgrep and an AI reviewer",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newAnalyzeCmd())
	return root
}

func newAnalyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze <file|->",
		Short: "Analyze one source file and print the JSON report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			if f.model != "" {
				cfg.OpenAI.Model = f.model
			}
			if f.noScan {
				cfg.Tool.EnsureScan = false
			}
			if f.debug {
				cfg.Log.Level = "debug"
			}

			opts := bootstrap.LogOptions(cfg, "seccheck")
			opts.Format = "console"
			opts.Stderr = true
			logger, err := observability.NewLogger(opts)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			app, err := bootstrap.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			return runAnalyze(ctx, app.Service, code, cmd.OutOrStdout(), !f.compact)
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", envOr("CONFIG_PATH", "config.yaml"), "path to config.yaml")
	cmd.Flags().StringVar(&f.model, "model", "", "override the model name")
	cmd.Flags().BoolVar(&f.noScan, "no-ensure-scan", false, "do not run the scan when the model skips it")
	cmd.Flags().BoolVar(&f.compact, "compact", false, "print the report on a single line")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 5*time.Minute, "overall analysis timeout")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "enable debug logging")
	return cmd
}

func readSource(arg string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if arg == "-" {
		data, err = io.ReadAll(io.LimitReader(stdin, int64(middleware.DefaultMaxCodeBytes)+1))
	} else {
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	code := middleware.SanitizeCode(string(data))
	if err := middleware.ValidateSourceCode(code, middleware.DefaultMaxCodeBytes); err != nil {
		return "", err
	}
	return code, nil
}

func runAnalyze(ctx context.Context, svc analyzer, code string, out io.Writer, pretty bool) error {
	report, err := svc.Analyze(ctx, analysis.Request{Code: code})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(report)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
