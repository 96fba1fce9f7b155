package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-codesec/internal/application"
	appanalysis "github.com/bryanwahyu/automaton-codesec/internal/application/analysis"
	"github.com/bryanwahyu/automaton-codesec/internal/config"
	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
	mysqlp "github.com/bryanwahyu/automaton-codesec/internal/infra/db/mysql"
	"github.com/bryanwahyu/automaton-codesec/internal/infra/db/postgres"
	"github.com/bryanwahyu/automaton-codesec/internal/infra/ai/openai"
	"github.com/bryanwahyu/automaton-codesec/internal/infra/ai/prompt"
	"github.com/bryanwahyu/automaton-codesec/internal/infra/executor/mcpstdio"
	minioStore "github.com/bryanwahyu/automaton-codesec/internal/infra/storage"
	"github.com/bryanwahyu/automaton-codesec/internal/middleware"
	"github.com/bryanwahyu/automaton-codesec/internal/observability"
)

// App holds the wired analyzer and the resources it owns.
type App struct {
	Service   *appanalysis.Service
	Launcher  *mcpstdio.Launcher
	Readiness map[string]middleware.HealthChecker

	db *sql.DB
}

// Logger builds the process logger from the log section.
func Logger(cfg *config.Config, name string) (*zap.Logger, error) {
	return observability.NewLogger(LogOptions(cfg, name))
}

// LogOptions maps the log section onto the logger options.
func LogOptions(cfg *config.Config, name string) observability.LogOptions {
	return observability.LogOptions{
		Name:       name,
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
}

// LaunchConfig maps the tool section onto the launcher.
func LaunchConfig(cfg *config.Config) mcpstdio.LaunchConfig {
	return mcpstdio.LaunchConfig{
		Runtime:        mcpstdio.Runtime(cfg.Tool.Runtime),
		Command:        cfg.Tool.Command,
		Args:           cfg.Tool.Args,
		Image:          cfg.Tool.Image,
		Env:            cfg.ToolEnv(),
		AllowedTools:   []string{cfg.Tool.Capability},
		StartupTimeout: cfg.Tool.StartupTimeout,
		CloseGrace:     cfg.Tool.CloseGrace,
	}
}

// ServiceConfig maps configuration onto the pipeline settings.
func ServiceConfig(cfg *config.Config) appanalysis.ServiceConfig {
	return appanalysis.ServiceConfig{
		Model: cfg.OpenAI.Model,
		Gate: appanalysis.GateConfig{
			Capability: cfg.Tool.Capability,
			Ruleset:    cfg.Tool.Ruleset,
			FileName:   cfg.Tool.FileName,
			Timeout:    cfg.Tool.Timeout,
		},
		EnsureScan: cfg.Tool.EnsureScan,
		Dedup:      cfg.Dedup,
	}
}

// New wires the analyzer. The run audit store and the payload archive are
// connected only when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	launcher := mcpstdio.NewLauncher(LaunchConfig(cfg), logger.Named("tool"))
	model := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.BaseURL)
	loop := appanalysis.NewLoop(model, prompt.NewResearcher(cfg.Tool.Capability), cfg.OpenAI.MaxTurns, logger.Named("loop"))

	app := &App{
		Launcher: launcher,
		Service: &appanalysis.Service{
			Launcher:  launcher,
			Loop:      loop,
			Validator: appanalysis.NewSchemaValidator(),
			Config:    ServiceConfig(cfg),
			Clock:     application.SystemClock{},
			Logger:    logger.Named("analysis"),
			Ready:     cfg.CheckCredentials,
		},
		Readiness: map[string]middleware.HealthChecker{
			"tool": middleware.CheckerFunc(launcher.Check),
			"credentials": middleware.CheckerFunc(func(context.Context) error {
				return cfg.CheckCredentials()
			}),
		},
	}

	runs, db, err := openRuns(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if runs != nil {
		app.db = db
		app.Service.Runs = runs
		app.Readiness["database"] = &middleware.DatabaseHealthChecker{DB: db}
		logger.Info("run audit enabled", zap.String("driver", cfg.Database.Driver))
	}

	if cfg.Minio.Endpoint != "" {
		store, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("minio init: %w", err)
		}
		app.Service.Archive = store
		logger.Info("tool output archive enabled", zap.String("bucket", cfg.Minio.BucketName))
	}
	return app, nil
}

func openRuns(ctx context.Context, cfg *config.Config) (analysis.RunRepository, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "":
		return nil, nil, nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("mysql schema: %w", err)
		}
		return mysqlp.NewRunRepository(db), db, nil
	case "postgres":
		db, err := postgres.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		return postgres.NewRunRepository(db), db, nil
	default:
		return nil, nil, errors.New("unsupported database driver " + cfg.Database.Driver)
	}
}

// Close releases the database pool, if any.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
