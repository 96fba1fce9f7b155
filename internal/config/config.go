package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bryanwahyu/automaton-codesec/internal/domain/analysis"
)

type Config struct {
	Server struct {
		Port           int           `yaml:"port" validate:"gt=0,lt=65536"`
		Environment    string        `yaml:"environment"`
		StaticDir      string        `yaml:"staticDir"`
		AllowedOrigins []string      `yaml:"allowedOrigins"`
		RequestTimeout time.Duration `yaml:"requestTimeout" validate:"gte=0"`
	} `yaml:"server"`

	Log struct {
		Level      string `yaml:"level" validate:"oneof=debug info warn error"`
		Format     string `yaml:"format" validate:"oneof=json console"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"maxSizeMB" validate:"gte=0"`
		MaxBackups int    `yaml:"maxBackups" validate:"gte=0"`
		MaxAgeDays int    `yaml:"maxAgeDays" validate:"gte=0"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`

	OpenAI struct {
		APIKey   string `yaml:"apiKey"`
		Model    string `yaml:"model" validate:"required"`
		BaseURL  string `yaml:"baseURL" validate:"omitempty,url"`
		MaxTurns int    `yaml:"maxTurns" validate:"gte=1,lte=32"`
	} `yaml:"openai"`

	Tool struct {
		Runtime        string        `yaml:"runtime" validate:"oneof=local docker"`
		Command        string        `yaml:"command" validate:"required_if=Runtime local"`
		Args           []string      `yaml:"args"`
		Image          string        `yaml:"image" validate:"required_if=Runtime docker"`
		Capability     string        `yaml:"capability" validate:"required"`
		Ruleset        string        `yaml:"ruleset" validate:"required"`
		FileName       string        `yaml:"fileName" validate:"required"`
		Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
		StartupTimeout time.Duration `yaml:"startupTimeout" validate:"gt=0"`
		CloseGrace     time.Duration `yaml:"closeGrace" validate:"gt=0"`
		EnsureScan     bool          `yaml:"ensureScan"`
		AppToken       string        `yaml:"appToken"`
	} `yaml:"tool"`

	Dedup analysis.DedupPolicy `yaml:"dedup"`

	// Database is the optional run audit store. Empty driver disables it.
	Database struct {
		Driver   string `yaml:"driver" validate:"omitempty,oneof=mysql postgres"`
		Host     string `yaml:"host" validate:"required_with=Driver"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name" validate:"required_with=Driver"`
		SSLMode  string `yaml:"sslMode"`
	} `yaml:"database"`

	// Minio is the optional tool-output archive. Empty endpoint disables it.
	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName" validate:"required_with=Endpoint"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var c Config
	c.Server.Port = 8000
	c.Server.Environment = "development"
	c.Server.StaticDir = "static"
	c.Server.AllowedOrigins = []string{"http://localhost:3000", "http://frontend:3000"}
	c.Server.RequestTimeout = 5 * time.Minute

	c.Log.Level = "info"
	c.Log.Format = "json"
	c.Log.MaxSizeMB = 100
	c.Log.MaxBackups = 3
	c.Log.MaxAgeDays = 28

	c.OpenAI.Model = "gpt-4.1-mini"
	c.OpenAI.MaxTurns = 8

	c.Tool.Runtime = "local"
	c.Tool.Command = "uvx"
	c.Tool.Args = []string{"semgrep-mcp"}
	c.Tool.Image = "ghcr.io/semgrep/mcp:latest"
	c.Tool.Capability = "semgrep_scan"
	c.Tool.Ruleset = "auto"
	c.Tool.FileName = "input.py"
	c.Tool.Timeout = 120 * time.Second
	c.Tool.StartupTimeout = 60 * time.Second
	c.Tool.CloseGrace = 2 * time.Second
	c.Tool.EnsureScan = true

	c.Dedup = analysis.DefaultDedupPolicy()
	return &c
}

// Load baca file config.yaml di atas default, lalu override dari env.
// File yang tidak ada bukan error.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.OpenAI.Model = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAI.BaseURL = v
	}
	if v := os.Getenv("SEMGREP_APP_TOKEN"); v != "" {
		c.Tool.AppToken = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Server.Environment = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks value ranges. Credentials are checked per request, see CheckCredentials.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CheckCredentials reports a missing model API key.
func (c *Config) CheckCredentials() error {
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		return fmt.Errorf("%w: OpenAI API key not configured", analysis.ErrConfiguration)
	}
	return nil
}

// CORSOrigins returns the allowed origins; production also allows any origin.
func (c *Config) CORSOrigins() []string {
	origins := append([]string(nil), c.Server.AllowedOrigins...)
	if c.Server.Environment == "production" {
		origins = append(origins, "*")
	}
	return origins
}

// ToolEnv is the extra environment passed to the tool server process.
func (c *Config) ToolEnv() map[string]string {
	return map[string]string{"SEMGREP_APP_TOKEN": c.Tool.AppToken}
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.portOr(3306),
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection URL.
func (c *Config) PostgresDSN() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.Database.User, c.Database.Password),
		Host:     fmt.Sprintf("%s:%d", c.Database.Host, c.portOr(5432)),
		Path:     "/" + c.Database.Name,
		RawQuery: "sslmode=" + url.QueryEscape(sslMode),
	}
	return u.String()
}

func (c *Config) portOr(def int) int {
	if c.Database.Port > 0 {
		return c.Database.Port
	}
	return def
}
