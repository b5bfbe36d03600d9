// Package config loads traceloupe configuration from an optional TOML
// file with environment variable overrides.
//
// Resolution order: built-in defaults, then ~/.traceloupe/config.toml
// (or an explicit path), then TRACELOUPE_* environment variables.
// Per-binary flags are applied on top by the commands themselves.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds the settings shared by the traceloupe binaries.
// Zero/empty values for the daemon fields mean "use the ingestion
// defaults", which are platform dependent (Unix socket vs. TCP).
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `toml:"db_path" env:"TRACELOUPE_DB"`

	// ListenAddr is the ingestion socket path (Unix) or address (TCP).
	ListenAddr string `toml:"listen_addr" env:"TRACELOUPE_LISTEN"`

	// MetricsAddr is the daemon's metrics/health HTTP address.
	MetricsAddr string `toml:"metrics_addr" env:"TRACELOUPE_METRICS"`

	// DashboardAddr is the web dashboard HTTP address.
	DashboardAddr string `toml:"dashboard_addr" env:"TRACELOUPE_DASHBOARD"`

	// BatchSize is the ingestion flush threshold; 0 keeps the daemon default.
	BatchSize int `toml:"batch_size" env:"TRACELOUPE_BATCH_SIZE"`

	// FlushIntervalMs is the ingestion flush period; 0 keeps the daemon default.
	FlushIntervalMs int `toml:"flush_interval_ms" env:"TRACELOUPE_FLUSH_INTERVAL_MS"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" env:"TRACELOUPE_LOG_LEVEL"`

	// OpenAIAPIKey authenticates the feedback provider.
	OpenAIAPIKey string `toml:"openai_api_key" env:"OPENAI_API_KEY"`

	// OpenAIModel is the chat model used for feedback scoring.
	OpenAIModel string `toml:"openai_model" env:"TRACELOUPE_OPENAI_MODEL"`

	// OpenAIBaseURL overrides the API endpoint for compatible servers.
	OpenAIBaseURL string `toml:"openai_base_url" env:"TRACELOUPE_OPENAI_BASE_URL"`

	// FeedbackPollSeconds is how often the score runner looks for
	// unscored records.
	FeedbackPollSeconds int `toml:"feedback_poll_seconds" env:"TRACELOUPE_FEEDBACK_POLL_SECONDS"`
}

const defaultConfigPath = "~/.traceloupe/config.toml"

// DashboardAddrDefault is where traceloupe-web listens unless configured.
const DashboardAddrDefault = "127.0.0.1:9696"

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DashboardAddr:       DashboardAddrDefault,
		LogLevel:            "info",
		OpenAIModel:         "gpt-4o-mini",
		FeedbackPollSeconds: 30,
	}
}

// Load reads the config file at path (or the default location when
// path is empty), then applies environment overrides. A missing file
// is not an error; the defaults stand.
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Fine: run on defaults.
	default:
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}

	if cfg.DBPath != "" {
		cfg.DBPath = mustExpand(cfg.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges. Called by Load; exported so commands
// can re-validate after applying flags.
func (c Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (want debug, info, warn, or error)", c.LogLevel)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be >= 0, got %d", c.BatchSize)
	}
	if c.FlushIntervalMs < 0 {
		return fmt.Errorf("flush_interval_ms must be >= 0, got %d", c.FlushIntervalMs)
	}
	if c.FeedbackPollSeconds <= 0 {
		return fmt.Errorf("feedback_poll_seconds must be > 0, got %d", c.FeedbackPollSeconds)
	}
	return nil
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
