package config

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// FailoverConfig holds the tuning knobs for node management,
// migration and reconciliation.
type FailoverConfig struct {
	NodesFile        string        `env:"LAVALINK_NODES_FILE, default=nodes.yaml"`
	HandshakeTimeout time.Duration `env:"NODE_HANDSHAKE_TIMEOUT, default=5s"`

	// MigrationBackoff is how long a session is left alone after
	// a node rejected a migration with a rate limit.
	MigrationBackoff time.Duration `env:"MIGRATION_BACKOFF, default=30s"`

	// ResumeRewind is subtracted from the last known position when
	// a track is resumed on a replacement node.
	ResumeRewind time.Duration `env:"RESUME_REWIND, default=1s"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL, default=60s"`
	ReconcileCron     string        `env:"RECONCILE_CRON"`

	MetricsAddr string `env:"METRICS_ADDR, default=:9090"`
	LogLevel    string `env:"LOG_LEVEL, default=info"`
	LogFormat   string `env:"LOG_FORMAT, default=json"`
}

func NewFailoverConfigFromEnv() (*FailoverConfig, error) {
	var cfg FailoverConfig
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *FailoverConfig) Validate() error {
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("NODE_HANDSHAKE_TIMEOUT must be positive")
	}
	if c.MigrationBackoff <= 0 {
		return fmt.Errorf("MIGRATION_BACKOFF must be positive")
	}
	if c.ResumeRewind < 0 {
		return fmt.Errorf("RESUME_REWIND must not be negative")
	}
	if c.ReconcileInterval <= 0 && c.ReconcileCron == "" {
		return fmt.Errorf("one of RECONCILE_INTERVAL or RECONCILE_CRON is required")
	}
	return nil
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// Unknown levels fall back to info and unknown formats to JSON.
func (c *FailoverConfig) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
