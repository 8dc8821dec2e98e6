package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogDir enables JSON file logging to <LogDir>/system.log. Empty logs to stderr.
	LogDir string `envconfig:"STAGEHOST_LOG_DIR"`

	// MaxListeners is the per-event listener count that triggers a leak warning.
	// Zero disables the warning.
	MaxListeners int `envconfig:"STAGEHOST_MAX_LISTENERS" default:"1000"`

	// Manifest is the YAML file listing the modules to register.
	Manifest string `envconfig:"STAGEHOST_MANIFEST" default:"./modules.yaml"`

	// TickInterval is how often the demo host raises its tick event.
	TickInterval time.Duration `envconfig:"STAGEHOST_TICK_INTERVAL" default:"1s"`

	// ReadyDelay is how long the demo host waits before signalling readiness.
	ReadyDelay time.Duration `envconfig:"STAGEHOST_READY_DELAY" default:"0s"`

	// MetricsAddr serves /health and /metrics when set, e.g. ":9464".
	MetricsAddr string `envconfig:"STAGEHOST_METRICS_ADDR"`

	// OTLPEndpoint is the OTLP/gRPC collector (host:port) that receives
	// traces. Empty disables trace export.
	OTLPEndpoint string `envconfig:"STAGEHOST_OTLP_ENDPOINT"`

	// OTLPInsecure disables TLS to the collector.
	OTLPInsecure bool `envconfig:"STAGEHOST_OTLP_INSECURE" default:"false"`
}

// Load reads AppConfig from environment variables using envconfig.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.MaxListeners < 0 {
		return nil, fmt.Errorf("loading config: STAGEHOST_MAX_LISTENERS must not be negative, got %d", c.MaxListeners)
	}
	if c.TickInterval <= 0 {
		return nil, fmt.Errorf("loading config: STAGEHOST_TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	return &c, nil
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogFile returns the system log path, or "" when logging to stderr.
func (c *AppConfig) LogFile() string {
	if c.LogDir == "" {
		return ""
	}
	return filepath.Join(c.LogDir, "system.log")
}
