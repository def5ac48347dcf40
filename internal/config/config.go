// Package config defines spellbook's configuration structure and validation.
// Values are loaded from YAML via viper (see cmd/root.go), with defaults
// filled by Defaults() so a missing file or section never blocks startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spellbook-dev/spellbook/internal/log"
	"github.com/spellbook-dev/spellbook/internal/paths"
	"github.com/spellbook-dev/spellbook/internal/retry"
	"github.com/spellbook-dev/spellbook/internal/tracing"
)

// Config represents the complete spellbook configuration.
type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Store   StoreConfig    `mapstructure:"store"`
	Retry   RetryConfig    `mapstructure:"retry"`
	Cleanup CleanupConfig  `mapstructure:"cleanup"`
	Log     LogConfig      `mapstructure:"log"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// ServerConfig controls the coordination server's listener and streams.
type ServerConfig struct {
	// Host is the bind address. The server is loopback-only by default;
	// workers run on the same machine as the daemon.
	Host string `mapstructure:"host"`

	// Port is the TCP port to listen on (default 7432).
	Port int `mapstructure:"port"`

	// PollInterval is how often an event stream re-reads the log when no
	// wake-up arrived from the broker or the file watcher.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// KeepaliveInterval is how often idle SSE streams emit a comment line
	// so proxies and clients know the connection is alive.
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`

	// StatusCacheTTL bounds staleness of the swarm status cache.
	// Zero disables caching entirely.
	StatusCacheTTL time.Duration `mapstructure:"status_cache_ttl"`
}

// StoreConfig controls the SQLite state manager.
type StoreConfig struct {
	// Path is the database file location.
	// Empty means <state dir>/spellbook.db (see internal/paths).
	Path string `mapstructure:"path"`
}

// RetryConfig tunes the backoff schedule for recoverable worker errors.
// Which error types are recoverable is fixed policy (internal/retry); only
// the schedule is configurable.
type RetryConfig struct {
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// Multiplier grows the delay for each subsequent attempt:
	// delay(n) = base_delay * multiplier^(n-1).
	Multiplier float64 `mapstructure:"multiplier"`

	// MaxRetries is how many retries are scheduled before the worker is
	// expected to report a terminal failure.
	MaxRetries int `mapstructure:"max_retries"`
}

// Policy converts the configured schedule into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		BaseDelay:  r.BaseDelay,
		Multiplier: r.Multiplier,
		MaxRetries: r.MaxRetries,
	}
}

// CleanupConfig controls the janitor that prunes finished swarms.
type CleanupConfig struct {
	// Enabled turns the in-process janitor on. The cleanup CLI works
	// regardless of this setting.
	Enabled bool `mapstructure:"enabled"`

	// Interval is how often the janitor runs while the daemon is up.
	Interval time.Duration `mapstructure:"interval"`

	// MaxAge is the retention window: terminal swarms whose last update is
	// older than this are removed, along with their workers and events.
	MaxAge time.Duration `mapstructure:"max_age"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is the minimum severity written: debug, info, warn, or error.
	Level string `mapstructure:"level"`

	// Path is the log file location.
	// Empty means <state dir>/spellbook.log (see internal/paths).
	Path string `mapstructure:"path"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              7432,
			PollInterval:      2 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			StatusCacheTTL:    1 * time.Second,
		},
		Store: StoreConfig{
			Path: "", // Derived from the state dir at runtime
		},
		Retry: RetryConfig{
			BaseDelay:  30 * time.Second,
			Multiplier: 2.0,
			MaxRetries: 2,
		},
		Cleanup: CleanupConfig{
			Enabled:  false,
			Interval: 1 * time.Hour,
			MaxAge:   7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
			Path:  "", // Derived from the state dir at runtime
		},
		Tracing: tracing.DefaultConfig(),
	}
}

// DBPath resolves the database file location for this configuration.
func (c Config) DBPath() string {
	return paths.DBPath(c.Store.Path)
}

// LogFilePath resolves the log file location for this configuration.
func (c Config) LogFilePath() string {
	return paths.LogPath(c.Log.Path)
}

// Validate checks the whole configuration for errors.
func (c Config) Validate() error {
	if err := ValidateServer(c.Server); err != nil {
		return err
	}
	if err := ValidateRetry(c.Retry); err != nil {
		return err
	}
	if err := ValidateCleanup(c.Cleanup); err != nil {
		return err
	}
	if err := ValidateLog(c.Log); err != nil {
		return err
	}
	if err := ValidateTracing(c.Tracing); err != nil {
		return err
	}
	return nil
}

// ValidateServer checks server configuration for errors.
func ValidateServer(server ServerConfig) error {
	if server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if server.Port < 1 || server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", server.Port)
	}
	if server.PollInterval <= 0 {
		return fmt.Errorf("server.poll_interval must be positive, got %v", server.PollInterval)
	}
	if server.KeepaliveInterval <= 0 {
		return fmt.Errorf("server.keepalive_interval must be positive, got %v", server.KeepaliveInterval)
	}

	// Zero disables the cache; negative makes no sense
	if server.StatusCacheTTL < 0 {
		return fmt.Errorf("server.status_cache_ttl must not be negative, got %v", server.StatusCacheTTL)
	}

	return nil
}

// ValidateRetry checks the backoff schedule for errors.
func ValidateRetry(r RetryConfig) error {
	if r.BaseDelay <= 0 {
		return fmt.Errorf("retry.base_delay must be positive, got %v", r.BaseDelay)
	}

	// Multiplier below 1 would shrink delays on later attempts
	if r.Multiplier < 1.0 {
		return fmt.Errorf("retry.multiplier must be at least 1.0, got %v", r.Multiplier)
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", r.MaxRetries)
	}

	return nil
}

// ValidateCleanup checks janitor configuration for errors.
// Interval and retention only matter when the janitor is enabled.
func ValidateCleanup(cleanup CleanupConfig) error {
	if !cleanup.Enabled {
		return nil
	}
	if cleanup.Interval <= 0 {
		return fmt.Errorf("cleanup.interval must be positive when cleanup is enabled, got %v", cleanup.Interval)
	}
	if cleanup.MaxAge <= 0 {
		return fmt.Errorf("cleanup.max_age must be positive when cleanup is enabled, got %v", cleanup.MaxAge)
	}

	return nil
}

// ValidateLog checks logging configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateLog(lc LogConfig) error {
	if lc.Level != "" {
		switch lc.Level {
		case "debug", "info", "warn", "warning", "error":
			// Valid
		default:
			return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", lc.Level)
		}
	}

	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	// Validate SampleRate is in range [0.0, 1.0]
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	// Validate Exporter is a valid option
	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Spellbook Configuration

# Coordination server settings
server:
  host: 127.0.0.1          # Loopback only; workers run on the same machine
  port: 7432
  poll_interval: 2s        # How often event streams re-read the log without a wake-up
  keepalive_interval: 30s  # Comment keepalive for idle SSE streams
  status_cache_ttl: 1s     # Swarm status cache lifetime; 0 disables the cache

# State manager settings
store:
  # Database file location (default: ~/.spellbook/spellbook.db)
  # path: /path/to/spellbook.db

# Backoff schedule for recoverable worker errors
# delay(attempt) = base_delay * multiplier^(attempt-1), for attempts 1..max_retries
retry:
  base_delay: 30s
  multiplier: 2.0
  max_retries: 2

# Janitor for finished swarms
# The daemon prunes complete/failed swarms older than max_age when enabled.
# 'spellbook cleanup' does the same on demand regardless of this setting.
cleanup:
  enabled: false
  interval: 1h
  max_age: 168h   # 7 days

# Logging
log:
  level: info   # debug, info, warn, or error
  # Log file location (default: ~/.spellbook/spellbook.log)
  # path: /path/to/spellbook.log

# Distributed tracing
# Enables end-to-end visibility into worker request flows
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.spellbook/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
