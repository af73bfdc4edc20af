// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/proxyfetch/internal/logging"
)

// Snapshot backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Breaker   BreakerConfig   `mapstructure:"breaker"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Updater   UpdaterConfig   `mapstructure:"updater"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetchConfig governs the retry loop and the outbound transport.
type FetchConfig struct {
	MaxRetries            int   `mapstructure:"max_retries"`
	BackoffInitialMs      int   `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int   `mapstructure:"backoff_max_ms"`
	JitterMaxMs           int   `mapstructure:"jitter_max_ms"`
	RequestTimeoutSeconds int   `mapstructure:"request_timeout_seconds"`
	MaxBodyBytes          int64 `mapstructure:"max_body_bytes"`
	TransportCacheSize    int   `mapstructure:"transport_cache_size"`
}

// BreakerConfig sets the circuit breaker thresholds.
type BreakerConfig struct {
	Threshold      int `mapstructure:"threshold"`
	ResetTimeoutMs int `mapstructure:"reset_timeout_ms"`
}

// RateLimitConfig sets the sliding window budget.
type RateLimitConfig struct {
	MaxRequests int `mapstructure:"max_requests"`
	WindowMs    int `mapstructure:"window_ms"`
}

// ProbeConfig configures proxy health probes and the sweep loop.
type ProbeConfig struct {
	Target               string `mapstructure:"target"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
}

// UpdaterConfig configures the remote proxy list refresh.
type UpdaterConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	SourceURL            string `mapstructure:"source_url"`
	IntervalSeconds      int    `mapstructure:"interval_seconds"`
	PurgeSnapshotOnStart bool   `mapstructure:"purge_snapshot_on_start"`
}

// SnapshotConfig selects and configures the snapshot backend.
type SnapshotConfig struct {
	Backend  string                 `mapstructure:"backend"`
	File     FileSnapshotConfig     `mapstructure:"file"`
	Postgres PostgresSnapshotConfig `mapstructure:"postgres"`
	GCS      GCSSnapshotConfig      `mapstructure:"gcs"`
}

// FileSnapshotConfig locates the snapshot file.
type FileSnapshotConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresSnapshotConfig controls the snapshot table.
type PostgresSnapshotConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// GCSSnapshotConfig locates the snapshot object.
type GCSSnapshotConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// NotifyConfig holds refresh notification targets.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROXYFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("fetch.max_retries", 6)
	v.SetDefault("fetch.backoff_initial_ms", 1000)
	v.SetDefault("fetch.backoff_max_ms", 10000)
	v.SetDefault("fetch.jitter_max_ms", 50000)
	v.SetDefault("fetch.request_timeout_seconds", 30)
	v.SetDefault("fetch.max_body_bytes", 32<<20)
	v.SetDefault("fetch.transport_cache_size", 256)
	v.SetDefault("breaker.threshold", 500)
	v.SetDefault("breaker.reset_timeout_ms", 60000)
	v.SetDefault("ratelimit.max_requests", 6000)
	v.SetDefault("ratelimit.window_ms", 60000)
	v.SetDefault("probe.target", "https://httpbin.org/ip")
	v.SetDefault("probe.timeout_seconds", 60)
	v.SetDefault("probe.sweep_interval_seconds", 300)
	v.SetDefault("updater.enabled", true)
	v.SetDefault("updater.source_url", "https://raw.githubusercontent.com/vmheaven/VMHeaven-Free-Proxy-Updated/refs/heads/main/https.txt")
	v.SetDefault("updater.interval_seconds", 600)
	v.SetDefault("updater.purge_snapshot_on_start", false)
	v.SetDefault("snapshot.backend", BackendFile)
	v.SetDefault("snapshot.file.path", "config/proxies.txt")
	v.SetDefault("snapshot.postgres.dsn", "")
	v.SetDefault("snapshot.postgres.table", "proxy_snapshot")
	v.SetDefault("snapshot.gcs.bucket", "")
	v.SetDefault("snapshot.gcs.object", "proxyfetch/proxies.txt")
	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if _, err := logging.ParseLevel(c.Logging.Level, c.Logging.Development); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Fetch.MaxRetries <= 0 {
		return fmt.Errorf("fetch.max_retries must be > 0")
	}
	if c.Fetch.BackoffInitialMs <= 0 || c.Fetch.BackoffMaxMs < c.Fetch.BackoffInitialMs {
		return fmt.Errorf("fetch.backoff_initial_ms must be > 0 and <= fetch.backoff_max_ms")
	}
	if c.Fetch.JitterMaxMs < 0 {
		return fmt.Errorf("fetch.jitter_max_ms must be >= 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Breaker.ResetTimeoutMs <= 0 {
		return fmt.Errorf("breaker.reset_timeout_ms must be > 0")
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.WindowMs <= 0 {
		return fmt.Errorf("ratelimit.max_requests and ratelimit.window_ms must be > 0")
	}
	if c.Probe.TimeoutSeconds <= 0 {
		return fmt.Errorf("probe.timeout_seconds must be > 0")
	}
	if c.Probe.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("probe.sweep_interval_seconds must be > 0")
	}
	if c.Updater.IntervalSeconds <= 0 {
		return fmt.Errorf("updater.interval_seconds must be > 0")
	}
	if c.Updater.Enabled && c.Updater.SourceURL == "" {
		return fmt.Errorf("updater.source_url must be set when the updater is enabled")
	}
	switch c.Snapshot.Backend {
	case BackendFile:
		if c.Snapshot.File.Path == "" {
			return fmt.Errorf("snapshot.file.path must be set for the file backend")
		}
	case BackendPostgres:
		if c.Snapshot.Postgres.DSN == "" {
			return fmt.Errorf("snapshot.postgres.dsn must be set for the postgres backend")
		}
	case BackendGCS:
		if c.Snapshot.GCS.Bucket == "" {
			return fmt.Errorf("snapshot.gcs.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshot.backend %q is not one of file, postgres, gcs", c.Snapshot.Backend)
	}
	if c.Notify.PubSub.Topic != "" && c.Notify.PubSub.ProjectID == "" {
		return fmt.Errorf("notify.pubsub.project_id must be set when notify.pubsub.topic is set")
	}
	return nil
}

// BackoffInitial converts fetch.backoff_initial_ms to a duration.
func (c FetchConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax converts fetch.backoff_max_ms to a duration.
func (c FetchConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// JitterMax converts fetch.jitter_max_ms to a duration.
func (c FetchConfig) JitterMax() time.Duration {
	return time.Duration(c.JitterMaxMs) * time.Millisecond
}

// RequestTimeout converts fetch.request_timeout_seconds to a duration.
func (c FetchConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ResetTimeout converts breaker.reset_timeout_ms to a duration.
func (c BreakerConfig) ResetTimeout() time.Duration {
	return time.Duration(c.ResetTimeoutMs) * time.Millisecond
}

// Window converts ratelimit.window_ms to a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowMs) * time.Millisecond
}

// Timeout converts probe.timeout_seconds to a duration.
func (c ProbeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SweepInterval converts probe.sweep_interval_seconds to a duration.
func (c ProbeConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Interval converts updater.interval_seconds to a duration.
func (c UpdaterConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// ShutdownTimeout converts server.shutdown_timeout_seconds to a duration.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
