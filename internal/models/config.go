// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every component of the
// limiter service: the HTTP host, counter storage, rate limit policy, admin
// security, logging, metrics and tracing.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping
// - Defaults that work out of the box (in-memory counters, limiting on)
// - Validation that catches misconfigurations at startup
// - Rate limit settings are split out so they can be swapped at runtime
package models

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeSQLite   = "sqlite"
	StorageTypePostgres = "postgres"
	StorageTypeRedis    = "redis"
)

// Failure policy constants. They decide what a decision looks like when the
// counter store cannot answer in time.
const (
	FailurePolicyOpen   = "open"
	FailurePolicyClosed = "closed"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Counter persistence backend
// - RateLimit: Limit, window and failure handling
// - Upstream: Optional backend the limited traffic is forwarded to
// - Security: Admin API protection
// - Logging, Metrics, Observability: Operational telemetry
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

type StorageConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Database DatabaseConfig `yaml:"database" json:"database"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// RateLimitConfig holds the limiter policy. Limit and WindowSeconds are the
// live-reloadable pair; everything else is fixed for the process lifetime.
type RateLimitConfig struct {
	Limit                 int           `yaml:"limit" json:"limit"`
	WindowSeconds         int           `yaml:"window_seconds" json:"window_seconds"`
	FailurePolicy         string        `yaml:"failure_policy" json:"failure_policy"`
	StoreTimeout          time.Duration `yaml:"store_timeout" json:"store_timeout"`
	MaxRetries            int           `yaml:"max_retries" json:"max_retries"`
	TrustForwardedHeaders bool          `yaml:"trust_forwarded_headers" json:"trust_forwarded_headers"`
	PathPrefixes          []string      `yaml:"path_prefixes" json:"path_prefixes"`
	ReapInterval          time.Duration `yaml:"reap_interval" json:"reap_interval"`
	Retention             time.Duration `yaml:"retention" json:"retention"`
}

// Settings returns the live-reloadable part of the rate limit configuration.
func (rc RateLimitConfig) Settings() RateLimitSettings {
	return RateLimitSettings{
		Limit:         rc.Limit,
		WindowSeconds: rc.WindowSeconds,
	}
}

type UpstreamConfig struct {
	URL string `yaml:"url" json:"url"`
}

type SecurityConfig struct {
	// AdminToken protects the admin API. Empty disables the admin API.
	AdminToken string `yaml:"admin_token" json:"admin_token"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory storage: No external dependencies for a single instance
// - 5 requests per 30 seconds: the historical defaults of the limiter
// - Fail open: an outage of the counter store must not block all traffic
// - Forwarding headers untrusted: clients cannot pick their own key
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			TLSEnabled:   false,
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
			Database: DatabaseConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			Redis: RedisConfig{
				PoolSize:  10,
				KeyPrefix: "throttle:",
			},
		},
		RateLimit: RateLimitConfig{
			Limit:         5,
			WindowSeconds: 30,
			FailurePolicy: FailurePolicyOpen,
			StoreTimeout:  250 * time.Millisecond,
			MaxRetries:    5,
			PathPrefixes:  []string{},
			ReapInterval:  10 * time.Minute,
			Retention:     time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "throttle",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeMemory, StorageTypeSQLite, StorageTypePostgres, StorageTypeRedis}
	if !slices.Contains(validTypes, stc.Type) {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	switch stc.Type {
	case StorageTypeSQLite, StorageTypePostgres:
		if stc.Database.DSN == "" {
			return errors.New("database DSN is required for database storage")
		}
	case StorageTypeRedis:
		if stc.Redis.Addr == "" {
			return errors.New("Redis address is required when storage type is redis")
		}
	}

	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if err := rc.Settings().Validate(); err != nil {
		return err
	}

	if rc.FailurePolicy != FailurePolicyOpen && rc.FailurePolicy != FailurePolicyClosed {
		return fmt.Errorf("invalid failure policy: %s", rc.FailurePolicy)
	}

	if rc.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	if rc.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}

	if rc.ReapInterval < 0 {
		return errors.New("reap interval cannot be negative")
	}

	if rc.Retention < 0 {
		return errors.New("retention cannot be negative")
	}

	return nil
}

// Validate accepts an empty URL (no upstream) or an absolute http(s) URL.
func (uc *UpstreamConfig) Validate() error {
	if uc.URL == "" {
		return nil
	}

	u, err := url.Parse(uc.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream URL must use http or https: %s", uc.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("upstream URL must include a host: %s", uc.URL)
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required when exporter is otlp")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
