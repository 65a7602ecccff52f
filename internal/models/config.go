// Package models - Service configuration and operational settings.
// This file defines the configuration structures for all service components.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, redis, limiter, etc.)
// - Environment-friendly defaults that work out of the box
// - Comprehensive validation to catch misconfigurations early
// - Support for multiple deployment scenarios (development, production, cloud)
package models

import (
	"errors"
	"fmt"
	"time"
)

// Audit backend type constants
const (
	AuditTypeMemory   = "memory"
	AuditTypeSQLite   = "sqlite"
	AuditTypePostgres = "postgres"
)

// Config is the root configuration structure containing all service settings.
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`               // HTTP server configuration
	Redis         RedisConfig         `yaml:"redis" json:"redis"`                 // Shared counter store
	Limiter       LimiterConfig       `yaml:"limiter" json:"limiter"`             // Rate limiting policy knobs
	Audit         AuditConfig         `yaml:"audit" json:"audit"`                 // Rejection event persistence
	Security      SecurityConfig      `yaml:"security" json:"security"`           // Admin authentication
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`             // Logging and output configuration
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`             // Monitoring and metrics
	Observability ObservabilityConfig `yaml:"observability" json:"observability"` // Tracing configuration
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

type RedisConfig struct {
	Addr        string        `yaml:"addr" json:"addr"`
	Password    string        `yaml:"password" json:"password"`
	DB          int           `yaml:"db" json:"db"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// LimiterConfig controls the windowed rate limiter and the daily quota layer.
//
// TierOverrides is merged field-by-field over the built-in tier defaults at
// construction time; fields left nil keep the default. A DailyQuota of 0
// means unlimited, which is why the override fields are pointers rather
// than plain ints.
type LimiterConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// KeyPrefix namespaces all counter keys in the shared store so the
	// limiter can coexist with unrelated data.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	// StoreTimeout bounds each round trip to the counter store. Expiry of
	// this timeout triggers the fail-open path rather than blocking the
	// request.
	StoreTimeout time.Duration `yaml:"store_timeout" json:"store_timeout"`

	// FailClosedCategories lists categories that reject traffic when the
	// counter store is unreachable instead of failing open. Empty by
	// default: availability wins during store outages.
	FailClosedCategories []string `yaml:"fail_closed_categories" json:"fail_closed_categories"`

	TierOverrides map[string]TierOverride `yaml:"tier_overrides" json:"tier_overrides"`
}

// TierOverride is a partial per-tier limit override. Nil fields keep the
// built-in default for that tier.
type TierOverride struct {
	RequestsPerMinute      *int `yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
	AIRequestsPerMinute    *int `yaml:"ai_requests_per_minute,omitempty" json:"ai_requests_per_minute,omitempty"`
	WriteRequestsPerMinute *int `yaml:"write_requests_per_minute,omitempty" json:"write_requests_per_minute,omitempty"`
	DailyQuota             *int `yaml:"daily_quota,omitempty" json:"daily_quota,omitempty"`
}

type AuditConfig struct {
	Type string `yaml:"type" json:"type"`
	DSN  string `yaml:"dsn" json:"dsn"`
}

type SecurityConfig struct {
	// AdminToken protects the administrative introspection and reset
	// endpoints. Empty disables admin authentication (development only).
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

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - 30-second timeouts: Balance between user experience and resource protection
// - 500ms store timeout: a slow counter store must never stall the hot path
// - Rate limiting enabled: the limiter is the point of the service
// - Memory audit store: simple setup without external dependencies
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
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			DB:          0,
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		Limiter: LimiterConfig{
			Enabled:              true,
			KeyPrefix:            "limitgate",
			StoreTimeout:         500 * time.Millisecond,
			FailClosedCategories: []string{},
			TierOverrides:        map[string]TierOverride{},
		},
		Audit: AuditConfig{
			Type: AuditTypeMemory,
		},
		Security: SecurityConfig{},
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
			ServiceName: "limitgate",
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

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis config: %w", err)
	}

	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("invalid limiter config: %w", err)
	}

	if err := c.Audit.Validate(); err != nil {
		return fmt.Errorf("invalid audit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
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

func (rc *RedisConfig) Validate() error {
	if rc.Addr == "" {
		return errors.New("redis address cannot be empty")
	}

	if rc.DB < 0 {
		return errors.New("redis db cannot be negative")
	}

	if rc.PoolSize < 0 {
		return errors.New("redis pool size cannot be negative")
	}

	return nil
}

func (lc *LimiterConfig) Validate() error {
	if !lc.Enabled {
		return nil
	}

	if lc.KeyPrefix == "" {
		return errors.New("key prefix cannot be empty")
	}

	if lc.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	if lc.StoreTimeout > time.Second {
		return errors.New("store timeout must be sub-second; the limiter sits on the request hot path")
	}

	for tier, override := range lc.TierOverrides {
		if err := override.Validate(); err != nil {
			return fmt.Errorf("invalid override for tier %q: %w", tier, err)
		}
	}

	return nil
}

func (to *TierOverride) Validate() error {
	if to.RequestsPerMinute != nil && *to.RequestsPerMinute <= 0 {
		return errors.New("requests per minute must be positive")
	}
	if to.AIRequestsPerMinute != nil && *to.AIRequestsPerMinute <= 0 {
		return errors.New("ai requests per minute must be positive")
	}
	if to.WriteRequestsPerMinute != nil && *to.WriteRequestsPerMinute <= 0 {
		return errors.New("write requests per minute must be positive")
	}
	if to.DailyQuota != nil && *to.DailyQuota < 0 {
		return errors.New("daily quota cannot be negative")
	}
	return nil
}

func (ac *AuditConfig) Validate() error {
	switch ac.Type {
	case AuditTypeMemory:
		return nil
	case AuditTypeSQLite, AuditTypePostgres:
		if ac.DSN == "" {
			return fmt.Errorf("dsn is required for %s audit storage", ac.Type)
		}
		return nil
	default:
		return fmt.Errorf("invalid audit type: %s", ac.Type)
	}
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
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
