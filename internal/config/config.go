// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete analysis service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Provider   ProviderConfig   `yaml:"provider"`
	Models     ModelsConfig     `yaml:"models"`
	Quota      QuotaConfig      `yaml:"quota"`
	Validation ValidationConfig `yaml:"validation"`
	Cache      CacheConfig      `yaml:"cache"`
	Audit      AuditConfig      `yaml:"audit"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig contains the upstream model provider settings.
type ProviderConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelConfig defines a single model and its per-minute budgets.
type ModelConfig struct {
	Name              string `yaml:"name"`
	RequestsPerMinute int64  `yaml:"requests_per_minute"`
	TokensPerMinute   int64  `yaml:"tokens_per_minute"`
}

// ModelsConfig defines the model tiers used by the selector.
// Tier1 models are tried first; Tier2 models are ordered fallbacks.
type ModelsConfig struct {
	Tier1  []ModelConfig `yaml:"tier1"`
	Tier2  []ModelConfig `yaml:"tier2"`
	Forced string        `yaml:"forced"` // operator override, bypasses quota checks
}

// QuotaConfig selects the quota ledger backend.
type QuotaConfig struct {
	Backend string      `yaml:"backend"` // memory, redis
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ValidationConfig contains fraud and consistency rule thresholds.
type ValidationConfig struct {
	MinConfidence          float64 `yaml:"min_confidence"`
	MinVehicleMatch        float64 `yaml:"min_vehicle_match"`
	HighValueClaim         float64 `yaml:"high_value_claim"`
	ConfidentDetermination float64 `yaml:"confident_determination"`
}

// CacheConfig contains result cache settings.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuditConfig selects the audit store backend.
type AuditConfig struct {
	Backend     string          `yaml:"backend"` // memory, postgres
	PostgresDSN string          `yaml:"postgres_dsn"`
	S3Archive   S3ArchiveConfig `yaml:"s3_archive"`
}

// S3ArchiveConfig contains optional S3 audit archival settings.
type S3ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Bucket        string        `yaml:"bucket"`
	KeyPrefix     string        `yaml:"key_prefix"`
	Region        string        `yaml:"region"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

// RateLimitConfig defines per-client HTTP rate limiting parameters.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	BurstSize         int  `yaml:"burst_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Provider: ProviderConfig{
			BaseURL: "https://api.openai.com/v1",
			Timeout: 90 * time.Second,
		},
		Quota: QuotaConfig{
			Backend: "memory",
		},
		Validation: ValidationConfig{
			MinConfidence:          0.6,
			MinVehicleMatch:        0.7,
			HighValueClaim:         25000,
			ConfidentDetermination: 0.85,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     15 * time.Minute,
		},
		Audit: AuditConfig{
			Backend: "memory",
			S3Archive: S3ArchiveConfig{
				FlushInterval: time.Minute,
				BatchSize:     200,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4317",
			ServiceName: "claimai",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if len(c.Models.Tier1) == 0 && len(c.Models.Tier2) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	seen := make(map[string]bool)
	tiers := []struct {
		name   string
		models []ModelConfig
	}{
		{"tier1", c.Models.Tier1},
		{"tier2", c.Models.Tier2},
	}
	for _, t := range tiers {
		tier, models := t.name, t.models
		for i, m := range models {
			if m.Name == "" {
				return fmt.Errorf("models.%s[%d]: name is required", tier, i)
			}
			if seen[m.Name] {
				return fmt.Errorf("models.%s[%d] %q: duplicate model name", tier, i, m.Name)
			}
			seen[m.Name] = true
			if m.RequestsPerMinute < 0 {
				return fmt.Errorf("models.%s[%d] %q: requests_per_minute cannot be negative", tier, i, m.Name)
			}
			if m.TokensPerMinute < 0 {
				return fmt.Errorf("models.%s[%d] %q: tokens_per_minute cannot be negative", tier, i, m.Name)
			}
		}
	}

	if c.Models.Forced != "" && !seen[c.Models.Forced] {
		return fmt.Errorf("models.forced %q is not a configured model", c.Models.Forced)
	}

	switch c.Quota.Backend {
	case "memory":
	case "redis":
		if c.Quota.Redis.Addr == "" {
			return fmt.Errorf("quota.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("quota.backend must be memory or redis, got %q", c.Quota.Backend)
	}

	switch c.Audit.Backend {
	case "memory":
	case "postgres":
		if c.Audit.PostgresDSN == "" {
			return fmt.Errorf("audit.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("audit.backend must be memory or postgres, got %q", c.Audit.Backend)
	}

	if c.Audit.S3Archive.Enabled && c.Audit.S3Archive.Bucket == "" {
		return fmt.Errorf("audit.s3_archive.bucket is required when archival is enabled")
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl cannot be negative")
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute cannot be negative")
	}

	return nil
}
