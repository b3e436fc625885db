// Package config loads coordinator configuration from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment tier the process is running in.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds every runtime-tunable setting for the coordinator.
type Config struct {
	Environment Environment `yaml:"environment"`

	// ListenAddr is the address the HTTP API binds to.
	ListenAddr string `yaml:"listen_addr"`

	// DatabaseDSN is the Postgres connection string. Empty means the
	// in-memory store is used instead.
	DatabaseDSN       string        `yaml:"database_dsn"`
	DBMaxConnections  int           `yaml:"db_max_connections"`
	DBConnMaxIdleTime time.Duration `yaml:"db_conn_max_idle_time"`

	// StaleAfter is how long a worker may go without a heartbeat before the
	// registry considers it stale and eligible for pruning.
	StaleAfter time.Duration `yaml:"worker_stale_after"`

	// ReclaimGrace is the minimum grace period given to a claimed block
	// before the scheduler will consider it abandoned and reclaim it. The
	// effective grace is max(ReclaimGrace, 3*block.EstimatedSeconds).
	ReclaimGrace time.Duration `yaml:"block_reclaim_grace"`
	// ReclaimInterval controls how often the reclaim sweep runs.
	ReclaimInterval time.Duration `yaml:"block_reclaim_interval"`

	// VerificationPoolSize bounds how many certificates the verification
	// pipeline checks concurrently.
	VerificationPoolSize int `yaml:"verification_pool_size"`
	// VerificationDispatchInterval controls how often the verification
	// pipeline drains the unverified-prime queue into its worker pool.
	VerificationDispatchInterval time.Duration `yaml:"verification_dispatch_interval"`

	// CostModelRefitInterval controls how often the cost model recomputes
	// its power-law fit from recent observations.
	CostModelRefitInterval time.Duration `yaml:"cost_model_refit_interval"`
	// CostModelMinObservations is the minimum sample count required before
	// a refit replaces the default estimate.
	CostModelMinObservations int `yaml:"cost_model_min_observations"`

	// DefaultChannel is the rollout channel assigned to workers that have
	// never resolved a release before.
	DefaultChannel string `yaml:"default_channel"`
	// ReleaseAutoAdvanceSchedule is a cron expression on which the release
	// engine widens every channel's rollout percent by ReleaseAutoAdvanceStep.
	// Empty disables auto-advance.
	ReleaseAutoAdvanceSchedule string `yaml:"release_auto_advance_schedule"`
	// ReleaseAutoAdvanceStep is the percentage-point step applied each time
	// auto-advance fires.
	ReleaseAutoAdvanceStep int `yaml:"release_auto_advance_step"`

	// WorkerTokenSecret, when set, is used to derive per-worker bearer
	// tokens via HKDF. Empty disables bearer-token verification.
	WorkerTokenSecret string `yaml:"worker_token_secret"`

	// MaxRequestBodyBytes bounds the size of HTTP request bodies accepted
	// by the worker-facing API.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`
	// RateLimitPerSecond and RateLimitBurst configure the per-worker
	// token-bucket rate limiter in front of the HTTP API.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr"`
}

// Load reads configuration from the environment, optionally seeded by a
// dotenv file named after COORDINATOR_ENV (defaults to development).
func Load() (*Config, error) {
	env := Environment(getEnv("COORDINATOR_ENV", string(Development)))

	envFile := fmt.Sprintf("config/%s.env", env)
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Environment:                  env,
		ListenAddr:                   getEnv("LISTEN_ADDR", ":8080"),
		DatabaseDSN:                  getEnv("DATABASE_DSN", ""),
		DBMaxConnections:             getIntEnv("DB_MAX_CONNECTIONS", 10),
		DBConnMaxIdleTime:            getDurationEnv("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		StaleAfter:                   getDurationEnv("WORKER_STALE_AFTER", 90*time.Second),
		ReclaimGrace:                 getDurationEnv("BLOCK_RECLAIM_GRACE", 5*time.Minute),
		ReclaimInterval:              getDurationEnv("BLOCK_RECLAIM_INTERVAL", 30*time.Second),
		VerificationPoolSize:         getIntEnv("VERIFICATION_POOL_SIZE", 4),
		VerificationDispatchInterval: getDurationEnv("VERIFICATION_DISPATCH_INTERVAL", 15*time.Second),
		CostModelRefitInterval:       getDurationEnv("COST_MODEL_REFIT_INTERVAL", 10*time.Minute),
		CostModelMinObservations:     getIntEnv("COST_MODEL_MIN_OBSERVATIONS", 20),
		DefaultChannel:               getEnv("DEFAULT_CHANNEL", "stable"),
		ReleaseAutoAdvanceSchedule:   getEnv("RELEASE_AUTO_ADVANCE_SCHEDULE", ""),
		ReleaseAutoAdvanceStep:       getIntEnv("RELEASE_AUTO_ADVANCE_STEP", 10),
		WorkerTokenSecret:            getEnv("WORKER_TOKEN_SECRET", ""),
		MaxRequestBodyBytes:          int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1<<20)),
		RateLimitPerSecond:           getFloatEnv("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:               getIntEnv("RATE_LIMIT_BURST", 20),
		LogLevel:                     getEnv("LOG_LEVEL", "info"),
		LogFormat:                    getEnv("LOG_FORMAT", "text"),
		MetricsEnabled:               getBoolEnv("METRICS_ENABLED", true),
		MetricsAddr:                  getEnv("METRICS_ADDR", ":9090"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads environment-derived defaults via Load, then overlays any
// field present in the YAML file at path. A missing file is not an error:
// callers use this for an optional operator-supplied override on top of
// the environment, not as a replacement for it.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	switch c.Environment {
	case Development, Testing, Production:
	default:
		return fmt.Errorf("unknown environment %q", c.Environment)
	}

	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("worker stale-after duration must be positive")
	}
	if c.ReclaimGrace <= 0 {
		return fmt.Errorf("block reclaim grace must be positive")
	}
	if c.VerificationPoolSize <= 0 {
		return fmt.Errorf("verification pool size must be positive")
	}
	if c.CostModelMinObservations < 0 {
		return fmt.Errorf("cost model minimum observations must not be negative")
	}
	if c.DefaultChannel == "" {
		return fmt.Errorf("default channel must not be empty")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("max request body size must be positive")
	}

	if c.Environment == Production && c.DatabaseDSN == "" {
		return fmt.Errorf("production environment requires DATABASE_DSN")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloatEnv(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
