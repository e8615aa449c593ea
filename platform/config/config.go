// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// CacheConfig provides Redis connection settings.
type CacheConfig interface {
	GetRedisURL() string
}

// LeaseConfig provides advisor-session lease settings.
type LeaseConfig interface {
	GetLeaseTTL() time.Duration
	GetSweepInterval() time.Duration
}

// SchedulerConfig provides settings for the background task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// Config holds all application configuration.
type Config struct {
	Env              string
	HTTPAddr         string
	DatabaseURL      string
	RedisURL         string
	LeaseTTL         time.Duration
	SweepInterval    time.Duration
	AsynqQueueName   string
	AsynqConcurrency int
	CORSAllowAll     bool
	CORSOrigins      []string
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	leaseTTL, err := envDuration("LEASE_TTL", "120s")
	if err != nil {
		return nil, err
	}
	sweepInterval, err := envDuration("LEASE_SWEEP_INTERVAL", "30s")
	if err != nil {
		return nil, err
	}
	asynqConcurrency, err := envInt("ASYNQ_CONCURRENCY", "10")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:              getEnv("APP_ENV", "development"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		RedisURL:         getEnv("REDIS_URL", "redis://localhost:6379/0"),
		LeaseTTL:         leaseTTL,
		SweepInterval:    sweepInterval,
		AsynqQueueName:   getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency: asynqConcurrency,
		CORSAllowAll:     corsAllowAll,
		CORSOrigins:      corsOrigins,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.LeaseTTL <= 0 {
		return nil, fmt.Errorf("LEASE_TTL must be a positive duration")
	}
	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("LEASE_SWEEP_INTERVAL must be a positive duration")
	}

	return cfg, nil
}

// Interface implementations.

func (c *Config) GetDatabaseURL() string            { return c.DatabaseURL }
func (c *Config) GetRedisURL() string               { return c.RedisURL }
func (c *Config) GetLeaseTTL() time.Duration        { return c.LeaseTTL }
func (c *Config) GetSweepInterval() time.Duration   { return c.SweepInterval }
func (c *Config) GetAsynqQueueName() string         { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int          { return c.AsynqConcurrency }
func (c *Config) GetHTTPAddr() string               { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool             { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string          { return c.CORSOrigins }

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	value := getEnv(key, fallback)
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return d, nil
}

func envInt(key, fallback string) (int, error) {
	value := getEnv(key, fallback)
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return n, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
