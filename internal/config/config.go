// Package config loads the engine's environment-driven settings: typed
// getEnv helpers with explicit defaults, no third-party config
// framework.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every recognized environment option from SPEC_FULL §6/§10.
type Config struct {
	Port string
	Host string

	// Store DSN. A DatabaseURL without a postgres:// or postgresql://
	// scheme (including empty) falls back to a local sqlite file at
	// DatabasePath.
	DatabaseURL  string
	DatabasePath string

	// Queue substrate (redis) URL, supporting a TLS variant via scheme.
	QueueURL string

	QueueMaxConcurrency     int
	QueueRateLimitPerMinute int
	WSWorkerConcurrency     int
	WSWorkerRateLimitPerMin int

	// IdleTimeout is not configurable in the source system but should be
	// (per SPEC_FULL §6); exposed here as ORDER_IDLE_TIMEOUT.
	IdleTimeout time.Duration

	ConfirmationTimeout time.Duration
	SnapshotDelay       time.Duration

	Debug bool
}

// Load reads Config from the process environment, applying defaults for
// every unset option.
func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "3000"),
		Host: getEnv("HOST", "0.0.0.0"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabasePath: getEnv("DATABASE_PATH", "data/engine.db"),

		QueueURL: getEnv("QUEUE_URL", "redis://localhost:6379/0"),

		QueueMaxConcurrency:     getEnvInt("QUEUE_MAX_CONCURRENCY", 10),
		QueueRateLimitPerMinute: getEnvInt("QUEUE_RATE_LIMIT_PER_MINUTE", 100),
		WSWorkerConcurrency:     getEnvInt("WS_WORKER_CONCURRENCY", 50),
		WSWorkerRateLimitPerMin: getEnvInt("WS_WORKER_RATE_LIMIT", 1000),

		IdleTimeout:         getEnvDuration("ORDER_IDLE_TIMEOUT", 15*time.Minute),
		ConfirmationTimeout: getEnvDuration("CONFIRMATION_TIMEOUT", 60*time.Second),
		SnapshotDelay:       getEnvDuration("SNAPSHOT_DELAY", 300*time.Millisecond),

		Debug: getEnvBool("DEBUG", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
