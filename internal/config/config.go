// Package config parses and validates all application configuration from
// environment variables using caarlos0/env/v11.
//
// Call [Load] once at startup; pass the resulting [Config] to subcommands.
// The process exits if any field tagged "required" is missing.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Past-timestamp policies for SUBMIT_PAST_POLICY. The source schema accepted
// any timestamp without validation; here the behavior is an explicit choice.
const (
	// PastPolicyReject refuses scheduled_run_at older than now minus
	// SUBMIT_SKEW_TOLERANCE with a validation error.
	PastPolicyReject = "reject"
	// PastPolicyImmediate accepts any past timestamp as eligible-now.
	PastPolicyImmediate = "immediate"
)

// Config holds all application configuration sourced from environment variables.
type Config struct {
	// ── Database ─────────────────────────────────────────────────────────────
	DatabaseURL          string        `env:"DATABASE_URL,required"`
	DBMaxConns           int32         `env:"DB_MAX_CONNS"            envDefault:"25"`
	DBMaxConnIdleTime    time.Duration `env:"DB_MAX_CONN_IDLE_TIME"   envDefault:"5m"`
	DBStatementTimeoutMS int           `env:"DB_STATEMENT_TIMEOUT_MS" envDefault:"14000"`
	// DBQueryExecMode: "simple_protocol" (PgBouncer-compatible) or "extended_protocol".
	DBQueryExecMode string `env:"DB_QUERY_EXEC_MODE" envDefault:"simple_protocol"`

	// ── Server ───────────────────────────────────────────────────────────────
	ListenAddr             string `env:"LISTEN_ADDR"              envDefault:":8080"`
	AppEnv                 string `env:"APP_ENV"                  envDefault:"development"`
	ShutdownTimeoutSeconds int    `env:"SHUTDOWN_TIMEOUT_SECONDS" envDefault:"60"`

	// ── Submission ───────────────────────────────────────────────────────────
	// SubmitPastPolicy decides what a scheduled_run_at in the past means:
	// "reject" (validation error beyond the skew tolerance) or "immediate"
	// (treated as eligible now).
	SubmitPastPolicy    string        `env:"SUBMIT_PAST_POLICY"    envDefault:"reject"`
	SubmitSkewTolerance time.Duration `env:"SUBMIT_SKEW_TOLERANCE" envDefault:"1m"`
	DefaultMaxAttempts  int32         `env:"DEFAULT_MAX_ATTEMPTS"  envDefault:"3"`
	// Max accepted payload size in bytes; also the HTTP body limit.
	MaxPayloadBytes int `env:"MAX_PAYLOAD_BYTES" envDefault:"262144"`

	// ── Worker pool ──────────────────────────────────────────────────────────
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"4"`
	PollInterval      time.Duration `env:"POLL_INTERVAL"      envDefault:"2s"`
	ClaimBatchSize    int           `env:"CLAIM_BATCH_SIZE"   envDefault:"10"`
	BackoffBase       time.Duration `env:"BACKOFF_BASE"       envDefault:"5s"`
	BackoffMax        time.Duration `env:"BACKOFF_MAX"        envDefault:"10m"`
	LeaseDuration     time.Duration `env:"LEASE_DURATION"     envDefault:"5m"`
	ReapInterval      time.Duration `env:"REAP_INTERVAL"      envDefault:"1m"`

	// ── Rate limiting ────────────────────────────────────────────────────────
	// Submissions per minute per client IP on POST /api/v1/jobs.
	SubmitRatePerMinute int           `env:"SUBMIT_RATE_PER_MINUTE" envDefault:"120"`
	RateLimitEvictTTL   time.Duration `env:"RATE_LIMIT_EVICT_TTL"   envDefault:"15m"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load parses and returns Config from environment variables.
// Returns an error if any required field is missing or a value is malformed.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.SubmitPastPolicy != PastPolicyReject && cfg.SubmitPastPolicy != PastPolicyImmediate {
		return nil, fmt.Errorf("SUBMIT_PAST_POLICY must be %q or %q, got %q",
			PastPolicyReject, PastPolicyImmediate, cfg.SubmitPastPolicy)
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, fmt.Errorf("WORKER_CONCURRENCY must be >= 1, got %d", cfg.WorkerConcurrency)
	}
	return cfg, nil
}

// IsDevelopment reports whether the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
