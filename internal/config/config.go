// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Defaults live in New; Load layers a YAML file and the environment on top.
// - Nested sections map to nested YAML keys and to env vars joined by "__".
// - Validation failures wrap ErrInvalidConfig.
package config

import (
	"runtime"
	"time"
)

// Store and bus kinds.
const (
	KindMemory   = "memory"
	KindPostgres = "postgres"
	KindRedis    = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects "text" or "json" output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the ledger backend: memory or postgres.
	Store        string         `koanf:"store"`
	StoreTimeout time.Duration  `koanf:"store_timeout"`
	Postgres     PostgresConfig `koanf:"postgres"`

	// EventBus selects how release events reach the rating engine: memory or redis.
	EventBus string      `koanf:"event_bus"`
	Redis    RedisConfig `koanf:"redis"`

	// EventQueueSize bounds the in-memory release event queue.
	EventQueueSize int `koanf:"queue_size"`
	// QueuePublishWait bounds how long a release waits for room in a full queue.
	QueuePublishWait time.Duration `koanf:"queue_publish_wait"`
	// WorkerCount sets the number of rating workers.
	WorkerCount int `koanf:"worker_count"`
	// DedupeSize bounds the in-memory release event deduplication window.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	InitialPoints  int64         `koanf:"initial_points"`
	MaxPurchase    int64         `koanf:"max_purchase"`
	EscrowTimeout  time.Duration `koanf:"escrow_timeout"`
	DefaultCharity string        `koanf:"default_charity"`

	Policy  PolicyConfig  `koanf:"policy"`
	Rating  RatingConfig  `koanf:"rating"`
	Sweeper SweeperConfig `koanf:"sweeper"`
	AI      AIConfig      `koanf:"ai"`
}

// PostgresConfig configures the durable ledger.
type PostgresConfig struct {
	DSN      string `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
}

// RedisConfig configures the stream bus and the sweep lease.
type RedisConfig struct {
	URL    string `koanf:"url"`
	Stream string `koanf:"stream"`
	Group  string `koanf:"group"`
	// ClaimIdle is how long a release entry may stay unacknowledged before
	// the group retries it.
	ClaimIdle time.Duration `koanf:"claim_idle"`
}

// PolicyConfig holds the release thresholds.
type PolicyConfig struct {
	AIThreshold     float64 `koanf:"ai_threshold"`
	MinVotes        int     `koanf:"min_votes"`
	HelpfulFraction float64 `koanf:"helpful_fraction"`
}

// RatingConfig holds the belief prior and the virtual opponent.
type RatingConfig struct {
	DefaultMu     float64 `koanf:"default_mu"`
	DefaultSigma  float64 `koanf:"default_sigma"`
	OpponentMu    float64 `koanf:"opponent_mu"`
	OpponentSigma float64 `koanf:"opponent_sigma"`
	MaxRetries    int     `koanf:"max_retries"`
}

// SweeperConfig configures the expiry sweep.
type SweeperConfig struct {
	// Schedule is a cron expression with a seconds field. Empty disables the schedule.
	Schedule    string        `koanf:"schedule"`
	Timeout     time.Duration `koanf:"timeout"`
	Parallelism int           `koanf:"parallelism"`
	// BatchSize caps the questions settled per run. Zero settles all.
	BatchSize       int           `koanf:"batch_size"`
	PenalizeIgnored bool          `koanf:"penalize_ignored"`
	LeaseTTL        time.Duration `koanf:"lease_ttl"`
}

// AIConfig configures the directness analyzer. An empty APIKey disables it.
type AIConfig struct {
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		Store:               KindMemory,
		StoreTimeout:        5 * time.Second,
		Postgres:            PostgresConfig{MaxConns: 32},
		EventBus:            KindMemory,
		Redis:               RedisConfig{Stream: "civicstake:releases", Group: "rating", ClaimIdle: 30 * time.Second},
		EventQueueSize:      10_000,
		QueuePublishWait:    2 * time.Second,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          50_000,
		MaxLeaderboardLimit: 100,
		InitialPoints:       100,
		MaxPurchase:         1000,
		EscrowTimeout:       14 * 24 * time.Hour,
		DefaultCharity:      "default_charity",
		Policy: PolicyConfig{
			AIThreshold:     70,
			MinVotes:        1,
			HelpfulFraction: 0.5,
		},
		Rating: RatingConfig{
			DefaultMu:     25,
			DefaultSigma:  8.333,
			OpponentMu:    25,
			OpponentSigma: 8.333,
			MaxRetries:    5,
		},
		Sweeper: SweeperConfig{
			Schedule:        "0 */5 * * * *",
			Timeout:         2 * time.Minute,
			Parallelism:     8,
			BatchSize:       500,
			PenalizeIgnored: true,
			LeaseTTL:        4 * time.Minute,
		},
		AI: AIConfig{
			Model:   "gemini-2.0-flash",
			Timeout: 10 * time.Second,
		},
	}
}
