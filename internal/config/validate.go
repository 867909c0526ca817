package config

import (
	"fmt"
	"strings"
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.Store != KindMemory && c.Store != KindPostgres:
		return invalid("unknown store %q", c.Store)
	case c.Store == KindPostgres && c.Postgres.DSN == "":
		return invalid("postgres.dsn is required for the postgres store")
	case c.EventBus != KindMemory && c.EventBus != KindRedis:
		return invalid("unknown event_bus %q", c.EventBus)
	case c.EventBus == KindRedis && c.Redis.URL == "":
		return invalid("redis.url is required for the redis event bus")
	case c.LogFormat != "text" && c.LogFormat != "json":
		return invalid("unknown log_format %q", c.LogFormat)
	case c.Policy.AIThreshold < 0 || c.Policy.AIThreshold > 100:
		return invalid("policy.ai_threshold %v outside [0,100]", c.Policy.AIThreshold)
	case c.Policy.HelpfulFraction < 0 || c.Policy.HelpfulFraction >= 1:
		return invalid("policy.helpful_fraction %v outside [0,1)", c.Policy.HelpfulFraction)
	case c.Policy.MinVotes < 1:
		return invalid("policy.min_votes must be at least 1")
	case c.WorkerCount < 1:
		return invalid("worker_count must be positive")
	case c.QueuePublishWait < 0:
		return invalid("queue_publish_wait must not be negative")
	case c.EventQueueSize < 1:
		return invalid("queue_size must be positive")
	case c.MaxLeaderboardLimit < 1:
		return invalid("max_leaderboard_limit must be positive")
	case c.InitialPoints < 0:
		return invalid("initial_points must not be negative")
	case c.MaxPurchase < 1:
		return invalid("max_purchase must be positive")
	case c.EscrowTimeout <= 0:
		return invalid("escrow_timeout must be positive")
	case c.Rating.DefaultSigma <= 0 || c.Rating.OpponentSigma <= 0:
		return invalid("rating sigmas must be positive")
	case c.Sweeper.Parallelism < 1:
		return invalid("sweeper.parallelism must be positive")
	case c.Sweeper.BatchSize < 0:
		return invalid("sweeper.batch_size must not be negative")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
