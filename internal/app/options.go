package app

import (
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore injects a ledger store instead of opening the configured one.
// The service does not close an injected store.
func WithStore(st ledger.Store) Option {
	return func(s *Service) {
		s.store = st
		s.ownsStore = false
	}
}

// WithRedis injects a Redis client instead of dialing redis.url.
func WithRedis(c goredis.UniversalClient) Option {
	return func(s *Service) {
		s.redis = c
		s.ownsRedis = false
	}
}

// WithAnalyzer overrides the configured directness analyzer.
func WithAnalyzer(a questions.Analyzer) Option {
	return func(s *Service) {
		s.analyzer = a
	}
}

// WithClock replaces time.Now in every domain component.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
