package rating

import (
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaultBelief sets the prior for officials never rated before.
func WithDefaultBelief(mu, sigma float64) Option {
	return func(e *Engine) {
		if sigma > 0 {
			e.prior = gaussian{mu: mu, sigma: sigma}
		}
	}
}

// WithOpponent sets the virtual opponent a good response is scored against.
func WithOpponent(mu, sigma float64) Option {
	return func(e *Engine) {
		if sigma > 0 {
			e.opponent = gaussian{mu: mu, sigma: sigma}
		}
	}
}

// WithMaxRetries bounds compare-and-swap attempts per update.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.retry.MaxRetries = n
		}
	}
}

// WithRanker registers a ranking index refreshed after every change.
func WithRanker(r Ranker) Option {
	return func(e *Engine) {
		e.ranker = r
	}
}
