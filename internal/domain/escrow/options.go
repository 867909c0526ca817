package escrow

import (
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Ledger) {
		if l != nil {
			e.log = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Ledger) {
		if now != nil {
			e.now = now
		}
	}
}

// WithDefaultCharity sets the sink used when Release is called without a charity.
func WithDefaultCharity(id string) Option {
	return func(e *Ledger) {
		if id != "" {
			e.defaultCharity = id
		}
	}
}

// WithMaxPurchase caps a single Credit call.
func WithMaxPurchase(points int64) Option {
	return func(e *Ledger) {
		if points > 0 {
			e.maxPurchase = points
		}
	}
}

// WithInitialPoints sets the balance granted on registration.
func WithInitialPoints(points int64) Option {
	return func(e *Ledger) {
		if points >= 0 {
			e.initialPoints = points
		}
	}
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Ledger) {
		if fn != nil {
			e.newID = fn
		}
	}
}
