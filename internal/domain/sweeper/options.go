package sweeper

import (
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPenalizer charges officials for questions they let expire.
func WithPenalizer(p Penalizer) Option {
	return func(s *Sweeper) {
		s.penalizer = p
	}
}

// WithLease coordinates scheduled sweeps across replicas.
func WithLease(l Lease, ttl time.Duration) Option {
	return func(s *Sweeper) {
		s.lease = l
		if ttl > 0 {
			s.leaseTTL = ttl
		}
	}
}

// WithParallelism sets how many questions are expired at once.
func WithParallelism(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithBatchSize caps questions handled per sweep. Zero means no cap.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		if n >= 0 {
			s.batch = n
		}
	}
}

// WithSchedule sets the cron spec (seconds field included) for Start.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithRunTimeout bounds one scheduled sweep.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}
