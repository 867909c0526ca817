package questions

import (
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAnalyzer sets the AI directness analyzer. Without one every answer
// is evaluated on votes only.
func WithAnalyzer(a Analyzer) Option {
	return func(s *Service) {
		s.analyzer = a
	}
}

// WithAnalyzerTimeout bounds a single analysis call.
func WithAnalyzerTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.aiTimeout = d
		}
	}
}

// WithEscrowTimeout sets how long a question accepts stakes and answers.
func WithEscrowTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.escrowTimeout = d
		}
	}
}

// WithIDGenerator replaces uuid generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.newID = fn
		}
	}
}
