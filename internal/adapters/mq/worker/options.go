package worker

import (
	"github.com/okian/civicstake/internal/domain/dedupe"
	"github.com/okian/civicstake/pkg/logger"
)

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithDeduper replaces the default in-memory deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(p *Processor) {
		if d != nil {
			p.dedupe = d
		}
	}
}
