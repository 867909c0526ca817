// Package worker applies release events to official ratings.
//
// A Processor handles one event: it drops duplicates by event id and feeds
// the performance sample to the rating engine. A Pool runs several workers
// draining an in-process queue through a shared Processor; the Redis stream
// consumer uses the same Processor.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/civicstake/internal/domain/dedupe"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	defaultWorkerMultiplier = 2
	poolShutdownTimeout     = 30 * time.Second
)

// ErrInvalidEvent rejects events without an id or official.
var ErrInvalidEvent = errors.New("invalid release event")

// Rater updates an official's belief after a release.
type Rater interface {
	UpdateOnResponse(ctx context.Context, officialID string, s model.PerformanceSample) (model.RatingBelief, error)
}

// Handler processes one release event.
type Handler interface {
	Process(ctx context.Context, ev model.ReleaseEvent) error
}

// Source delivers events to workers.
type Source interface {
	Dequeue(ctx context.Context) <-chan model.ReleaseEvent
}

// Processor implements Handler.
type Processor struct {
	rater  Rater
	dedupe dedupe.Deduper
	logger logger.Logger
}

var _ Handler = (*Processor)(nil)

// NewProcessor creates a Processor with an in-memory deduper by default.
func NewProcessor(r Rater, opts ...Option) *Processor {
	p := &Processor{
		rater:  r,
		dedupe: dedupe.NewInMemoryDeduper(),
		logger: logger.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies ev once. A failed update forgets the id so redelivery retries it.
func (p *Processor) Process(ctx context.Context, ev model.ReleaseEvent) error { //nolint:gocritic // hugeParam: events travel by value
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Milliseconds()))
	}()

	if ev.EventID == "" || ev.OfficialID == "" {
		metrics.RecordWorkerError()
		return fmt.Errorf("event %q: %w", ev.EventID, ErrInvalidEvent)
	}

	seen, err := p.dedupe.SeenAndRecord(ctx, ev.EventID)
	if err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("dedupe %s: %w", ev.EventID, err)
	}
	if seen {
		metrics.RecordReleaseEventDuplicate()
		p.logger.Debug(ctx, "duplicate release event dropped", logger.String("event_id", ev.EventID))
		return nil
	}

	b, err := p.rater.UpdateOnResponse(ctx, ev.OfficialID, ev.Sample())
	if err != nil {
		if uerr := p.dedupe.Unrecord(ctx, ev.EventID); uerr != nil {
			p.logger.Warn(ctx, "unrecord failed", logger.String("event_id", ev.EventID), logger.Error(uerr))
		}
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "rating_update")
		return fmt.Errorf("rate official %s for %s: %w", ev.OfficialID, ev.EventID, err)
	}

	p.logger.Info(ctx, "rating updated from release",
		logger.String("event_id", ev.EventID),
		logger.String("official_id", ev.OfficialID),
		logger.Float64("mu", b.Mu),
		logger.Float64("sigma", b.Sigma))
	return nil
}

// worker drains a Source until it closes or the pool stops.
type worker struct {
	name    string
	source  Source
	handler Handler
	logger  logger.Logger
	done    chan struct{}
}

func (w *worker) run(ctx context.Context, stop <-chan struct{}) {
	defer close(w.done)

	events := w.source.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := w.handler.Process(ctx, ev); err != nil {
				w.logger.Error(ctx, "error processing release event",
					logger.String("event_id", ev.EventID),
					logger.Error(err))
			}
		}
	}
}

// Pool manages multiple workers.
type Pool struct {
	workers  []*worker
	source   Source
	stop     chan struct{}
	stopOnce sync.Once
	logger   logger.Logger
}

// NewPool creates workerCount workers. workerCount < 1 picks a CPU-based default.
func NewPool(workerCount int, source Source, h Handler, log logger.Logger) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU() * defaultWorkerMultiplier
	}
	if log == nil {
		log = logger.NewNop()
	}
	p := &Pool{
		workers: make([]*worker, workerCount),
		source:  source,
		stop:    make(chan struct{}),
		logger:  log.Named("worker-pool"),
	}
	for i := range p.workers {
		name := "worker-" + strconv.Itoa(i)
		p.workers[i] = &worker{
			name:    name,
			source:  source,
			handler: h,
			logger:  log.Named(name),
			done:    make(chan struct{}),
		}
	}
	metrics.UpdateWorkerActiveCount(workerCount)
	return p
}

// Start launches every worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.run(ctx, p.stop)
	}
}

// Shutdown closes the source if it can be closed, lets workers drain what
// is buffered, and waits for them until ctx or the pool timeout ends.
func (p *Pool) Shutdown(ctx context.Context) error {
	closable, ok := p.source.(interface{ Close() error })
	if ok {
		if err := closable.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	// Without a closable source, workers never see end of input.
	if !ok {
		p.stopOnce.Do(func() { close(p.stop) })
	}

	var timedOut bool
	for _, w := range p.workers {
		select {
		case <-w.done:
		case <-waitCtx.Done():
			timedOut = true
			p.logger.Warn(ctx, "worker shutdown timed out", logger.String("worker", w.name))
		}
	}
	p.stopOnce.Do(func() { close(p.stop) })
	metrics.UpdateWorkerActiveCount(0)
	if timedOut {
		return fmt.Errorf("worker pool shutdown: %w", waitCtx.Err())
	}
	return nil
}
