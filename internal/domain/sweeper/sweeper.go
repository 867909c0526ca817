// Package sweeper refunds questions that reached their deadline unanswered.
//
// Each question is expired in its own transaction that re-checks the
// question under its lock, so an answer committed mid-sweep is never
// refunded. Questions are processed in parallel on a bounded pool; one
// failing question is logged and the rest of the sweep continues.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/robfig/cron/v3"

	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	defaultSchedule    = "0 0 3 * * *"
	defaultParallelism = 8
	defaultRunTimeout  = 5 * time.Minute
	defaultLeaseTTL    = 10 * time.Minute
	queueFactor        = 16

	leaseKey = "civicstake:sweeper"
)

// Penalizer charges an official for an ignored question.
type Penalizer interface {
	PenalizeIgnored(ctx context.Context, officialID string, bounty int64, daysIgnored float64) (model.RatingBelief, error)
}

// Lease elects one replica per scheduled run.
type Lease interface {
	// TryAcquire returns ok=false without error when another holder owns key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}

// Result summarizes one sweep.
type Result struct {
	Questions int `json:"questions"`
	Expired   int `json:"expired"`
	Refunded  int `json:"refunded_entries"`
	Failures  int `json:"failures"`
}

// Sweeper expires overdue questions.
type Sweeper struct {
	ledger    *escrow.Ledger
	store     ledger.Store
	penalizer Penalizer
	lease     Lease
	pool      pond.Pool
	cron      *cron.Cron
	log       logger.Logger
	now       func() time.Time

	schedule    string
	runTimeout  time.Duration
	leaseTTL    time.Duration
	parallelism int
	batch       int
}

// New creates a Sweeper and its worker pool. Call Close to release the pool.
func New(l *escrow.Ledger, opts ...Option) *Sweeper {
	s := &Sweeper{
		ledger:      l,
		store:       l.Store(),
		log:         logger.NewNop(),
		now:         time.Now,
		schedule:    defaultSchedule,
		runTimeout:  defaultRunTimeout,
		leaseTTL:    defaultLeaseTTL,
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.pool = pond.NewPool(s.parallelism, pond.WithQueueSize(s.parallelism*queueFactor))
	return s
}

// SweepExpired refunds every overdue unanswered question and returns the
// number of refunded entries.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	res, err := s.Sweep(ctx)
	return res.Refunded, err
}

// Sweep is SweepExpired with a full breakdown.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := time.Now()
	now := s.now().UTC()

	due, err := s.store.ExpiredQuestions(ctx, now, s.batch)
	if err != nil {
		return Result{}, fmt.Errorf("list expired questions: %w", err)
	}

	var (
		expired  atomic.Int64
		refunded atomic.Int64
		failures atomic.Int64
	)
	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, q := range due {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				failures.Add(1)
				return
			}
			n, ok, err := s.expire(groupCtx, q.ID, now)
			if err != nil {
				failures.Add(1)
				metrics.RecordErrorByComponent("sweeper", "expire")
				s.log.Error(groupCtx, "expire question failed",
					logger.String("question_id", q.ID),
					logger.Error(err))
				return
			}
			if ok {
				expired.Add(1)
				refunded.Add(int64(n))
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		s.log.Warn(ctx, "sweep group ended with error", logger.Error(err))
	}

	res := Result{
		Questions: len(due),
		Expired:   int(expired.Load()),
		Refunded:  int(refunded.Load()),
		Failures:  int(failures.Load()),
	}
	metrics.RecordSweep(float64(time.Since(start).Milliseconds()), res.Expired, res.Failures)
	s.log.Info(ctx, "sweep finished",
		logger.Int("questions", res.Questions),
		logger.Int("expired", res.Expired),
		logger.Int("refunded_entries", res.Refunded),
		logger.Int("failures", res.Failures),
		logger.Duration("took", time.Since(start)))
	return res, nil
}

// expire refunds and closes one question. ok is false when the question
// was answered or otherwise left the open state since it was listed.
func (s *Sweeper) expire(ctx context.Context, questionID string, now time.Time) (int, bool, error) {
	var (
		q       model.Question
		settled escrow.Settlement
		skipped bool
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		q, err = tx.LockQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if !q.Expired(now) {
			skipped = true
			return nil
		}
		_, err = tx.AnswerForQuestion(ctx, questionID)
		switch {
		case err == nil:
			skipped = true
			return nil
		case !errors.Is(err, ledger.ErrNotFound):
			return err
		}

		settled, err = s.ledger.RefundTx(ctx, tx, questionID)
		if err != nil {
			return err
		}
		return tx.SetQuestionStatus(ctx, questionID, model.QuestionExpired)
	})
	if err != nil {
		return 0, false, err
	}
	if skipped {
		return 0, false, nil
	}

	if settled.Entries > 0 {
		metrics.RecordRefund(settled.Entries, settled.Points)
	}
	s.log.Info(ctx, "question expired",
		logger.String("question_id", questionID),
		logger.Int("refunded_entries", settled.Entries),
		logger.Int64("refunded_points", settled.Points))

	s.penalize(ctx, q, now)
	return settled.Entries, true, nil
}

func (s *Sweeper) penalize(ctx context.Context, q model.Question, now time.Time) {
	if s.penalizer == nil || q.TotalBounty <= 0 {
		return
	}
	days := now.Sub(q.CreatedAt).Hours() / 24
	if _, err := s.penalizer.PenalizeIgnored(ctx, q.OfficialID, q.TotalBounty, days); err != nil {
		s.log.Warn(ctx, "ignore penalty not applied",
			logger.String("question_id", q.ID),
			logger.String("official_id", q.OfficialID),
			logger.Error(err))
	}
}

// Start runs Sweep on the configured cron schedule until Close.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cronLogger{log: s.log})))
	_, err := s.cron.AddFunc(s.schedule, func() {
		rctx, cancel := context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
		s.runScheduled(rctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweeper %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.log.Info(ctx, "sweeper scheduled", logger.String("schedule", s.schedule))
	return nil
}

func (s *Sweeper) runScheduled(ctx context.Context) {
	if s.lease != nil {
		release, ok, err := s.lease.TryAcquire(ctx, leaseKey, s.leaseTTL)
		if err != nil {
			s.log.Error(ctx, "sweep lease unavailable", logger.Error(err))
			return
		}
		if !ok {
			metrics.RecordSweepLeaseSkip()
			s.log.Debug(ctx, "sweep lease held elsewhere")
			return
		}
		defer release()
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.log.Error(ctx, "scheduled sweep failed", logger.Error(err))
	}
}

// Close stops the schedule, waits for a running sweep, and stops the pool.
func (s *Sweeper) Close() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.pool.StopAndWait()
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug(context.Background(), msg, logger.Any("details", keysAndValues))
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error(context.Background(), msg, logger.Error(err), logger.Any("details", keysAndValues))
}
