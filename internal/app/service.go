// Package app assembles the ledger, the rating pipeline, and the sweeper
// into the service the HTTP API depends on.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/civicstake/internal/adapters/analyzer"
	eventqueue "github.com/okian/civicstake/internal/adapters/mq/queue"
	"github.com/okian/civicstake/internal/adapters/mq/stream"
	workerpool "github.com/okian/civicstake/internal/adapters/mq/worker"
	"github.com/okian/civicstake/internal/adapters/repository"
	"github.com/okian/civicstake/internal/adapters/store/memory"
	"github.com/okian/civicstake/internal/adapters/store/postgres"
	"github.com/okian/civicstake/internal/config"
	"github.com/okian/civicstake/internal/domain/dedupe"
	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/policy"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/internal/domain/rating"
	"github.com/okian/civicstake/internal/domain/sweeper"
	platformredis "github.com/okian/civicstake/internal/platform/redis"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	stopTimeout  = 30 * time.Second
	dedupePrefix = "civicstake:release-seen:"
)

// ErrNotStarted is returned by operations called before Start.
var ErrNotStarted = errors.New("service not started")

// Service implements the API dependencies for the escrow system.
type Service struct {
	mu  sync.RWMutex
	cfg config.Config

	store     ledger.Store
	ownsStore bool
	redis     goredis.UniversalClient
	ownsRedis bool
	analyzer  questions.Analyzer
	now       func() time.Time

	ledger      *escrow.Ledger
	rating      *rating.Engine
	leaderboard *repository.TreapStore
	policy      *policy.Engine
	questions   *questions.Service
	sweeper     *sweeper.Sweeper

	// memory bus
	queue *eventqueue.InMemoryQueue
	pool  *workerpool.Pool
	// redis bus
	consumerCancel context.CancelFunc
	consumerDone   chan struct{}

	deduper dedupe.Deduper
	started bool
	logger  logger.Logger
}

// New constructs a Service from cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{
		cfg:       *cfg,
		ownsStore: true,
		ownsRedis: true,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	return s
}

// Start opens the configured backends, rebuilds the leaderboard, and
// starts the release pipeline and the sweep schedule.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting civicstake service...")

	if err := s.openBackends(ctx); err != nil {
		s.closeBackends(ctx)
		return err
	}
	if err := s.buildDomain(ctx); err != nil {
		s.closeBackends(ctx)
		return err
	}
	if err := s.startPipeline(ctx); err != nil {
		s.closeBackends(ctx)
		return err
	}

	if s.cfg.Sweeper.Schedule != "" {
		if err := s.sweeper.Start(ctx); err != nil {
			s.stopPipeline(ctx)
			s.sweeper.Close()
			s.closeBackends(ctx)
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	s.started = true
	s.logger.Info(ctx, "civicstake service started",
		logger.String("store", s.cfg.Store),
		logger.String("event_bus", s.cfg.EventBus),
		logger.Int("workers", s.cfg.WorkerCount),
		logger.Bool("ai_enabled", s.analyzer != nil),
	)
	return nil
}

func (s *Service) openBackends(ctx context.Context) error {
	if s.store == nil {
		switch s.cfg.Store {
		case config.KindPostgres:
			st, err := postgres.Open(ctx, postgres.Config{
				DSN:       s.cfg.Postgres.DSN,
				MaxConns:  s.cfg.Postgres.MaxConns,
				TxTimeout: s.cfg.StoreTimeout,
			}, s.logger.Named("postgres"))
			if err != nil {
				return fmt.Errorf("open postgres ledger: %w", err)
			}
			s.store = st
		default:
			s.store = memory.New(memory.WithTxTimeout(s.cfg.StoreTimeout))
		}
	}

	if s.redis == nil && s.cfg.Redis.URL != "" {
		c, err := platformredis.Open(ctx, s.cfg.Redis.URL, s.logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("open redis: %w", err)
		}
		s.redis = c
	}
	if s.cfg.EventBus == config.KindRedis && s.redis == nil {
		return fmt.Errorf("%w: redis event bus without a redis client", config.ErrInvalidConfig)
	}

	if s.analyzer == nil && s.cfg.AI.APIKey != "" {
		g, err := analyzer.NewGemini(ctx, s.cfg.AI.APIKey, s.cfg.AI.Model)
		if err != nil {
			return fmt.Errorf("create analyzer: %w", err)
		}
		s.analyzer = g
	}
	return nil
}

func (s *Service) buildDomain(ctx context.Context) error {
	s.leaderboard = repository.NewTreapStore()

	s.ledger = escrow.New(s.store,
		escrow.WithLogger(s.logger.Named("escrow")),
		escrow.WithClock(s.now),
		escrow.WithDefaultCharity(s.cfg.DefaultCharity),
		escrow.WithMaxPurchase(s.cfg.MaxPurchase),
		escrow.WithInitialPoints(s.cfg.InitialPoints),
	)

	s.rating = rating.New(s.store,
		rating.WithLogger(s.logger.Named("rating")),
		rating.WithClock(s.now),
		rating.WithDefaultBelief(s.cfg.Rating.DefaultMu, s.cfg.Rating.DefaultSigma),
		rating.WithOpponent(s.cfg.Rating.OpponentMu, s.cfg.Rating.OpponentSigma),
		rating.WithMaxRetries(s.cfg.Rating.MaxRetries),
		rating.WithRanker(s.leaderboard),
	)
	n, err := s.rating.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild leaderboard: %w", err)
	}
	metrics.UpdateOfficialsRanked(n)

	var publisher policy.Publisher
	switch s.cfg.EventBus {
	case config.KindRedis:
		publisher = stream.NewPublisher(s.redis, s.cfg.Redis.Stream)
		s.deduper = platformredis.NewDeduper(s.redis, dedupePrefix, 0)
	default:
		s.queue = eventqueue.NewInMemoryQueue(
			eventqueue.WithCapacity(s.cfg.EventQueueSize),
			eventqueue.WithPublishWait(s.cfg.QueuePublishWait))
		publisher = s.queue
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.cfg.DedupeSize))
	}

	s.policy = policy.New(s.store, s.ledger,
		policy.WithLogger(s.logger.Named("policy")),
		policy.WithClock(s.now),
		policy.WithThresholds(policy.Thresholds{
			AIThreshold:     s.cfg.Policy.AIThreshold,
			MinVotes:        s.cfg.Policy.MinVotes,
			HelpfulFraction: s.cfg.Policy.HelpfulFraction,
		}),
		policy.WithPublisher(publisher),
	)

	qopts := []questions.Option{
		questions.WithLogger(s.logger.Named("questions")),
		questions.WithClock(s.now),
		questions.WithEscrowTimeout(s.cfg.EscrowTimeout),
		questions.WithAnalyzerTimeout(s.cfg.AI.Timeout),
	}
	if s.analyzer != nil {
		qopts = append(qopts, questions.WithAnalyzer(s.analyzer))
	}
	s.questions = questions.New(s.ledger, s.policy, qopts...)

	sopts := []sweeper.Option{
		sweeper.WithLogger(s.logger.Named("sweeper")),
		sweeper.WithClock(s.now),
		sweeper.WithParallelism(s.cfg.Sweeper.Parallelism),
		sweeper.WithRunTimeout(s.cfg.Sweeper.Timeout),
		sweeper.WithBatchSize(s.cfg.Sweeper.BatchSize),
	}
	if s.cfg.Sweeper.Schedule != "" {
		sopts = append(sopts, sweeper.WithSchedule(s.cfg.Sweeper.Schedule))
	}
	if s.cfg.Sweeper.PenalizeIgnored {
		sopts = append(sopts, sweeper.WithPenalizer(s.rating))
	}
	if s.redis != nil {
		sopts = append(sopts, sweeper.WithLease(platformredis.NewLease(s.redis, s.logger.Named("lease")), s.cfg.Sweeper.LeaseTTL))
	}
	s.sweeper = sweeper.New(s.ledger, sopts...)
	return nil
}

func (s *Service) startPipeline(ctx context.Context) error {
	proc := workerpool.NewProcessor(s.rating,
		workerpool.WithLogger(s.logger.Named("release-processor")),
		workerpool.WithDeduper(s.deduper),
	)

	if s.cfg.EventBus == config.KindRedis {
		consumer := stream.NewConsumer(s.redis, stream.ConsumerConfig{
			Stream:    s.cfg.Redis.Stream,
			Group:     s.cfg.Redis.Group,
			ClaimIdle: s.cfg.Redis.ClaimIdle,
		}, proc, s.logger.Named("release-stream"))

		// The consumer outlives the Start call.
		cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.consumerCancel = cancel
		s.consumerDone = make(chan struct{})
		go func() {
			defer close(s.consumerDone)
			if err := consumer.Run(cctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error(cctx, "release stream consumer stopped", logger.Error(err))
			}
		}()
		return nil
	}

	s.pool = workerpool.NewPool(s.cfg.WorkerCount, s.queue, proc, s.logger)
	s.pool.Start(context.WithoutCancel(ctx))
	return nil
}

func (s *Service) stopPipeline(ctx context.Context) {
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool did not drain", logger.Error(err))
		}
		s.pool = nil
	}
	if s.consumerCancel != nil {
		s.consumerCancel()
		select {
		case <-s.consumerDone:
		case <-ctx.Done():
			s.logger.Warn(ctx, "release stream consumer did not stop in time")
		}
		s.consumerCancel = nil
	}
}

func (s *Service) closeBackends(ctx context.Context) {
	if s.redis != nil && s.ownsRedis {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn(ctx, "error closing redis", logger.Error(err))
		}
		s.redis = nil
	}
	if s.store != nil && s.ownsStore {
		if err := s.store.Close(); err != nil {
			s.logger.Warn(ctx, "error closing ledger store", logger.Error(err))
		}
		s.store = nil
	}
}

// Stop halts the schedule, drains pending release events, and closes
// the backends the service opened.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	s.logger.Info(ctx, "stopping civicstake service...")
	s.sweeper.Close()
	s.stopPipeline(ctx)
	s.closeBackends(ctx)
	s.started = false
	s.logger.Info(ctx, "civicstake service stopped")
}
