package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/internal/domain/sweeper"
	"github.com/okian/civicstake/pkg/metrics"
)

// The read lock is held for the duration of each call so Stop waits for
// operations in flight.
func (s *Service) enter() (func(), error) {
	s.mu.RLock()
	if !s.started {
		s.mu.RUnlock()
		return nil, ErrNotStarted
	}
	return s.mu.RUnlock, nil
}

// RegisterAccount creates a funded citizen or an official.
func (s *Service) RegisterAccount(ctx context.Context, name string, role model.Role) (model.Account, error) {
	done, err := s.enter()
	if err != nil {
		return model.Account{}, err
	}
	defer done()
	return s.ledger.RegisterAccount(ctx, name, role)
}

// Credit adds purchased points to an account.
func (s *Service) Credit(ctx context.Context, accountID string, amount int64) (model.Account, error) {
	done, err := s.enter()
	if err != nil {
		return model.Account{}, err
	}
	defer done()
	return s.ledger.Credit(ctx, accountID, amount)
}

// Wallet returns the account balance, its escrow stats, and its entries.
func (s *Service) Wallet(ctx context.Context, accountID string) (model.Wallet, error) {
	done, err := s.enter()
	if err != nil {
		return model.Wallet{}, err
	}
	defer done()

	var (
		acct    model.Account
		entries []model.EscrowEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		acct, err = s.store.Account(gctx, accountID)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = s.store.EntriesByAccount(gctx, accountID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.Wallet{}, fmt.Errorf("wallet %s: %w", accountID, err)
	}
	return model.Wallet{Account: acct, Stats: model.SummarizeEntries(entries), Escrows: entries}, nil
}

// OpenQuestion creates a question with an optional initial stake.
func (s *Service) OpenQuestion(ctx context.Context, in questions.NewQuestion) (model.Question, error) {
	done, err := s.enter()
	if err != nil {
		return model.Question{}, err
	}
	defer done()
	return s.questions.Open(ctx, in)
}

// Question returns a question by id.
func (s *Service) Question(ctx context.Context, id string) (model.Question, error) {
	done, err := s.enter()
	if err != nil {
		return model.Question{}, err
	}
	defer done()
	return s.store.Question(ctx, id)
}

// Stake escrows amount from accountID on questionID.
func (s *Service) Stake(ctx context.Context, accountID, questionID string, amount int64) (model.EscrowEntry, error) {
	done, err := s.enter()
	if err != nil {
		return model.EscrowEntry{}, err
	}
	defer done()
	return s.ledger.Stake(ctx, accountID, questionID, amount)
}

// SubmitAnswer records the official's answer and reports whether it
// released the escrow.
func (s *Service) SubmitAnswer(ctx context.Context, questionID, officialID, content, videoURL string) (model.Answer, bool, error) {
	done, err := s.enter()
	if err != nil {
		return model.Answer{}, false, err
	}
	defer done()
	return s.questions.SubmitAnswer(ctx, questionID, officialID, content, videoURL)
}

// EvaluateRelease re-runs the release policy for a question.
func (s *Service) EvaluateRelease(ctx context.Context, questionID string) (bool, error) {
	done, err := s.enter()
	if err != nil {
		return false, err
	}
	defer done()
	return s.policy.EvaluateRelease(ctx, questionID)
}

// CastVote records a staker's vote and reports whether it released the escrow.
func (s *Service) CastVote(ctx context.Context, answerID, citizenID string, helpful bool) (questions.Summary, bool, error) {
	done, err := s.enter()
	if err != nil {
		return questions.Summary{}, false, err
	}
	defer done()
	return s.questions.CastVote(ctx, answerID, citizenID, helpful)
}

// VoteSummary returns the vote breakdown of an answer.
func (s *Service) VoteSummary(ctx context.Context, answerID string) (questions.Summary, error) {
	done, err := s.enter()
	if err != nil {
		return questions.Summary{}, err
	}
	defer done()
	return s.questions.VoteSummary(ctx, answerID)
}

// Sweep expires overdue questions now, outside the schedule.
func (s *Service) Sweep(ctx context.Context) (sweeper.Result, error) {
	done, err := s.enter()
	if err != nil {
		return sweeper.Result{}, err
	}
	defer done()
	return s.sweeper.Sweep(ctx)
}

// TopN returns the best n officials.
func (s *Service) TopN(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	done, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer done()
	return s.leaderboard.TopN(ctx, n)
}

// Rank returns an official's leaderboard position.
func (s *Service) Rank(ctx context.Context, officialID string) (model.LeaderboardEntry, error) {
	done, err := s.enter()
	if err != nil {
		return model.LeaderboardEntry{}, err
	}
	defer done()
	return s.leaderboard.Rank(ctx, officialID)
}

// Belief returns an official's rating belief, or the prior if never rated.
func (s *Service) Belief(ctx context.Context, officialID string) (model.RatingBelief, error) {
	done, err := s.enter()
	if err != nil {
		return model.RatingBelief{}, err
	}
	defer done()
	return s.rating.Belief(ctx, officialID)
}

// Ping checks the ledger store and, when configured, Redis.
func (s *Service) Ping(ctx context.Context) error {
	done, err := s.enter()
	if err != nil {
		return err
	}
	defer done()
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ledger store: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]any{
		"started":    s.started,
		"store":      s.cfg.Store,
		"eventBus":   s.cfg.EventBus,
		"aiEnabled":  s.analyzer != nil,
		"thresholds": s.cfg.Policy,
	}
	if !s.started {
		return stats
	}

	officials := s.leaderboard.Count(ctx)
	stats["officialsRanked"] = officials
	stats["releasesSeen"] = s.deduper.Size()
	metrics.UpdateOfficialsRanked(officials)
	if s.queue != nil {
		queueLen := s.queue.Len(ctx)
		stats["queueLength"] = queueLen
		stats["workerCount"] = s.cfg.WorkerCount
		metrics.UpdateQueueSize(queueLen)
	}
	return stats
}
