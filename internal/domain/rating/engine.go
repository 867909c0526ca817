// Package rating maintains a Bayesian (mu, sigma) skill belief per official.
//
// A good response is scored as a win against a fixed virtual opponent using
// a two-player Plackett-Luce update, scaled by the response's performance.
// Ignored questions cost mu and add uncertainty. Officials are ranked by the
// conservative score mu - 3 sigma.
//
// Updates to one official are serialized in-process by a keyed lock and
// across processes by a version compare-and-swap with bounded retry.
package rating

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/scoring"
	"github.com/okian/civicstake/pkg/keylock"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
	"github.com/okian/civicstake/pkg/retry"
)

// Belief bounds applied after every update.
const (
	MinMu    = 0.0
	MaxMu    = 50.0
	MinSigma = 1.0
	MaxSigma = 10.0

	weakResponseMuGain    = 0.1
	weakResponseSigmaDrop = 0.1
	penaltyMuScale        = 0.5
	penaltySigmaScale     = 0.2
)

// Ranker indexes officials by conservative score.
type Ranker interface {
	Upsert(ctx context.Context, b model.RatingBelief) error
}

// Engine applies rating updates.
type Engine struct {
	beliefs ledger.BeliefStore
	locks   *keylock.Locker
	model   pairwise
	retry   retry.Config
	ranker  Ranker
	log     logger.Logger
	now     func() time.Time

	prior    gaussian
	opponent gaussian
}

// New creates an Engine persisting to beliefs.
func New(beliefs ledger.BeliefStore, opts ...Option) *Engine {
	cfg := retry.DefaultConfig()
	cfg.Retryable = func(err error) bool { return errors.Is(err, ledger.ErrVersionConflict) }

	e := &Engine{
		beliefs:  beliefs,
		locks:    keylock.New(),
		model:    defaultPairwise(),
		retry:    cfg,
		log:      logger.NewNop(),
		now:      time.Now,
		prior:    gaussian{mu: 25, sigma: 25.0 / 3},
		opponent: gaussian{mu: 25, sigma: 25.0 / 3},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Belief returns the stored belief, or the prior with version 0.
func (e *Engine) Belief(ctx context.Context, officialID string) (model.RatingBelief, error) {
	b, err := e.beliefs.Belief(ctx, officialID)
	if errors.Is(err, ledger.ErrNotFound) {
		return model.RatingBelief{OfficialID: officialID, Mu: e.prior.mu, Sigma: e.prior.sigma}, nil
	}
	if err != nil {
		return model.RatingBelief{}, fmt.Errorf("load belief %s: %w", officialID, err)
	}
	return b, nil
}

// UpdateOnResponse rewards an official for an answered question.
func (e *Engine) UpdateOnResponse(ctx context.Context, officialID string, s model.PerformanceSample) (model.RatingBelief, error) {
	perf := scoring.Performance(s)
	kind := "response"
	if perf < 1 {
		kind = "weak_response"
	}
	return e.update(ctx, officialID, kind, func(cur gaussian) gaussian {
		if perf < 1 {
			return gaussian{
				mu:    cur.mu + weakResponseMuGain,
				sigma: math.Max(cur.sigma-weakResponseSigmaDrop, MinSigma),
			}
		}
		post, _ := e.model.update(cur, e.opponent)
		delta := post.mu - cur.mu
		return gaussian{
			mu:    cur.mu + delta*math.Min(perf, scoring.MaxPerformance),
			sigma: post.sigma,
		}
	})
}

// PenalizeIgnored lowers an official's rating for a question left to expire.
func (e *Engine) PenalizeIgnored(ctx context.Context, officialID string, bounty int64, daysIgnored float64) (model.RatingBelief, error) {
	bf, tf := scoring.PenaltyFactors(bounty, daysIgnored)
	return e.update(ctx, officialID, "penalty", func(cur gaussian) gaussian {
		return gaussian{
			mu:    math.Max(cur.mu-penaltyMuScale*bf*tf, MinMu),
			sigma: math.Min(cur.sigma+penaltySigmaScale*tf, MaxSigma),
		}
	})
}

// Rebuild pushes every stored belief into the ranker. Used at startup.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	if e.ranker == nil {
		return 0, nil
	}
	all, err := e.beliefs.Beliefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild ranking: %w", err)
	}
	for _, b := range all {
		if err := e.ranker.Upsert(ctx, b); err != nil {
			return 0, fmt.Errorf("rebuild ranking %s: %w", b.OfficialID, err)
		}
	}
	return len(all), nil
}

func (e *Engine) update(ctx context.Context, officialID, kind string, step func(gaussian) gaussian) (model.RatingBelief, error) {
	if officialID == "" {
		return model.RatingBelief{}, ErrInvalidOfficial
	}
	unlock, err := e.locks.Lock(ctx, officialID)
	if err != nil {
		return model.RatingBelief{}, fmt.Errorf("lock official %s: %w", officialID, err)
	}
	defer unlock()

	var saved model.RatingBelief
	err = retry.WithBackoff(ctx, e.retry, e.log, "rating."+kind, func() error {
		cur, err := e.Belief(ctx, officialID)
		if err != nil {
			return err
		}
		next := clamp(step(gaussian{mu: cur.Mu, sigma: cur.Sigma}))
		b := model.RatingBelief{
			OfficialID: officialID,
			Mu:         next.mu,
			Sigma:      next.sigma,
			UpdatedAt:  e.now().UTC(),
		}
		if err := e.beliefs.SaveBelief(ctx, b, cur.Version); err != nil {
			if errors.Is(err, ledger.ErrVersionConflict) {
				metrics.RecordRatingConflict()
			}
			return err
		}
		b.Version = cur.Version + 1
		saved = b
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			return model.RatingBelief{}, fmt.Errorf("update %s: %w: %w", officialID, ErrConcurrentUpdate, err)
		}
		return model.RatingBelief{}, fmt.Errorf("update %s: %w", officialID, err)
	}

	metrics.RecordRatingUpdate(kind)
	if e.ranker != nil {
		if err := e.ranker.Upsert(ctx, saved); err != nil {
			e.log.Warn(ctx, "ranking refresh failed",
				logger.String("official_id", officialID),
				logger.Error(err))
		}
	}
	e.log.Debug(ctx, "belief updated",
		logger.String("official_id", officialID),
		logger.String("kind", kind),
		logger.Float64("mu", saved.Mu),
		logger.Float64("sigma", saved.Sigma))
	return saved, nil
}

func clamp(g gaussian) gaussian {
	if math.IsNaN(g.mu) {
		g.mu = MinMu
	}
	if math.IsNaN(g.sigma) {
		g.sigma = MaxSigma
	}
	g.mu = math.Min(math.Max(g.mu, MinMu), MaxMu)
	g.sigma = math.Min(math.Max(g.sigma, MinSigma), MaxSigma)
	return g
}
