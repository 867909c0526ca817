// Package policy decides when an answered question's escrow is donated.
//
// Escrow is released when the AI directness score reaches the threshold or
// when enough stakers vote the answer helpful. Both triggers (answer
// submission and vote casting) call EvaluateRelease, which decides and
// releases under the question lock and emits one release event per
// question.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

// Releaser is the escrow operation the engine drives.
type Releaser interface {
	ReleaseTx(ctx context.Context, tx ledger.Tx, questionID, charityID string) (escrow.Settlement, error)
	Released(ctx context.Context, questionID, charityID string, s escrow.Settlement) bool
}

// Publisher delivers release events to the rating side.
type Publisher interface {
	Publish(ctx context.Context, ev model.ReleaseEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.ReleaseEvent) error { return nil }

// Engine evaluates release decisions.
type Engine struct {
	store      ledger.Store
	escrow     Releaser
	publisher  Publisher
	thresholds Thresholds
	log        logger.Logger
	now        func() time.Time
}

// New creates an Engine.
func New(store ledger.Store, escrow Releaser, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		escrow:     escrow,
		publisher:  nopPublisher{},
		thresholds: DefaultThresholds(),
		log:        logger.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Thresholds returns the active thresholds.
func (e *Engine) Thresholds() Thresholds { return e.thresholds }

// EvaluateRelease reports whether the question's answer meets the release
// bar and, if so, makes sure its escrow is released. Calling it again after
// a release returns the same answer without moving points twice.
//
// The answer and tally are read under the question lock, the same lock
// answers and votes are written under, so every call decides on the votes
// committed before it started.
func (e *Engine) EvaluateRelease(ctx context.Context, questionID string) (bool, error) {
	var (
		q        model.Question
		answer   model.Answer
		tally    model.VoteTally
		decision Decision
		settled  escrow.Settlement
		answered bool
	)
	err := e.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		if q, err = tx.LockQuestion(ctx, questionID); err != nil {
			return err
		}
		answer, err = tx.AnswerForQuestion(ctx, questionID)
		if errors.Is(err, ledger.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		answered = true
		if tally, err = tx.VoteTally(ctx, answer.ID); err != nil {
			return err
		}
		decision = Decide(e.thresholds, answer.Analysis, tally)
		if !decision.Release {
			return nil
		}
		settled, err = e.escrow.ReleaseTx(ctx, tx, questionID, "")
		return err
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", questionID, err)
	}
	if !answered {
		metrics.RecordReleaseEvaluation("unanswered")
		return false, nil
	}

	metrics.RecordReleaseEvaluation(decision.Outcome())
	if !decision.Release {
		e.log.Debug(ctx, "release bar not met",
			logger.String("question_id", questionID),
			logger.Int("votes", tally.Total),
			logger.Int("helpful", tally.Helpful))
		return false, nil
	}
	if e.escrow.Released(ctx, questionID, "", settled) {
		e.emit(ctx, q, answer, tally)
	}
	return true, nil
}

func (e *Engine) emit(ctx context.Context, q model.Question, a model.Answer, tally model.VoteTally) {
	ev := model.ReleaseEvent{
		EventID:           q.ID,
		QuestionID:        q.ID,
		OfficialID:        q.OfficialID,
		BountyValue:       q.TotalBounty,
		ResponseTimeHours: model.ResponseHours(q, a),
		ReleasedAt:        e.now().UTC(),
	}
	if frac, ok := tally.HelpfulFraction(); ok {
		s := frac * 100
		ev.Satisfaction = &s
	}
	// Release has committed; publish failures are reported, not returned.
	if err := e.publisher.Publish(ctx, ev); err != nil {
		metrics.RecordErrorByComponent("policy", "publish")
		e.log.Error(ctx, "release event not published",
			logger.String("question_id", q.ID),
			logger.String("official_id", q.OfficialID),
			logger.Error(err))
	}
}
