// Package questions handles the citizen and official side of a bounty:
// opening questions, answering them, and voting on answers. Answers and
// votes both trigger a release evaluation.
package questions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	defaultEscrowTimeout = 14 * 24 * time.Hour
	defaultAITimeout     = 10 * time.Second
)

// Analyzer scores how directly an answer addresses its question.
type Analyzer interface {
	Analyze(ctx context.Context, q model.Question, answer string) (model.AIAnalysis, error)
}

// Evaluator runs the release policy for a question.
type Evaluator interface {
	EvaluateRelease(ctx context.Context, questionID string) (bool, error)
}

// NewQuestion is the input to Open.
type NewQuestion struct {
	Title        string
	Body         string
	CitizenID    string
	OfficialID   string
	InitialStake int64
}

// Summary is the vote breakdown for an answer.
type Summary struct {
	AnswerID          string   `json:"answer_id"`
	Total             int      `json:"total_votes"`
	Helpful           int      `json:"helpful_votes"`
	Evasive           int      `json:"evasive_votes"`
	HelpfulPercentage *float64 `json:"helpful_percentage"`
}

// Service implements the question workflow.
type Service struct {
	ledger   *escrow.Ledger
	store    ledger.Store
	policy   Evaluator
	analyzer Analyzer
	log      logger.Logger
	now      func() time.Time
	newID    func() string

	aiTimeout     time.Duration
	escrowTimeout time.Duration
}

// New creates a Service.
func New(l *escrow.Ledger, policy Evaluator, opts ...Option) *Service {
	s := &Service{
		ledger:        l,
		store:         l.Store(),
		policy:        policy,
		log:           logger.NewNop(),
		now:           time.Now,
		newID:         uuid.NewString,
		aiTimeout:     defaultAITimeout,
		escrowTimeout: defaultEscrowTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates an open question and places the optional initial stake in
// the same transaction.
func (s *Service) Open(ctx context.Context, in NewQuestion) (model.Question, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" || in.CitizenID == "" || in.OfficialID == "" {
		return model.Question{}, fmt.Errorf("open question: title, citizen and official are required: %w", ErrInvalidInput)
	}
	if in.InitialStake < 0 {
		return model.Question{}, fmt.Errorf("open question: stake %d: %w", in.InitialStake, escrow.ErrInvalidAmount)
	}

	now := s.now().UTC()
	q := model.Question{
		ID:         s.newID(),
		Title:      in.Title,
		Body:       strings.TrimSpace(in.Body),
		CitizenID:  in.CitizenID,
		OfficialID: in.OfficialID,
		Status:     model.QuestionOpen,
		Deadline:   now.Add(s.escrowTimeout),
		CreatedAt:  now,
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := requireRole(ctx, tx, in.CitizenID, model.RoleCitizen); err != nil {
			return err
		}
		if err := requireRole(ctx, tx, in.OfficialID, model.RoleOfficial); err != nil {
			return err
		}
		if err := tx.InsertQuestion(ctx, q); err != nil {
			return err
		}
		if in.InitialStake > 0 {
			if _, err := s.ledger.StakeTx(ctx, tx, in.CitizenID, q.ID, in.InitialStake); err != nil {
				return err
			}
			q.TotalBounty = in.InitialStake
		}
		return nil
	})
	if err != nil {
		return model.Question{}, fmt.Errorf("open question: %w", err)
	}
	if in.InitialStake > 0 {
		metrics.RecordStake(in.InitialStake)
	}
	s.log.Info(ctx, "question opened",
		logger.String("question_id", q.ID),
		logger.String("official_id", q.OfficialID),
		logger.Int64("initial_stake", in.InitialStake),
		logger.Time("deadline", q.Deadline))
	return q, nil
}

func requireRole(ctx context.Context, tx ledger.Tx, id string, role model.Role) error {
	a, err := tx.Account(ctx, id)
	if err != nil {
		return err
	}
	if a.Role != role {
		return fmt.Errorf("account %s is %s, not %s: %w", id, a.Role, role, ErrForbidden)
	}
	return nil
}

// SubmitAnswer records the official's answer, scores it, and evaluates
// release. The analysis runs before the question is locked.
func (s *Service) SubmitAnswer(ctx context.Context, questionID, officialID, content, videoURL string) (model.Answer, bool, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Answer{}, false, fmt.Errorf("answer %s: empty content: %w", questionID, ErrInvalidInput)
	}
	q, err := s.store.Question(ctx, questionID)
	if err != nil {
		return model.Answer{}, false, fmt.Errorf("answer %s: %w", questionID, err)
	}
	if err := s.checkAnswerable(q, officialID); err != nil {
		return model.Answer{}, false, fmt.Errorf("answer %s: %w", questionID, err)
	}

	a := model.Answer{
		ID:         s.newID(),
		QuestionID: questionID,
		OfficialID: officialID,
		Content:    content,
		VideoURL:   strings.TrimSpace(videoURL),
		Analysis:   s.analyze(ctx, q, content),
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		locked, err := tx.LockQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if err := s.checkAnswerable(locked, officialID); err != nil {
			return err
		}
		a.CreatedAt = s.now().UTC()
		if err := tx.InsertAnswer(ctx, a); err != nil {
			if errors.Is(err, ledger.ErrAlreadyExists) {
				return fmt.Errorf("already answered: %w", ErrInvalidQuestionState)
			}
			return err
		}
		return tx.SetQuestionStatus(ctx, questionID, model.QuestionAnswered)
	})
	if err != nil {
		return model.Answer{}, false, fmt.Errorf("answer %s: %w", questionID, err)
	}

	score, scored := a.Analysis.Score()
	s.log.Info(ctx, "answer submitted",
		logger.String("question_id", questionID),
		logger.String("answer_id", a.ID),
		logger.Bool("analyzed", scored),
		logger.Float64("directness", score))

	return a, s.evaluate(ctx, questionID), nil
}

func (s *Service) checkAnswerable(q model.Question, officialID string) error {
	if q.OfficialID != officialID {
		return fmt.Errorf("question %s is addressed to %s: %w", q.ID, q.OfficialID, ErrForbidden)
	}
	if q.Status != model.QuestionOpen || q.Expired(s.now()) {
		return fmt.Errorf("question %s is %s: %w", q.ID, q.Status, ErrInvalidQuestionState)
	}
	return nil
}

func (s *Service) analyze(ctx context.Context, q model.Question, content string) model.AnalysisResult {
	if s.analyzer == nil {
		metrics.RecordAISignal(false, 0)
		return model.Unavailable()
	}
	ctx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()

	start := time.Now()
	analysis, err := s.analyzer.Analyze(ctx, q, content)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordAISignal(false, latency)
		s.log.Warn(ctx, "directness analysis unavailable",
			logger.String("question_id", q.ID),
			logger.Error(err))
		return model.Unavailable()
	}
	metrics.RecordAISignal(true, latency)
	return model.Available(analysis)
}

// CastVote records a staker's verdict on an answer, replacing any earlier
// vote, and evaluates release.
func (s *Service) CastVote(ctx context.Context, answerID, citizenID string, helpful bool) (Summary, bool, error) {
	if citizenID == "" {
		return Summary{}, false, fmt.Errorf("vote on %s: citizen required: %w", answerID, ErrInvalidInput)
	}
	a, err := s.store.Answer(ctx, answerID)
	if err != nil {
		return Summary{}, false, fmt.Errorf("vote on %s: %w", answerID, err)
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := tx.LockQuestion(ctx, a.QuestionID); err != nil {
			return err
		}
		staked, err := tx.HasStake(ctx, a.QuestionID, citizenID)
		if err != nil {
			return err
		}
		if !staked {
			return fmt.Errorf("%s has no stake on %s: %w", citizenID, a.QuestionID, ErrForbidden)
		}
		return tx.UpsertVote(ctx, model.Vote{
			ID:        s.newID(),
			AnswerID:  answerID,
			CitizenID: citizenID,
			Helpful:   helpful,
			CreatedAt: s.now().UTC(),
		})
	})
	if err != nil {
		return Summary{}, false, fmt.Errorf("vote on %s: %w", answerID, err)
	}

	released := s.evaluate(ctx, a.QuestionID)
	summary, err := s.VoteSummary(ctx, answerID)
	if err != nil {
		return Summary{}, released, err
	}
	return summary, released, nil
}

// VoteSummary returns the current vote breakdown.
func (s *Service) VoteSummary(ctx context.Context, answerID string) (Summary, error) {
	if _, err := s.store.Answer(ctx, answerID); err != nil {
		return Summary{}, fmt.Errorf("votes on %s: %w", answerID, err)
	}
	tally, err := s.store.VoteTally(ctx, answerID)
	if err != nil {
		return Summary{}, fmt.Errorf("votes on %s: %w", answerID, err)
	}
	out := Summary{
		AnswerID: answerID,
		Total:    tally.Total,
		Helpful:  tally.Helpful,
		Evasive:  tally.Evasive(),
	}
	if frac, ok := tally.HelpfulFraction(); ok {
		p := frac * 100
		out.HelpfulPercentage = &p
	}
	return out, nil
}

// evaluate runs the policy after a committed answer or vote. A failure is
// logged; the caller can trigger evaluation again later.
func (s *Service) evaluate(ctx context.Context, questionID string) bool {
	if s.policy == nil {
		return false
	}
	released, err := s.policy.EvaluateRelease(ctx, questionID)
	if err != nil {
		metrics.RecordErrorByComponent("questions", "evaluate")
		s.log.Error(ctx, "release evaluation failed",
			logger.String("question_id", questionID),
			logger.Error(err))
		return false
	}
	return released
}
