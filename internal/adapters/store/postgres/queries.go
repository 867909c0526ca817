package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
)

const (
	accountColumns  = `id, name, role, balance, created_at`
	questionColumns = `id, title, body, citizen_id, official_id, status, total_bounty, deadline, created_at`
	entryColumns    = `id, account_id, question_id, amount, status, charity_id, released_at, created_at`
	answerColumns   = `id, question_id, official_id, content, video_url, analysis, created_at`
	beliefColumns   = `official_id, mu, sigma, version, updated_at`
)

func getAccount(ctx context.Context, q querier, id string) (model.Account, error) {
	var (
		a    model.Account
		role string
	)
	err := q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Name, &role, &a.Balance, &a.CreatedAt)
	if err != nil {
		return model.Account{}, mapErr(err, "account "+id)
	}
	a.Role = model.Role(role)
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

func getQuestion(ctx context.Context, q querier, id, suffix string) (model.Question, error) {
	qs, err := listQuestions(ctx, q, `WHERE id = $1 `+suffix, id)
	if err != nil {
		return model.Question{}, err
	}
	if len(qs) == 0 {
		return model.Question{}, fmt.Errorf("question %s: %w", id, ledger.ErrNotFound)
	}
	return qs[0], nil
}

func listQuestions(ctx context.Context, q querier, where string, args ...any) ([]model.Question, error) {
	rows, err := q.Query(ctx, `SELECT `+questionColumns+` FROM questions `+where, args...)
	if err != nil {
		return nil, mapErr(err, "query questions")
	}
	defer rows.Close()

	var out []model.Question
	for rows.Next() {
		var (
			qu     model.Question
			status string
		)
		if err := rows.Scan(&qu.ID, &qu.Title, &qu.Body, &qu.CitizenID, &qu.OfficialID,
			&status, &qu.TotalBounty, &qu.Deadline, &qu.CreatedAt); err != nil {
			return nil, mapErr(err, "scan question")
		}
		if qu.Status, err = model.ParseQuestionStatus(status); err != nil {
			return nil, err
		}
		qu.Deadline = qu.Deadline.UTC()
		qu.CreatedAt = qu.CreatedAt.UTC()
		out = append(out, qu)
	}
	return out, mapErr(rows.Err(), "iterate questions")
}

func listEntries(ctx context.Context, q querier, where string, args ...any) ([]model.EscrowEntry, error) {
	rows, err := q.Query(ctx, `SELECT `+entryColumns+` FROM escrow_entries `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, mapErr(err, "query entries")
	}
	defer rows.Close()

	out := []model.EscrowEntry{}
	for rows.Next() {
		var (
			e      model.EscrowEntry
			status string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.QuestionID, &e.Amount,
			&status, &e.CharityID, &e.ReleasedAt, &e.CreatedAt); err != nil {
			return nil, mapErr(err, "scan entry")
		}
		if e.Status, err = model.ParseEntryStatus(status); err != nil {
			return nil, err
		}
		if e.ReleasedAt != nil {
			at := e.ReleasedAt.UTC()
			e.ReleasedAt = &at
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, mapErr(rows.Err(), "iterate entries")
}

func getAnswer(ctx context.Context, q querier, column, value string) (model.Answer, error) {
	var (
		a        model.Answer
		analysis []byte
	)
	err := q.QueryRow(ctx, `SELECT `+answerColumns+` FROM answers WHERE `+column+` = $1`, value).
		Scan(&a.ID, &a.QuestionID, &a.OfficialID, &a.Content, &a.VideoURL, &analysis, &a.CreatedAt)
	if err != nil {
		return model.Answer{}, mapErr(err, "answer by "+column+" "+value)
	}
	if len(analysis) > 0 {
		if err := a.Analysis.UnmarshalJSON(analysis); err != nil {
			return model.Answer{}, fmt.Errorf("decode analysis of answer %s: %w", a.ID, err)
		}
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// Account implements ledger.Reader.
func (s *Store) Account(ctx context.Context, id string) (model.Account, error) {
	return getAccount(ctx, s.pool, id)
}

// Question implements ledger.Reader.
func (s *Store) Question(ctx context.Context, id string) (model.Question, error) {
	return getQuestion(ctx, s.pool, id, "")
}

// Answer implements ledger.Reader.
func (s *Store) Answer(ctx context.Context, id string) (model.Answer, error) {
	return getAnswer(ctx, s.pool, "id", id)
}

// AnswerForQuestion implements ledger.Reader.
func (s *Store) AnswerForQuestion(ctx context.Context, questionID string) (model.Answer, error) {
	return getAnswer(ctx, s.pool, "question_id", questionID)
}

func voteTally(ctx context.Context, q querier, answerID string) (model.VoteTally, error) {
	var t model.VoteTally
	err := q.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE helpful)
FROM votes WHERE answer_id = $1`, answerID).Scan(&t.Total, &t.Helpful)
	return t, mapErr(err, "tally votes on "+answerID)
}

// VoteTally implements ledger.Reader.
func (s *Store) VoteTally(ctx context.Context, answerID string) (model.VoteTally, error) {
	return voteTally(ctx, s.pool, answerID)
}

// EntriesByAccount implements ledger.Reader.
func (s *Store) EntriesByAccount(ctx context.Context, accountID string) ([]model.EscrowEntry, error) {
	return listEntries(ctx, s.pool, `WHERE account_id = $1`, accountID)
}

// EntriesByQuestion implements ledger.Reader.
func (s *Store) EntriesByQuestion(ctx context.Context, questionID string) ([]model.EscrowEntry, error) {
	return listEntries(ctx, s.pool, `WHERE question_id = $1`, questionID)
}

// ExpiredQuestions implements ledger.Reader. A limit of 0 lists all.
func (s *Store) ExpiredQuestions(ctx context.Context, now time.Time, limit int) ([]model.Question, error) {
	return listQuestions(ctx, s.pool, `
WHERE status = 'open' AND deadline <= $1
ORDER BY deadline, id
LIMIT NULLIF($2::int, 0)`, now, limit)
}

// Belief implements ledger.BeliefStore.
func (s *Store) Belief(ctx context.Context, officialID string) (model.RatingBelief, error) {
	var b model.RatingBelief
	err := s.pool.QueryRow(ctx, `SELECT `+beliefColumns+` FROM rating_beliefs WHERE official_id = $1`, officialID).
		Scan(&b.OfficialID, &b.Mu, &b.Sigma, &b.Version, &b.UpdatedAt)
	if err != nil {
		return model.RatingBelief{}, mapErr(err, "belief "+officialID)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// SaveBelief implements ledger.BeliefStore with a version compare-and-swap.
func (s *Store) SaveBelief(ctx context.Context, b model.RatingBelief, expectedVersion int64) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if expectedVersion == 0 {
		tag, err = s.pool.Exec(ctx, `
INSERT INTO rating_beliefs (official_id, mu, sigma, version, updated_at)
VALUES ($1, $2, $3, 1, $4)
ON CONFLICT (official_id) DO NOTHING`, b.OfficialID, b.Mu, b.Sigma, b.UpdatedAt)
	} else {
		tag, err = s.pool.Exec(ctx, `
UPDATE rating_beliefs
SET mu = $2, sigma = $3, version = version + 1, updated_at = $4
WHERE official_id = $1 AND version = $5`, b.OfficialID, b.Mu, b.Sigma, b.UpdatedAt, expectedVersion)
	}
	if err != nil {
		return mapErr(err, "save belief "+b.OfficialID)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("belief %s at version %d: %w", b.OfficialID, expectedVersion, ledger.ErrVersionConflict)
	}
	return nil
}

// Beliefs implements ledger.BeliefStore.
func (s *Store) Beliefs(ctx context.Context) ([]model.RatingBelief, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+beliefColumns+` FROM rating_beliefs ORDER BY official_id`)
	if err != nil {
		return nil, mapErr(err, "query beliefs")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RatingBelief, error) {
		var b model.RatingBelief
		err := row.Scan(&b.OfficialID, &b.Mu, &b.Sigma, &b.Version, &b.UpdatedAt)
		b.UpdatedAt = b.UpdatedAt.UTC()
		return b, err
	})
	return out, mapErr(err, "scan beliefs")
}
