package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
)

type tx struct {
	q querier
}

func (t *tx) Account(ctx context.Context, id string) (model.Account, error) {
	return getAccount(ctx, t.q, id)
}

func (t *tx) InsertAccount(ctx context.Context, a model.Account) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO accounts (id, name, role, balance, created_at)
VALUES ($1, $2, $3, $4, $5)`, a.ID, a.Name, string(a.Role), a.Balance, a.CreatedAt)
	return mapErr(err, "insert account "+a.ID)
}

func (t *tx) Debit(ctx context.Context, accountID string, amount int64) error {
	tag, err := t.q.Exec(ctx, `
UPDATE accounts SET balance = balance - $2
WHERE id = $1 AND balance >= $2`, accountID, amount)
	if err != nil {
		return mapErr(err, "debit "+accountID)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := getAccount(ctx, t.q, accountID); err != nil {
		return err
	}
	return fmt.Errorf("debit %s by %d: %w", accountID, amount, ledger.ErrInsufficientFunds)
}

func (t *tx) Credit(ctx context.Context, accountID string, amount int64) error {
	tag, err := t.q.Exec(ctx, `UPDATE accounts SET balance = balance + $2 WHERE id = $1`, accountID, amount)
	if err != nil {
		return mapErr(err, "credit "+accountID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("credit %s: %w", accountID, ledger.ErrNotFound)
	}
	return nil
}

func (t *tx) LockQuestion(ctx context.Context, id string) (model.Question, error) {
	return getQuestion(ctx, t.q, id, "FOR UPDATE")
}

func (t *tx) InsertQuestion(ctx context.Context, q model.Question) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO questions (id, title, body, citizen_id, official_id, status, total_bounty, deadline, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		q.ID, q.Title, q.Body, q.CitizenID, q.OfficialID, string(q.Status), q.TotalBounty, q.Deadline, q.CreatedAt)
	return mapErr(err, "insert question "+q.ID)
}

func (t *tx) SetQuestionStatus(ctx context.Context, id string, status model.QuestionStatus) error {
	tag, err := t.q.Exec(ctx, `UPDATE questions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return mapErr(err, "set question status "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("question %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (t *tx) AddBounty(ctx context.Context, id string, amount int64) error {
	tag, err := t.q.Exec(ctx, `UPDATE questions SET total_bounty = total_bounty + $2 WHERE id = $1`, id, amount)
	if err != nil {
		return mapErr(err, "add bounty "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("question %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (t *tx) InsertEntry(ctx context.Context, e model.EscrowEntry) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO escrow_entries (id, account_id, question_id, amount, status, charity_id, released_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.AccountID, e.QuestionID, e.Amount, e.Status.String(), e.CharityID, e.ReleasedAt, e.CreatedAt)
	return mapErr(err, "insert entry "+e.ID)
}

func (t *tx) HeldEntries(ctx context.Context, questionID string) ([]model.EscrowEntry, error) {
	return listEntries(ctx, t.q, `WHERE question_id = $1 AND status = 'held'`, questionID)
}

func (t *tx) FinalizeEntries(ctx context.Context, ids []string, status model.EntryStatus, charityID string, at time.Time) (int, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("finalize to %s: not a terminal status", status)
	}
	if status != model.StatusReleased {
		charityID = ""
	}
	tag, err := t.q.Exec(ctx, `
UPDATE escrow_entries
SET status = $2, charity_id = $3, released_at = $4
WHERE id = ANY($1::text[]) AND status = 'held'`, ids, status.String(), charityID, at)
	if err != nil {
		return 0, mapErr(err, "finalize entries")
	}
	return int(tag.RowsAffected()), nil
}

func (t *tx) HasStake(ctx context.Context, questionID, accountID string) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM escrow_entries WHERE question_id = $1 AND account_id = $2)`,
		questionID, accountID).Scan(&ok)
	return ok, mapErr(err, "has stake")
}

func (t *tx) AnswerForQuestion(ctx context.Context, questionID string) (model.Answer, error) {
	return getAnswer(ctx, t.q, "question_id", questionID)
}

func (t *tx) InsertAnswer(ctx context.Context, a model.Answer) error {
	analysis, err := json.Marshal(a.Analysis)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	_, err = t.q.Exec(ctx, `
INSERT INTO answers (id, question_id, official_id, content, video_url, analysis, created_at)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		a.ID, a.QuestionID, a.OfficialID, a.Content, a.VideoURL, string(analysis), a.CreatedAt)
	return mapErr(err, "insert answer for question "+a.QuestionID)
}

func (t *tx) VoteTally(ctx context.Context, answerID string) (model.VoteTally, error) {
	return voteTally(ctx, t.q, answerID)
}

func (t *tx) UpsertVote(ctx context.Context, v model.Vote) error {
	_, err := t.q.Exec(ctx, `
INSERT INTO votes (id, answer_id, citizen_id, helpful, created_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (answer_id, citizen_id) DO UPDATE
SET helpful = EXCLUDED.helpful, created_at = EXCLUDED.created_at`,
		v.ID, v.AnswerID, v.CitizenID, v.Helpful, v.CreatedAt)
	return mapErr(err, "vote on answer "+v.AnswerID)
}
