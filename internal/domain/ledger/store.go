// Package ledger defines the transactional storage contract behind escrow,
// questions, votes, and rating beliefs.
//
// A Store hands out Tx scopes through RunInTx. Everything done through a Tx
// commits or rolls back together. LockQuestion serializes all transactions
// touching the same question until the scope ends.
package ledger

import (
	"context"
	"time"

	"github.com/okian/civicstake/internal/domain/model"
)

// Tx is the unit of work passed to RunInTx.
type Tx interface {
	// Account returns ErrNotFound for unknown ids.
	Account(ctx context.Context, id string) (model.Account, error)
	InsertAccount(ctx context.Context, a model.Account) error
	// Debit subtracts amount only if the balance covers it, else ErrInsufficientFunds.
	Debit(ctx context.Context, accountID string, amount int64) error
	Credit(ctx context.Context, accountID string, amount int64) error

	// LockQuestion loads the question and holds its lock until the scope ends.
	LockQuestion(ctx context.Context, id string) (model.Question, error)
	InsertQuestion(ctx context.Context, q model.Question) error
	SetQuestionStatus(ctx context.Context, id string, status model.QuestionStatus) error
	AddBounty(ctx context.Context, id string, amount int64) error

	InsertEntry(ctx context.Context, e model.EscrowEntry) error
	HeldEntries(ctx context.Context, questionID string) ([]model.EscrowEntry, error)
	// FinalizeEntries moves the given held entries to a terminal status.
	// Entries that are no longer held are left untouched.
	FinalizeEntries(ctx context.Context, ids []string, status model.EntryStatus, charityID string, at time.Time) (int, error)
	HasStake(ctx context.Context, questionID, accountID string) (bool, error)

	// AnswerForQuestion returns ErrNotFound when the question has no answer.
	AnswerForQuestion(ctx context.Context, questionID string) (model.Answer, error)
	InsertAnswer(ctx context.Context, a model.Answer) error
	// UpsertVote replaces a citizen's earlier vote on the same answer.
	UpsertVote(ctx context.Context, v model.Vote) error
	VoteTally(ctx context.Context, answerID string) (model.VoteTally, error)
}

// Reader is the read side available outside transactions.
type Reader interface {
	Account(ctx context.Context, id string) (model.Account, error)
	Question(ctx context.Context, id string) (model.Question, error)
	Answer(ctx context.Context, id string) (model.Answer, error)
	AnswerForQuestion(ctx context.Context, questionID string) (model.Answer, error)
	VoteTally(ctx context.Context, answerID string) (model.VoteTally, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]model.EscrowEntry, error)
	EntriesByQuestion(ctx context.Context, questionID string) ([]model.EscrowEntry, error)
	// ExpiredQuestions lists open questions whose deadline is at or before now.
	ExpiredQuestions(ctx context.Context, now time.Time, limit int) ([]model.Question, error)
}

// BeliefStore persists rating beliefs with optimistic concurrency.
type BeliefStore interface {
	// Belief returns ErrNotFound when the official has never been rated.
	Belief(ctx context.Context, officialID string) (model.RatingBelief, error)
	// SaveBelief writes b if the stored version equals expectedVersion
	// (0 meaning absent) and returns ErrVersionConflict otherwise.
	SaveBelief(ctx context.Context, b model.RatingBelief, expectedVersion int64) error
	Beliefs(ctx context.Context) ([]model.RatingBelief, error)
}

// Store is the full ledger backend.
type Store interface {
	Reader
	BeliefStore
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
