// Package escrow moves civic points between wallets, held stakes, and the
// charity sink.
//
// Every operation runs in one ledger transaction that locks the question
// first, so stakes, releases, and refunds on the same question are
// serialized while different questions proceed in parallel. Points are
// conserved: balances plus held plus released always equal what was granted.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/logger"
	"github.com/okian/civicstake/pkg/metrics"
)

const (
	defaultMaxPurchase   = 1000
	defaultInitialPoints = 100
)

// Settlement counts what a release or refund moved.
type Settlement struct {
	Entries int
	Points  int64
}

// Ledger is the escrow service.
type Ledger struct {
	store ledger.Store
	log   logger.Logger
	now   func() time.Time
	newID func() string

	defaultCharity string
	maxPurchase    int64
	initialPoints  int64
}

// New creates a Ledger over store.
func New(store ledger.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		log:            logger.NewNop(),
		now:            time.Now,
		newID:          uuid.NewString,
		defaultCharity: model.DefaultCharity,
		maxPurchase:    defaultMaxPurchase,
		initialPoints:  defaultInitialPoints,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Store exposes the underlying store to collaborating services.
func (l *Ledger) Store() ledger.Store { return l.store }

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time { return l.now() }

// RegisterAccount creates a wallet funded with the initial points.
func (l *Ledger) RegisterAccount(ctx context.Context, name string, role model.Role) (model.Account, error) {
	if !role.Valid() {
		return model.Account{}, fmt.Errorf("register %q: %w", role, ErrInvalidRole)
	}
	acct := model.Account{
		ID:        l.newID(),
		Name:      strings.TrimSpace(name),
		Role:      role,
		Balance:   l.initialPoints,
		CreatedAt: l.now().UTC(),
	}
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertAccount(ctx, acct)
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("register account: %w", err)
	}
	if acct.Balance > 0 {
		metrics.RecordCredit(acct.Balance)
	}
	l.log.Info(ctx, "account registered",
		logger.String("account_id", acct.ID),
		logger.String("role", string(role)))
	return acct, nil
}

// Credit adds purchased points to an account. Amount must be in (0, max purchase].
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64) (model.Account, error) {
	if amount <= 0 || amount > l.maxPurchase {
		return model.Account{}, fmt.Errorf("credit %d (max %d): %w", amount, l.maxPurchase, ErrInvalidAmount)
	}
	var acct model.Account
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Credit(ctx, accountID, amount); err != nil {
			return err
		}
		var err error
		acct, err = tx.Account(ctx, accountID)
		return err
	})
	if err != nil {
		return model.Account{}, fmt.Errorf("credit %s: %w", accountID, err)
	}
	metrics.RecordCredit(amount)
	return acct, nil
}

// Stake debits amount from the account and holds it against the question.
func (l *Ledger) Stake(ctx context.Context, accountID, questionID string, amount int64) (model.EscrowEntry, error) {
	var entry model.EscrowEntry
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		entry, err = l.StakeTx(ctx, tx, accountID, questionID, amount)
		return err
	})
	if err != nil {
		metrics.RecordStakeRejected(rejectReason(err))
		return model.EscrowEntry{}, fmt.Errorf("stake on %s: %w", questionID, err)
	}
	metrics.RecordStake(amount)
	l.log.Debug(ctx, "stake held",
		logger.String("entry_id", entry.ID),
		logger.String("account_id", accountID),
		logger.String("question_id", questionID),
		logger.Int64("amount", amount))
	return entry, nil
}

// StakeTx is Stake inside a caller-owned transaction.
func (l *Ledger) StakeTx(ctx context.Context, tx ledger.Tx, accountID, questionID string, amount int64) (model.EscrowEntry, error) {
	if amount <= 0 {
		return model.EscrowEntry{}, fmt.Errorf("amount %d: %w", amount, ErrInvalidAmount)
	}
	q, err := tx.LockQuestion(ctx, questionID)
	if err != nil {
		return model.EscrowEntry{}, err
	}
	now := l.now().UTC()
	if !q.OpenForStaking(now) {
		return model.EscrowEntry{}, fmt.Errorf("question %s is %s (deadline %s): %w",
			q.ID, q.Status, q.Deadline.Format(time.RFC3339), ErrInvalidQuestionState)
	}
	if err := tx.Debit(ctx, accountID, amount); err != nil {
		return model.EscrowEntry{}, err
	}
	entry := model.EscrowEntry{
		ID:         l.newID(),
		AccountID:  accountID,
		QuestionID: questionID,
		Amount:     amount,
		Status:     model.StatusHeld,
		CreatedAt:  now,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return model.EscrowEntry{}, err
	}
	if err := tx.AddBounty(ctx, questionID, amount); err != nil {
		return model.EscrowEntry{}, err
	}
	return entry, nil
}

// Release donates every held stake on the question to charityID (the
// default sink when empty). It reports false when nothing was held.
func (l *Ledger) Release(ctx context.Context, questionID, charityID string) (bool, error) {
	var s Settlement
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		s, err = l.ReleaseTx(ctx, tx, questionID, charityID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("release %s: %w", questionID, err)
	}
	return l.Released(ctx, questionID, charityID, s), nil
}

// Released records a committed ReleaseTx settlement and reports whether
// it moved anything.
func (l *Ledger) Released(ctx context.Context, questionID, charityID string, s Settlement) bool {
	if s.Entries == 0 {
		return false
	}
	metrics.RecordRelease(s.Entries, s.Points)
	l.log.Info(ctx, "escrow released",
		logger.String("question_id", questionID),
		logger.String("charity_id", l.charity(charityID)),
		logger.Int("entries", s.Entries),
		logger.Int64("points", s.Points))
	return true
}

// ReleaseTx is Release inside a caller-owned transaction.
func (l *Ledger) ReleaseTx(ctx context.Context, tx ledger.Tx, questionID, charityID string) (Settlement, error) {
	if _, err := tx.LockQuestion(ctx, questionID); err != nil {
		return Settlement{}, err
	}
	return l.finalize(ctx, tx, questionID, model.StatusReleased, l.charity(charityID))
}

// Refund returns every held stake on the question to its staker. It
// reports false when nothing was held.
func (l *Ledger) Refund(ctx context.Context, questionID string) (bool, error) {
	var s Settlement
	err := l.store.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		s, err = l.RefundTx(ctx, tx, questionID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("refund %s: %w", questionID, err)
	}
	if s.Entries == 0 {
		return false, nil
	}
	metrics.RecordRefund(s.Entries, s.Points)
	l.log.Info(ctx, "escrow refunded",
		logger.String("question_id", questionID),
		logger.Int("entries", s.Entries),
		logger.Int64("points", s.Points))
	return true, nil
}

// RefundTx is Refund inside a caller-owned transaction.
func (l *Ledger) RefundTx(ctx context.Context, tx ledger.Tx, questionID string) (Settlement, error) {
	if _, err := tx.LockQuestion(ctx, questionID); err != nil {
		return Settlement{}, err
	}
	return l.finalize(ctx, tx, questionID, model.StatusRefunded, "")
}

func (l *Ledger) finalize(ctx context.Context, tx ledger.Tx, questionID string, status model.EntryStatus, charityID string) (Settlement, error) {
	held, err := tx.HeldEntries(ctx, questionID)
	if err != nil {
		return Settlement{}, err
	}
	if len(held) == 0 {
		return Settlement{}, nil
	}

	ids := make([]string, len(held))
	for i, e := range held {
		ids[i] = e.ID
	}
	n, err := tx.FinalizeEntries(ctx, ids, status, charityID, l.now().UTC())
	if err != nil {
		return Settlement{}, err
	}
	if n != len(held) {
		return Settlement{}, fmt.Errorf("finalized %d of %d held entries on %s: %w",
			n, len(held), questionID, ledger.ErrVersionConflict)
	}

	var s Settlement
	for _, e := range held {
		if status == model.StatusRefunded {
			if err := tx.Credit(ctx, e.AccountID, e.Amount); err != nil {
				return Settlement{}, err
			}
		}
		s.Entries++
		s.Points += e.Amount
	}
	return s, nil
}

func (l *Ledger) charity(id string) string {
	if id == "" {
		return l.defaultCharity
	}
	return id
}

// Stats summarizes an account's escrow history from live entries.
func (l *Ledger) Stats(ctx context.Context, accountID string) (model.EscrowStats, error) {
	if _, err := l.store.Account(ctx, accountID); err != nil {
		return model.EscrowStats{}, fmt.Errorf("stats %s: %w", accountID, err)
	}
	entries, err := l.store.EntriesByAccount(ctx, accountID)
	if err != nil {
		return model.EscrowStats{}, fmt.Errorf("stats %s: %w", accountID, err)
	}
	return model.SummarizeEntries(entries), nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidQuestionState):
		return "question_closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
