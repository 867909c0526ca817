// Package memory is an in-process ledger.Store used for tests, local runs,
// and single-replica deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/keylock"
)

const defaultTxTimeout = 5 * time.Second

// Store keeps every table in maps guarded by one RWMutex. Transactions
// serialize on per-question and per-account keyed locks, never on mu.
type Store struct {
	mu sync.RWMutex

	accounts   map[string]model.Account
	questions  map[string]model.Question
	entries    map[string]model.EscrowEntry
	byQuestion map[string][]string
	byAccount  map[string][]string
	answers    map[string]model.Answer
	answerOf   map[string]string
	votes      map[string]map[string]model.Vote
	beliefs    map[string]model.RatingBelief

	locks     *keylock.Locker
	txTimeout time.Duration
}

var _ ledger.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithTxTimeout bounds transactions whose context has no deadline.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.txTimeout = d
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:   make(map[string]model.Account),
		questions:  make(map[string]model.Question),
		entries:    make(map[string]model.EscrowEntry),
		byQuestion: make(map[string][]string),
		byAccount:  make(map[string][]string),
		answers:    make(map[string]model.Answer),
		answerOf:   make(map[string]string),
		votes:      make(map[string]map[string]model.Vote),
		beliefs:    make(map[string]model.RatingBelief),
		locks:      keylock.New(),
		txTimeout:  defaultTxTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// RunInTx runs fn in a transaction scope. A non-nil error from fn, or a
// context that ends before commit, rolls every write back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTxAborted, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	t := &tx{s: s, held: make(map[string]struct{})}
	defer t.releaseLocks()

	if err := fn(ctx, t); err != nil {
		t.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return fmt.Errorf("%w: %w", ledger.ErrTxAborted, err)
	}
	return nil
}

// tx journals an undo step for every write.
type tx struct {
	s       *Store
	undo    []func()
	unlocks []func()
	held    map[string]struct{}
}

func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	unlock, err := t.s.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: lock %s: %w", ledger.ErrTxAborted, key, err)
	}
	t.held[key] = struct{}{}
	t.unlocks = append(t.unlocks, unlock)
	return nil
}

func (t *tx) releaseLocks() {
	for i := len(t.unlocks) - 1; i >= 0; i-- {
		t.unlocks[i]()
	}
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) Account(ctx context.Context, id string) (model.Account, error) {
	return t.s.Account(ctx, id)
}

func (t *tx) InsertAccount(_ context.Context, a model.Account) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.accounts[a.ID]; ok {
		return fmt.Errorf("account %s: %w", a.ID, ledger.ErrAlreadyExists)
	}
	t.s.accounts[a.ID] = a
	t.undo = append(t.undo, func() { delete(t.s.accounts, a.ID) })
	return nil
}

// Debit holds the account lock until the scope ends so a rolled-back debit
// can never be observed by a competing stake.
func (t *tx) Debit(ctx context.Context, accountID string, amount int64) error {
	if err := t.lock(ctx, "account:"+accountID); err != nil {
		return err
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ledger.ErrNotFound)
	}
	if a.Balance < amount {
		return fmt.Errorf("account %s has %d, needs %d: %w", accountID, a.Balance, amount, ledger.ErrInsufficientFunds)
	}
	t.s.accounts[accountID] = withBalance(a, a.Balance-amount)
	t.undo = append(t.undo, func() {
		cur := t.s.accounts[accountID]
		t.s.accounts[accountID] = withBalance(cur, cur.Balance+amount)
	})
	return nil
}

func (t *tx) Credit(_ context.Context, accountID string, amount int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	a, ok := t.s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ledger.ErrNotFound)
	}
	t.s.accounts[accountID] = withBalance(a, a.Balance+amount)
	t.undo = append(t.undo, func() {
		cur := t.s.accounts[accountID]
		t.s.accounts[accountID] = withBalance(cur, cur.Balance-amount)
	})
	return nil
}

func withBalance(a model.Account, balance int64) model.Account {
	a.Balance = balance
	return a
}

func (t *tx) LockQuestion(ctx context.Context, id string) (model.Question, error) {
	if err := t.lock(ctx, "question:"+id); err != nil {
		return model.Question{}, err
	}
	return t.s.Question(ctx, id)
}

func (t *tx) InsertQuestion(_ context.Context, q model.Question) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.questions[q.ID]; ok {
		return fmt.Errorf("question %s: %w", q.ID, ledger.ErrAlreadyExists)
	}
	t.s.questions[q.ID] = q
	t.undo = append(t.undo, func() { delete(t.s.questions, q.ID) })
	return nil
}

func (t *tx) SetQuestionStatus(_ context.Context, id string, status model.QuestionStatus) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	q, ok := t.s.questions[id]
	if !ok {
		return fmt.Errorf("question %s: %w", id, ledger.ErrNotFound)
	}
	prev := q.Status
	q.Status = status
	t.s.questions[id] = q
	t.undo = append(t.undo, func() {
		cur := t.s.questions[id]
		cur.Status = prev
		t.s.questions[id] = cur
	})
	return nil
}

func (t *tx) AddBounty(_ context.Context, id string, amount int64) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	q, ok := t.s.questions[id]
	if !ok {
		return fmt.Errorf("question %s: %w", id, ledger.ErrNotFound)
	}
	q.TotalBounty += amount
	t.s.questions[id] = q
	t.undo = append(t.undo, func() {
		cur := t.s.questions[id]
		cur.TotalBounty -= amount
		t.s.questions[id] = cur
	})
	return nil
}

func (t *tx) InsertEntry(_ context.Context, e model.EscrowEntry) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.entries[e.ID]; ok {
		return fmt.Errorf("entry %s: %w", e.ID, ledger.ErrAlreadyExists)
	}
	t.s.entries[e.ID] = e
	t.s.byQuestion[e.QuestionID] = append(t.s.byQuestion[e.QuestionID], e.ID)
	t.s.byAccount[e.AccountID] = append(t.s.byAccount[e.AccountID], e.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.entries, e.ID)
		t.s.byQuestion[e.QuestionID] = removeID(t.s.byQuestion[e.QuestionID], e.ID)
		t.s.byAccount[e.AccountID] = removeID(t.s.byAccount[e.AccountID], e.ID)
	})
	return nil
}

func removeID(ids []string, id string) []string {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

func (t *tx) HeldEntries(_ context.Context, questionID string) ([]model.EscrowEntry, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	var out []model.EscrowEntry
	for _, id := range t.s.byQuestion[questionID] {
		if e := t.s.entries[id]; e.Status == model.StatusHeld {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *tx) FinalizeEntries(_ context.Context, ids []string, status model.EntryStatus, charityID string, at time.Time) (int, error) {
	if !status.Terminal() {
		return 0, fmt.Errorf("finalize to %s: not a terminal status", status)
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	n := 0
	for _, id := range ids {
		prev, ok := t.s.entries[id]
		if !ok || prev.Status != model.StatusHeld {
			continue
		}
		next := prev
		next.Status = status
		next.ReleasedAt = &at
		if status == model.StatusReleased {
			next.CharityID = charityID
		}
		t.s.entries[id] = next
		t.undo = append(t.undo, func() { t.s.entries[id] = prev })
		n++
	}
	return n, nil
}

func (t *tx) HasStake(_ context.Context, questionID, accountID string) (bool, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, id := range t.s.byQuestion[questionID] {
		if t.s.entries[id].AccountID == accountID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) AnswerForQuestion(ctx context.Context, questionID string) (model.Answer, error) {
	return t.s.AnswerForQuestion(ctx, questionID)
}

func (t *tx) VoteTally(ctx context.Context, answerID string) (model.VoteTally, error) {
	return t.s.VoteTally(ctx, answerID)
}

func (t *tx) InsertAnswer(_ context.Context, a model.Answer) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.answerOf[a.QuestionID]; ok {
		return fmt.Errorf("answer for question %s: %w", a.QuestionID, ledger.ErrAlreadyExists)
	}
	t.s.answers[a.ID] = a
	t.s.answerOf[a.QuestionID] = a.ID
	t.undo = append(t.undo, func() {
		delete(t.s.answers, a.ID)
		delete(t.s.answerOf, a.QuestionID)
	})
	return nil
}

func (t *tx) UpsertVote(_ context.Context, v model.Vote) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.answers[v.AnswerID]; !ok {
		return fmt.Errorf("answer %s: %w", v.AnswerID, ledger.ErrNotFound)
	}
	byCitizen := t.s.votes[v.AnswerID]
	if byCitizen == nil {
		byCitizen = make(map[string]model.Vote)
		t.s.votes[v.AnswerID] = byCitizen
	}
	prev, existed := byCitizen[v.CitizenID]
	if existed {
		v.ID = prev.ID
	}
	byCitizen[v.CitizenID] = v
	t.undo = append(t.undo, func() {
		if existed {
			byCitizen[v.CitizenID] = prev
		} else {
			delete(byCitizen, v.CitizenID)
		}
	})
	return nil
}

// Account returns a copy of the account.
func (s *Store) Account(_ context.Context, id string) (model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return model.Account{}, fmt.Errorf("account %s: %w", id, ledger.ErrNotFound)
	}
	return a, nil
}

// Question returns a copy of the question.
func (s *Store) Question(_ context.Context, id string) (model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.questions[id]
	if !ok {
		return model.Question{}, fmt.Errorf("question %s: %w", id, ledger.ErrNotFound)
	}
	return q, nil
}

// Answer returns a copy of the answer.
func (s *Store) Answer(_ context.Context, id string) (model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.answers[id]
	if !ok {
		return model.Answer{}, fmt.Errorf("answer %s: %w", id, ledger.ErrNotFound)
	}
	return a, nil
}

// AnswerForQuestion returns the single answer attached to a question.
func (s *Store) AnswerForQuestion(_ context.Context, questionID string) (model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.answerOf[questionID]
	if !ok {
		return model.Answer{}, fmt.Errorf("answer for question %s: %w", questionID, ledger.ErrNotFound)
	}
	return s.answers[id], nil
}

// VoteTally counts current votes on an answer.
func (s *Store) VoteTally(_ context.Context, answerID string) (model.VoteTally, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tally model.VoteTally
	for _, v := range s.votes[answerID] {
		tally.Add(v.Helpful)
	}
	return tally, nil
}

// EntriesByAccount lists an account's entries in stake order.
func (s *Store) EntriesByAccount(_ context.Context, accountID string) ([]model.EscrowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byAccount[accountID]), nil
}

// EntriesByQuestion lists a question's entries in stake order.
func (s *Store) EntriesByQuestion(_ context.Context, questionID string) ([]model.EscrowEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byQuestion[questionID]), nil
}

func (s *Store) collect(ids []string) []model.EscrowEntry {
	out := make([]model.EscrowEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entries[id])
	}
	return out
}

// ExpiredQuestions lists open questions past their deadline, oldest deadline first.
func (s *Store) ExpiredQuestions(_ context.Context, now time.Time, limit int) ([]model.Question, error) {
	s.mu.RLock()
	var out []model.Question
	for _, q := range s.questions {
		if q.Expired(now) {
			out = append(out, q)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Belief returns the stored belief for an official.
func (s *Store) Belief(_ context.Context, officialID string) (model.RatingBelief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beliefs[officialID]
	if !ok {
		return model.RatingBelief{}, fmt.Errorf("belief %s: %w", officialID, ledger.ErrNotFound)
	}
	return b, nil
}

// SaveBelief stores b with version expectedVersion+1 if nobody else wrote first.
func (s *Store) SaveBelief(_ context.Context, b model.RatingBelief, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.beliefs[b.OfficialID]
	switch {
	case !ok && expectedVersion != 0,
		ok && cur.Version != expectedVersion:
		return fmt.Errorf("belief %s at version %d: %w", b.OfficialID, expectedVersion, ledger.ErrVersionConflict)
	}
	b.Version = expectedVersion + 1
	s.beliefs[b.OfficialID] = b
	return nil
}

// Beliefs lists every stored belief ordered by official id.
func (s *Store) Beliefs(_ context.Context) ([]model.RatingBelief, error) {
	s.mu.RLock()
	out := make([]model.RatingBelief, 0, len(s.beliefs))
	for _, b := range s.beliefs {
		out = append(out, b)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OfficialID < out[j].OfficialID })
	return out, nil
}
