package repository

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: conservative score DESC, then arrival order ASC. An official's
// arrival is the first time it was upserted and survives later updates.
// "less" means ranks earlier, so in-order traversal yields the leaderboard
// from best to worst. Subtree sizes give O(log n) rank lookups.

// scoreScale controls fixed-point scaling from float64.
const scoreScale = 1_000_000_000

var errEmptyID = errors.New("empty official id")

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	switch {
	case math.IsNaN(x):
		return 0
	case x*scoreScale >= math.MaxInt64:
		return scoreFP(math.MaxInt64)
	case x*scoreScale <= math.MinInt64:
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(x * scoreScale))
}

// record is the latest belief for an official.
type record struct {
	score scoreFP
	seq   uint64
	mu    float64
	sigma float64
}

func (r record) entry(id string) model.LeaderboardEntry {
	return model.LeaderboardEntry{
		OfficialID: id,
		Score:      r.mu - 3*r.sigma,
		Mu:         r.mu,
		Sigma:      r.sigma,
	}
}

// treap node
type node struct {
	id    string
	score scoreFP
	seq   uint64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aSeq) should appear before (bScore, bSeq).
func less(aScore scoreFP, aSeq uint64, bScore scoreFP, bSeq uint64) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aSeq < bSeq
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n, fresh *node) *node {
	if n == nil {
		return fresh
	}
	if less(fresh.score, fresh.seq, n.score, n.seq) {
		n.left = insert(n.left, fresh)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, fresh)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, score scoreFP, seq uint64) *node {
	if n == nil {
		return nil
	}
	if score == n.score && seq == n.seq {
		// Merge children by rotating highest priority up until leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, score, seq)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, score, seq)
		}
	} else if less(score, seq, n.score, n.seq) {
		n.left = deleteNode(n.left, score, seq)
	} else {
		n.right = deleteNode(n.right, score, seq)
	}
	fix(n)
	return n
}

// position returns the 1-based in-order index of (score, seq), or 0.
func position(n *node, score scoreFP, seq uint64) int {
	before := 0
	for n != nil {
		switch {
		case score == n.score && seq == n.seq:
			return before + nsize(n.left) + 1
		case less(score, seq, n.score, n.seq):
			n = n.left
		default:
			before += nsize(n.left) + 1
			n = n.right
		}
	}
	return 0
}

// collectTopN appends up to limit entries in rank order.
func collectTopN(n *node, limit int, records map[string]record, out *[]model.LeaderboardEntry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, records, out)
	if len(*out) < limit {
		e := records[n.id].entry(n.id)
		e.Rank = len(*out) + 1
		*out = append(*out, e)
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, records, out)
	}
}

// TreapStore is the in-memory leaderboard.
type TreapStore struct {
	mu      sync.RWMutex
	root    *node
	byID    map[string]record
	nextSeq uint64
	rng     *rand.Rand
	seed    uint64
}

var _ Store = (*TreapStore)(nil)

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	s := &TreapStore{
		byID: make(map[string]record),
		seed: rand.Uint64(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15)) //nolint:gosec // tree balance only
	return s
}

// Upsert implements Store.Upsert with O(log n) expected time.
func (s *TreapStore) Upsert(_ context.Context, b model.RatingBelief) error {
	if b.OfficialID == "" {
		return errEmptyID
	}
	rec := record{score: toFixedPoint(b.ConservativeScore()), mu: b.Mu, sigma: b.Sigma}

	s.mu.Lock()
	old, known := s.byID[b.OfficialID]
	if known {
		rec.seq = old.seq
		if old.score == rec.score {
			s.byID[b.OfficialID] = rec
			s.mu.Unlock()
			return nil
		}
		s.root = deleteNode(s.root, old.score, old.seq)
	} else {
		rec.seq = s.nextSeq
		s.nextSeq++
	}
	s.byID[b.OfficialID] = rec
	s.root = insert(s.root, &node{id: b.OfficialID, score: rec.score, seq: rec.seq, prio: s.rng.Uint64(), size: 1})
	count := len(s.byID)
	s.mu.Unlock()

	if !known {
		metrics.UpdateOfficialsRanked(count)
	}
	return nil
}

// Rank returns the official's rank in O(log n).
func (s *TreapStore) Rank(_ context.Context, officialID string) (model.LeaderboardEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[officialID]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.LeaderboardEntry{}, ErrNotFound
	}
	e := rec.entry(officialID)
	e.Rank = position(s.root, rec.score, rec.seq)
	return e, nil
}

// TopN returns the top N entries ordered by score desc.
func (s *TreapStore) TopN(_ context.Context, n int) ([]model.LeaderboardEntry, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("repository", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LeaderboardEntry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, s.byID, &out)
	return out, nil
}

// Count returns the number of ranked officials.
func (s *TreapStore) Count(_ context.Context) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
