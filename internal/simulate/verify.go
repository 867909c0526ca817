package simulate

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"github.com/okian/civicstake/pkg/logger"
)

const (
	maxLeaderboardPage = 100
	scoreTolerance     = 1e-6
	sigmaMultiplier    = 3
)

// verifyWallets checks conservation per citizen: every point granted is
// either spendable, held in escrow, or donated.
func (r *runner) verifyWallets(ctx context.Context) {
	_ = r.fanOut(ctx, len(r.citizens), func(ctx context.Context, i int) {
		id := r.citizens[i]
		if id == "" {
			return
		}
		w, err := r.c.wallet(ctx, id)
		if err != nil {
			r.violate("wallet %s: %v", id, err)
			return
		}
		st := w.Stats
		if w.Account.Balance < 0 {
			r.violate("wallet %s: negative balance %d", id, w.Account.Balance)
		}
		want := r.initial[i] + r.credited[i]
		if got := w.Account.Balance + st.CurrentlyHeld + st.ReleasedToCharity; got != want {
			r.violate("wallet %s: balance+held+released = %d, granted %d", id, got, want)
		}
		if st.TotalStaked != st.CurrentlyHeld+st.ReleasedToCharity+st.Refunded {
			r.violate("wallet %s: staked %d != held %d + released %d + refunded %d",
				id, st.TotalStaked, st.CurrentlyHeld, st.ReleasedToCharity, st.Refunded)
		}
	})
}

// verifyBounties checks that each question's bounty equals the stakes that
// the service accepted for it.
func (r *runner) verifyBounties(ctx context.Context) {
	_ = r.fanOut(ctx, len(r.questionIDs), func(ctx context.Context, i int) {
		id := r.questionIDs[i]
		if id == "" {
			return
		}
		pq := r.plan.questions[i]
		want := pq.initialStake
		for si, ps := range pq.stakers {
			if r.stakeOK[i][si] {
				want += ps.amount
			}
		}
		q, err := r.c.question(ctx, id)
		if err != nil {
			r.violate("question %s: %v", id, err)
			return
		}
		if q.TotalBounty != want {
			r.violate("question %s: bounty %d, accepted stakes %d", id, q.TotalBounty, want)
		}
		if r.released[i].Load() && q.Status != "answered" {
			r.violate("question %s: released but status %s", id, q.Status)
		}
	})
}

// awaitRanks waits until every official with a released question is ranked.
// Ratings are applied asynchronously, so this polls up to cfg.Settle.
func (r *runner) awaitRanks(ctx context.Context) {
	pending := map[string]bool{}
	for i := range r.released {
		if r.released[i].Load() {
			pending[r.officials[r.plan.questions[i].official]] = true
		}
	}

	deadline := time.Now().Add(r.cfg.Settle)
	for len(pending) > 0 {
		for id := range pending {
			_, err := r.c.rank(ctx, id)
			switch {
			case err == nil:
				delete(pending, id)
			case !hasStatus(err, http.StatusNotFound):
				r.fail(ctx, "rank", err)
			}
		}
		if len(pending) == 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(settlePollInterval):
		}
	}

	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		r.violate("official %s has a released question but no rank after %s", id, r.cfg.Settle)
	}
}

// verifyLeaderboard checks ordering, rank numbering, the conservative score
// formula, and agreement with the per-official rank endpoint.
func (r *runner) verifyLeaderboard(ctx context.Context) []Entry {
	limit := min(r.cfg.Officials, maxLeaderboardPage)
	entries, err := r.c.leaderboard(ctx, limit)
	if err != nil {
		r.violate("leaderboard: %v", err)
		return nil
	}
	for _, v := range checkLeaderboard(entries) {
		r.violate("%s", v)
	}

	for _, e := range entries {
		got, err := r.c.rank(ctx, e.OfficialID)
		if err != nil {
			r.violate("rank %s: %v", e.OfficialID, err)
			continue
		}
		if got.Rank != e.Rank || math.Abs(got.Score-e.Score) > scoreTolerance {
			r.violate("rank %s: #%d (%.4f) but leaderboard has #%d (%.4f)",
				e.OfficialID, got.Rank, got.Score, e.Rank, e.Score)
		}
	}

	if r.cfg.Verbose {
		for _, e := range entries[:min(len(entries), 10)] {
			r.log.Info(ctx, "leaderboard",
				logger.Int("rank", e.Rank),
				logger.String("official", e.OfficialID),
				logger.Float64("score", e.Score))
		}
	}
	return entries
}

// checkLeaderboard validates a leaderboard page in isolation.
func checkLeaderboard(entries []Entry) []string {
	var out []string
	for i, e := range entries {
		if e.Rank != i+1 {
			out = append(out, fmt.Sprintf("leaderboard entry %d has rank %d", i, e.Rank))
		}
		if want := e.Mu - sigmaMultiplier*e.Sigma; math.Abs(e.Score-want) > scoreTolerance {
			out = append(out, fmt.Sprintf("official %s: score %.6f, mu-3sigma %.6f", e.OfficialID, e.Score, want))
		}
		if i > 0 && e.Score > entries[i-1].Score {
			out = append(out, fmt.Sprintf("leaderboard not sorted: #%d scores %.4f above #%d at %.4f",
				e.Rank, e.Score, entries[i-1].Rank, entries[i-1].Score))
		}
	}
	return out
}
