// Package ledgertest is a behavioral suite every ledger.Store backend must pass.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the suite. newStore must return an empty store for every call.
func Run(t *testing.T, newStore func() ledger.Store) {
	t.Helper()

	Convey("Accounts", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()
		mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertAccount(ctx, account("a1", 100))
		})

		Convey("A duplicate insert is refused", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				return tx.InsertAccount(ctx, account("a1", 5))
			})
			So(errors.Is(err, ledger.ErrAlreadyExists), ShouldBeTrue)
		})

		Convey("Debit and credit move the balance", func() {
			mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
				if err := tx.Debit(ctx, "a1", 30); err != nil {
					return err
				}
				return tx.Credit(ctx, "a1", 5)
			})
			a, err := s.Account(ctx, "a1")
			So(err, ShouldBeNil)
			So(a.Balance, ShouldEqual, 75)
		})

		Convey("An overdraft is refused and leaves the balance", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				return tx.Debit(ctx, "a1", 101)
			})
			So(errors.Is(err, ledger.ErrInsufficientFunds), ShouldBeTrue)
			a, _ := s.Account(ctx, "a1")
			So(a.Balance, ShouldEqual, 100)
		})

		Convey("A failing transaction rolls every write back", func() {
			boom := errors.New("boom")
			err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				if err := tx.Debit(ctx, "a1", 40); err != nil {
					return err
				}
				if err := tx.InsertAccount(ctx, account("a2", 10)); err != nil {
					return err
				}
				return boom
			})
			So(errors.Is(err, boom), ShouldBeTrue)
			a, _ := s.Account(ctx, "a1")
			So(a.Balance, ShouldEqual, 100)
			_, err = s.Account(ctx, "a2")
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
		})

		Convey("Unknown accounts are not found", func() {
			_, err := s.Account(ctx, "nope")
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
			err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				return tx.Debit(ctx, "nope", 1)
			})
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Questions and escrow entries", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()
		seed(ctx, s, "q1", t0.Add(24*time.Hour), "a1", "a2")

		Convey("Staking is visible through both indexes", func() {
			mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
				for i, acct := range []string{"a1", "a2", "a1"} {
					if err := tx.InsertEntry(ctx, entry(fmt.Sprintf("e%d", i), acct, "q1", int64(10*(i+1)))); err != nil {
						return err
					}
					if err := tx.AddBounty(ctx, "q1", int64(10*(i+1))); err != nil {
						return err
					}
				}
				return nil
			})

			q, err := s.Question(ctx, "q1")
			So(err, ShouldBeNil)
			So(q.TotalBounty, ShouldEqual, 60)

			byQ, _ := s.EntriesByQuestion(ctx, "q1")
			So(byQ, ShouldHaveLength, 3)
			So(byQ[0].ID, ShouldEqual, "e0")
			byA, _ := s.EntriesByAccount(ctx, "a1")
			So(byA, ShouldHaveLength, 2)

			var staked, absent bool
			mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
				var err error
				if staked, err = tx.HasStake(ctx, "q1", "a2"); err != nil {
					return err
				}
				absent, err = tx.HasStake(ctx, "q1", "a3")
				return err
			})
			So(staked, ShouldBeTrue)
			So(absent, ShouldBeFalse)

			Convey("Finalizing moves only held entries", func() {
				var first, second int
				at := t0.Add(time.Hour)
				mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
					held, err := tx.HeldEntries(ctx, "q1")
					if err != nil {
						return err
					}
					first, err = tx.FinalizeEntries(ctx, ids(held), model.StatusReleased, "charity-x", at)
					if err != nil {
						return err
					}
					second, err = tx.FinalizeEntries(ctx, ids(held), model.StatusRefunded, "", at)
					return err
				})
				So(first, ShouldEqual, 3)
				So(second, ShouldEqual, 0)

				after, _ := s.EntriesByQuestion(ctx, "q1")
				for _, e := range after {
					So(e.Status, ShouldEqual, model.StatusReleased)
					So(e.CharityID, ShouldEqual, "charity-x")
					So(e.ReleasedAt, ShouldNotBeNil)
					So(e.ReleasedAt.Equal(at), ShouldBeTrue)
				}
			})

			Convey("Refunded entries carry no charity", func() {
				mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
					held, err := tx.HeldEntries(ctx, "q1")
					if err != nil {
						return err
					}
					_, err = tx.FinalizeEntries(ctx, ids(held), model.StatusRefunded, "charity-x", t0)
					return err
				})
				after, _ := s.EntriesByQuestion(ctx, "q1")
				So(after[0].Status, ShouldEqual, model.StatusRefunded)
				So(after[0].CharityID, ShouldBeEmpty)
			})
		})

		Convey("Status changes are persisted", func() {
			mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
				return tx.SetQuestionStatus(ctx, "q1", model.QuestionAnswered)
			})
			q, _ := s.Question(ctx, "q1")
			So(q.Status, ShouldEqual, model.QuestionAnswered)
		})

		Convey("Unknown questions are not found", func() {
			_, err := s.Question(ctx, "nope")
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
			err = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				_, err := tx.LockQuestion(ctx, "nope")
				return err
			})
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Answers and votes", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()
		seed(ctx, s, "q1", t0.Add(24*time.Hour), "c1", "c2")

		_, err := s.AnswerForQuestion(ctx, "q1")
		So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)

		mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertAnswer(ctx, model.Answer{
				ID: "ans1", QuestionID: "q1", OfficialID: "o-q1", Content: "yes",
				Analysis: model.Available(model.AIAnalysis{DirectnessScore: 82, Summary: "direct", Flags: []string{}}), CreatedAt: t0,
			})
		})

		Convey("The answer round-trips with its analysis", func() {
			a, err := s.AnswerForQuestion(ctx, "q1")
			So(err, ShouldBeNil)
			So(a.ID, ShouldEqual, "ans1")
			score, ok := a.Analysis.Score()
			So(ok, ShouldBeTrue)
			So(score, ShouldEqual, 82)

			byID, err := s.Answer(ctx, "ans1")
			So(err, ShouldBeNil)
			So(byID.Content, ShouldEqual, "yes")
		})

		Convey("A second answer is refused", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				return tx.InsertAnswer(ctx, model.Answer{ID: "ans2", QuestionID: "q1", OfficialID: "o-q1", CreatedAt: t0})
			})
			So(errors.Is(err, ledger.ErrAlreadyExists), ShouldBeTrue)
		})

		Convey("A citizen's re-vote replaces the earlier one", func() {
			vote := func(id, citizen string, helpful bool) {
				mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
					return tx.UpsertVote(ctx, model.Vote{ID: id, AnswerID: "ans1", CitizenID: citizen, Helpful: helpful, CreatedAt: t0})
				})
			}
			vote("v1", "c1", false)
			vote("v2", "c2", true)
			vote("v3", "c1", true)

			tally, err := s.VoteTally(ctx, "ans1")
			So(err, ShouldBeNil)
			So(tally.Total, ShouldEqual, 2)
			So(tally.Helpful, ShouldEqual, 2)

			mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
				if err := tx.UpsertVote(ctx, model.Vote{ID: "v4", AnswerID: "ans1", CitizenID: "c2", Helpful: false, CreatedAt: t0}); err != nil {
					return err
				}
				inTx, err := tx.VoteTally(ctx, "ans1")
				if err != nil {
					return err
				}
				if inTx.Total != 2 || inTx.Helpful != 1 {
					return fmt.Errorf("tally inside tx = %+v", inTx)
				}
				return nil
			})
		})

		Convey("Voting on an unknown answer fails", func() {
			err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
				return tx.UpsertVote(ctx, model.Vote{ID: "v9", AnswerID: "ghost", CitizenID: "c1", CreatedAt: t0})
			})
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("Expired question listing", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()
		seed(ctx, s, "late", t0.Add(-2*time.Hour))
		seed(ctx, s, "later", t0.Add(-time.Hour))
		seed(ctx, s, "edge", t0)
		seed(ctx, s, "future", t0.Add(time.Hour))
		seed(ctx, s, "closed", t0.Add(-3*time.Hour))
		mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
			return tx.SetQuestionStatus(ctx, "closed", model.QuestionAnswered)
		})

		Convey("Only open questions at or past the deadline are listed, oldest first", func() {
			due, err := s.ExpiredQuestions(ctx, t0, 0)
			So(err, ShouldBeNil)
			So(questionIDs(due), ShouldResemble, []string{"late", "later", "edge"})
		})

		Convey("The limit truncates", func() {
			due, err := s.ExpiredQuestions(ctx, t0, 2)
			So(err, ShouldBeNil)
			So(questionIDs(due), ShouldResemble, []string{"late", "later"})
		})
	})

	Convey("Beliefs", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()

		_, err := s.Belief(ctx, "o1")
		So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)

		So(s.SaveBelief(ctx, model.RatingBelief{OfficialID: "o1", Mu: 25, Sigma: 8, UpdatedAt: t0}, 0), ShouldBeNil)

		Convey("A save bumps the version", func() {
			b, err := s.Belief(ctx, "o1")
			So(err, ShouldBeNil)
			So(b.Version, ShouldEqual, 1)
			So(b.Mu, ShouldEqual, 25)
		})

		Convey("A stale version conflicts", func() {
			err := s.SaveBelief(ctx, model.RatingBelief{OfficialID: "o1", Mu: 30, Sigma: 8, UpdatedAt: t0}, 0)
			So(errors.Is(err, ledger.ErrVersionConflict), ShouldBeTrue)
			err = s.SaveBelief(ctx, model.RatingBelief{OfficialID: "o2", Mu: 30, Sigma: 8, UpdatedAt: t0}, 3)
			So(errors.Is(err, ledger.ErrVersionConflict), ShouldBeTrue)
		})

		Convey("A matching version succeeds and all beliefs are listed by id", func() {
			So(s.SaveBelief(ctx, model.RatingBelief{OfficialID: "o1", Mu: 27, Sigma: 7, UpdatedAt: t0}, 1), ShouldBeNil)
			So(s.SaveBelief(ctx, model.RatingBelief{OfficialID: "o0", Mu: 20, Sigma: 9, UpdatedAt: t0}, 0), ShouldBeNil)
			all, err := s.Beliefs(ctx)
			So(err, ShouldBeNil)
			So(all, ShouldHaveLength, 2)
			So(all[0].OfficialID, ShouldEqual, "o0")
			So(all[1].Version, ShouldEqual, 2)
			So(all[1].Mu, ShouldEqual, 27)
		})
	})

	Convey("Concurrent debits never overdraw", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()
		mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertAccount(ctx, account("a1", 100))
		})

		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
					return tx.Debit(ctx, "a1", 10)
				})
				if err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		a, _ := s.Account(ctx, "a1")
		So(ok, ShouldEqual, 10)
		So(a.Balance, ShouldEqual, 0)
	})

	Convey("LockQuestion serializes transactions on one question", t, func() {
		ctx := context.Background()
		s := newStore()
		defer s.Close()
		seed(ctx, s, "q1", t0.Add(time.Hour), "a1")

		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			inside int
			peak   int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
					if _, err := tx.LockQuestion(ctx, "q1"); err != nil {
						return err
					}
					mu.Lock()
					inside++
					peak = max(peak, inside)
					mu.Unlock()
					time.Sleep(2 * time.Millisecond)
					mu.Lock()
					inside--
					mu.Unlock()
					return tx.AddBounty(ctx, "q1", 1)
				})
			}()
		}
		wg.Wait()

		q, _ := s.Question(ctx, "q1")
		So(peak, ShouldEqual, 1)
		So(q.TotalBounty, ShouldEqual, 8)
	})
}

func mustTx(ctx context.Context, s ledger.Store, fn func(context.Context, ledger.Tx) error) {
	So(s.RunInTx(ctx, fn), ShouldBeNil)
}

func account(id string, balance int64) model.Account {
	return model.Account{ID: id, Name: id, Role: model.RoleCitizen, Balance: balance, CreatedAt: t0}
}

func entry(id, acct, question string, amount int64) model.EscrowEntry {
	return model.EscrowEntry{ID: id, AccountID: acct, QuestionID: question, Amount: amount, Status: model.StatusHeld, CreatedAt: t0}
}

// seed inserts an official, the question, and the given citizen accounts.
func seed(ctx context.Context, s ledger.Store, question string, deadline time.Time, citizens ...string) {
	mustTx(ctx, s, func(ctx context.Context, tx ledger.Tx) error {
		official := model.Account{ID: "o-" + question, Role: model.RoleOfficial, CreatedAt: t0}
		if err := tx.InsertAccount(ctx, official); err != nil {
			return err
		}
		for _, c := range citizens {
			if err := tx.InsertAccount(ctx, account(c, 100)); err != nil {
				return err
			}
		}
		return tx.InsertQuestion(ctx, model.Question{
			ID: question, Title: question, CitizenID: "author", OfficialID: official.ID,
			Status: model.QuestionOpen, Deadline: deadline, CreatedAt: t0.Add(-48 * time.Hour),
		})
	})
}

func ids(entries []model.EscrowEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func questionIDs(qs []model.Question) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}
