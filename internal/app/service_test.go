package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/adapters/store/memory"
	"github.com/okian/civicstake/internal/app"
	"github.com/okian/civicstake/internal/config"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/pkg/logger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedAnalyzer struct {
	score float64
	err   error
}

func (a fixedAnalyzer) Analyze(context.Context, model.Question, string) (model.AIAnalysis, error) {
	if a.err != nil {
		return model.AIAnalysis{}, a.err
	}
	return model.AIAnalysis{DirectnessScore: a.score, Summary: "fixed", Flags: []string{}}, nil
}

func testConfig() *config.Config {
	cfg := config.New()
	cfg.Sweeper.Schedule = ""
	cfg.WorkerCount = 2
	return cfg
}

func startService(a questions.Analyzer, clk *clock) *app.Service {
	svc := app.New(testConfig(),
		app.WithLogger(logger.NewNop()),
		app.WithAnalyzer(a),
		app.WithClock(clk.Now),
	)
	So(svc.Start(context.Background()), ShouldBeNil)
	return svc
}

// waitRanked polls until the official appears on the leaderboard.
func waitRanked(svc *app.Service, officialID string) (model.LeaderboardEntry, error) {
	deadline := time.Now().Add(3 * time.Second)
	for {
		e, err := svc.Rank(context.Background(), officialID)
		if err == nil || time.Now().After(deadline) {
			return e, err
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		svc := app.New(testConfig(), app.WithLogger(logger.NewNop()))

		Convey("Then operations report it is not started", func() {
			_, err := svc.TopN(context.Background(), 10)
			So(errors.Is(err, app.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats()["started"], ShouldEqual, false)
		})

		Convey("When started twice and stopped twice", func() {
			ctx := context.Background()
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats()["started"], ShouldEqual, true)
			So(svc.Ping(ctx), ShouldBeNil)
			svc.Stop()
			svc.Stop()

			Convey("Then it ends stopped", func() {
				So(svc.GetStats()["started"], ShouldEqual, false)
			})
		})
	})
	Convey("Given a service with an injected store", t, func() {
		ctx := context.Background()
		store := memory.New()
		svc := app.New(testConfig(), app.WithLogger(logger.NewNop()), app.WithStore(store))
		So(svc.Start(ctx), ShouldBeNil)

		acct, err := svc.RegisterAccount(ctx, "ada", model.RoleCitizen)
		So(err, ShouldBeNil)

		Convey("Then an unknown wallet is not found", func() {
			defer svc.Stop()
			_, err := svc.Wallet(ctx, "ghost")
			So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
		})

		Convey("When restarted", func() {
			svc.Stop()
			So(svc.Start(ctx), ShouldBeNil)
			defer svc.Stop()

			Convey("Then the store survives and keeps its accounts", func() {
				got, err := svc.Wallet(ctx, acct.ID)
				So(err, ShouldBeNil)
				So(got.Account.ID, ShouldEqual, acct.ID)

				direct, err := store.Account(ctx, acct.ID)
				So(err, ShouldBeNil)
				So(direct.Name, ShouldEqual, "ada")
			})
		})
	})
}

func TestService_ReleaseFlow(t *testing.T) {
	Convey("Given a running service with a direct-answer analyzer", t, func() {
		ctx := context.Background()
		clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		svc := startService(fixedAnalyzer{score: 85}, clk)
		defer svc.Stop()

		citizen, err := svc.RegisterAccount(ctx, "ana", model.RoleCitizen)
		So(err, ShouldBeNil)
		official, err := svc.RegisterAccount(ctx, "mayor", model.RoleOfficial)
		So(err, ShouldBeNil)

		q, err := svc.OpenQuestion(ctx, questions.NewQuestion{
			Title: "Bus lane", Body: "When does it open?",
			CitizenID: citizen.ID, OfficialID: official.ID, InitialStake: 50,
		})
		So(err, ShouldBeNil)

		Convey("When the official answers within the hour", func() {
			clk.Advance(30 * time.Minute)
			_, released, err := svc.SubmitAnswer(ctx, q.ID, official.ID, "It opens on May 2.", "")
			So(err, ShouldBeNil)

			Convey("Then the stake goes to charity and the official is rated", func() {
				So(released, ShouldBeTrue)

				w, err := svc.Wallet(ctx, citizen.ID)
				So(err, ShouldBeNil)
				So(w.Account.Balance, ShouldEqual, 50)
				So(w.Stats.ReleasedToCharity, ShouldEqual, 50)
				So(w.Stats.CurrentlyHeld, ShouldEqual, 0)

				entry, err := waitRanked(svc, official.ID)
				So(err, ShouldBeNil)
				So(entry.Rank, ShouldEqual, 1)

				b, err := svc.Belief(ctx, official.ID)
				So(err, ShouldBeNil)
				So(b.Mu, ShouldBeGreaterThan, 25)
				So(b.Sigma, ShouldBeLessThan, 8.333)

				again, err := svc.EvaluateRelease(ctx, q.ID)
				So(err, ShouldBeNil)
				So(again, ShouldBeFalse)
			})
		})
	})

	Convey("Given a running service whose analyzer is down", t, func() {
		ctx := context.Background()
		clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		svc := startService(fixedAnalyzer{err: questions.ErrSignalUnavailable}, clk)
		defer svc.Stop()

		asker, _ := svc.RegisterAccount(ctx, "ana", model.RoleCitizen)
		backer, _ := svc.RegisterAccount(ctx, "ben", model.RoleCitizen)
		official, _ := svc.RegisterAccount(ctx, "mayor", model.RoleOfficial)
		q, err := svc.OpenQuestion(ctx, questions.NewQuestion{
			Title: "Library hours", CitizenID: asker.ID, OfficialID: official.ID, InitialStake: 20,
		})
		So(err, ShouldBeNil)
		_, err = svc.Stake(ctx, backer.ID, q.ID, 30)
		So(err, ShouldBeNil)

		a, released, err := svc.SubmitAnswer(ctx, q.ID, official.ID, "We value libraries.", "")
		So(err, ShouldBeNil)
		So(released, ShouldBeFalse)

		Convey("When a staker votes the answer helpful", func() {
			summary, released, err := svc.CastVote(ctx, a.ID, backer.ID, true)
			So(err, ShouldBeNil)

			Convey("Then the community bar releases every stake", func() {
				So(released, ShouldBeTrue)
				So(summary.Total, ShouldEqual, 1)
				So(*summary.HelpfulPercentage, ShouldEqual, 100)

				w, err := svc.Wallet(ctx, asker.ID)
				So(err, ShouldBeNil)
				So(w.Stats.ReleasedToCharity, ShouldEqual, 20)

				_, err = waitRanked(svc, official.ID)
				So(err, ShouldBeNil)
			})
		})

		Convey("When someone who never staked votes", func() {
			outsider, _ := svc.RegisterAccount(ctx, "cy", model.RoleCitizen)
			_, _, err := svc.CastVote(ctx, a.ID, outsider.ID, true)

			Convey("Then the vote is refused", func() {
				So(errors.Is(err, questions.ErrForbidden), ShouldBeTrue)
			})
		})
	})
}

func TestService_Sweep(t *testing.T) {
	Convey("Given an unanswered question with a stake", t, func() {
		ctx := context.Background()
		clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
		svc := startService(nil, clk)
		defer svc.Stop()

		citizen, _ := svc.RegisterAccount(ctx, "ana", model.RoleCitizen)
		official, _ := svc.RegisterAccount(ctx, "mayor", model.RoleOfficial)
		q, err := svc.OpenQuestion(ctx, questions.NewQuestion{
			Title: "Potholes", CitizenID: citizen.ID, OfficialID: official.ID, InitialStake: 40,
		})
		So(err, ShouldBeNil)

		Convey("When swept before the deadline", func() {
			res, err := svc.Sweep(ctx)

			Convey("Then nothing happens", func() {
				So(err, ShouldBeNil)
				So(res.Refunded, ShouldEqual, 0)
			})
		})

		Convey("When swept after the deadline", func() {
			clk.Advance(15 * 24 * time.Hour)
			res, err := svc.Sweep(ctx)
			So(err, ShouldBeNil)

			Convey("Then the stake is refunded and the official penalized", func() {
				So(res.Refunded, ShouldEqual, 1)
				So(res.Expired, ShouldEqual, 1)

				w, err := svc.Wallet(ctx, citizen.ID)
				So(err, ShouldBeNil)
				So(w.Account.Balance, ShouldEqual, 100)
				So(w.Stats.Refunded, ShouldEqual, 40)

				got, err := svc.Question(ctx, q.ID)
				So(err, ShouldBeNil)
				So(got.Status, ShouldEqual, model.QuestionExpired)

				b, err := svc.Belief(ctx, official.ID)
				So(err, ShouldBeNil)
				So(b.Mu, ShouldBeLessThan, 25)

				top, err := svc.TopN(ctx, 10)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 1)
				So(top[0].OfficialID, ShouldEqual, official.ID)
			})
		})
	})
}
