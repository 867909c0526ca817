package simulate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/adapters/http/api"
	"github.com/okian/civicstake/internal/app"
	"github.com/okian/civicstake/internal/config"
	"github.com/okian/civicstake/pkg/logger"
)

func smallConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Citizens = 12
	cfg.Officials = 3
	cfg.Questions = 20
	cfg.StakersPerQuestion = 2
	cfg.AnswerRate = 1
	cfg.HelpfulRate = 1
	cfg.Workers = 4
	cfg.Settle = 5 * time.Second
	return cfg
}

func TestConfigValidate(t *testing.T) {
	Convey("Given the default config", t, func() {
		So(DefaultConfig().Validate(), ShouldBeNil)

		cases := []func(*Config){
			func(c *Config) { c.BaseURL = "" },
			func(c *Config) { c.Citizens = 0 },
			func(c *Config) { c.Officials = 0 },
			func(c *Config) { c.Questions = -1 },
			func(c *Config) { c.MaxStake = 0 },
			func(c *Config) { c.HelpfulRate = 1.5 },
			func(c *Config) { c.AnswerRate = -0.1 },
			func(c *Config) { c.Workers = 0 },
			func(c *Config) { c.Timeout = 0 },
		}
		Convey("Then each broken field is rejected", func() {
			for _, mutate := range cases {
				cfg := DefaultConfig()
				mutate(&cfg)
				So(errors.Is(cfg.Validate(), ErrInvalidConfig), ShouldBeTrue)
			}
		})
	})
}

func TestPlan(t *testing.T) {
	Convey("Given a seeded scenario", t, func() {
		cfg := DefaultConfig()

		Convey("Then the same seed draws the same plan", func() {
			So(newPlan(cfg), ShouldResemble, newPlan(cfg))
		})

		Convey("And stakers are distinct and never the asker", func() {
			for _, q := range newPlan(cfg).questions {
				seen := map[int]bool{q.asker: true}
				for _, s := range q.stakers {
					So(seen[s.citizen], ShouldBeFalse)
					seen[s.citizen] = true
					So(s.amount, ShouldBeBetweenOrEqual, int64(1), cfg.MaxStake)
				}
				So(len(q.stakers), ShouldEqual, cfg.StakersPerQuestion)
				So(len(q.helpful), ShouldEqual, len(q.stakers)+1)
			}
		})

		Convey("And a single citizen gets no extra stakers", func() {
			cfg.Citizens = 1
			for _, q := range newPlan(cfg).questions {
				So(q.stakers, ShouldBeEmpty)
			}
		})
	})
}

func TestCheckLeaderboard(t *testing.T) {
	Convey("Given leaderboard pages", t, func() {
		good := []Entry{
			{Rank: 1, OfficialID: "a", Mu: 30, Sigma: 2, Score: 24},
			{Rank: 2, OfficialID: "b", Mu: 25, Sigma: 8, Score: 1},
		}
		So(checkLeaderboard(good), ShouldBeEmpty)
		So(checkLeaderboard(nil), ShouldBeEmpty)

		Convey("Then out-of-order scores are reported", func() {
			bad := []Entry{good[1], good[0]}
			bad[0].Rank, bad[1].Rank = 1, 2
			So(checkLeaderboard(bad), ShouldHaveLength, 1)
		})

		Convey("And a score off the conservative formula is reported", func() {
			bad := append([]Entry{}, good...)
			bad[1].Score = 2
			So(checkLeaderboard(bad), ShouldHaveLength, 1)
		})

		Convey("And gaps in rank numbering are reported", func() {
			bad := append([]Entry{}, good...)
			bad[1].Rank = 3
			So(checkLeaderboard(bad), ShouldHaveLength, 1)
		})
	})
}

func TestClient(t *testing.T) {
	Convey("Given a server that rejects a stake", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":"insufficient_funds","message":"not enough points"}`))
		}))
		defer srv.Close()

		err := newClient(srv.URL, time.Second).stake(context.Background(), "q", "a", 5)

		Convey("Then the error carries the API status and code", func() {
			So(hasStatus(err, http.StatusUnprocessableEntity), ShouldBeTrue)
			So(hasStatus(err, http.StatusNotFound), ShouldBeFalse)
			var se *StatusError
			So(errors.As(err, &se), ShouldBeTrue)
			So(se.Code, ShouldEqual, "insufficient_funds")
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given an in-memory service behind a test server", t, func() {
		ctx := context.Background()
		cfg := config.New()
		cfg.WorkerCount = 2
		cfg.Sweeper.Schedule = ""

		svc := app.New(cfg, app.WithLogger(logger.NewNop()))
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		mux := http.NewServeMux()
		api.NewServer(svc, svc, cfg.MaxLeaderboardLimit, logger.NewNop()).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		defer srv.Close()

		Convey("When a small scenario runs with every vote helpful", func() {
			simCfg := smallConfig(srv.URL)
			simCfg.Output = filepath.Join(t.TempDir(), "reports", "run.json")
			report, err := Run(ctx, simCfg, logger.NewNop())

			Convey("Then every check passes and ratings reach the leaderboard", func() {
				So(err, ShouldBeNil)
				So(report.Violations, ShouldBeEmpty)
				So(report.OK(), ShouldBeTrue)
				So(report.Citizens, ShouldEqual, int64(12))
				So(report.Officials, ShouldEqual, int64(3))
				So(report.QuestionsOpened+report.StakesRejected, ShouldBeGreaterThanOrEqualTo, int64(20))
				So(report.Answers, ShouldEqual, report.QuestionsOpened)
				So(report.Released, ShouldBeGreaterThan, int64(0))
				So(report.Leaderboard, ShouldNotBeEmpty)
				So(report.Sweep, ShouldNotBeNil)
				So(report.Sweep.Expired, ShouldEqual, 0)
				So(report.RequestFailures, ShouldEqual, int64(0))
				_, statErr := os.Stat(simCfg.Output)
				So(statErr, ShouldBeNil)
			})
		})
	})

	Convey("Given no service at the base URL", t, func() {
		cfg := smallConfig("http://127.0.0.1:1")
		cfg.Timeout = 500 * time.Millisecond

		_, err := Run(context.Background(), cfg, nil)

		Convey("Then the run stops at the health check", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "health check")
		})
	})

	Convey("Given an invalid config", t, func() {
		cfg := smallConfig("")
		_, err := Run(context.Background(), cfg, nil)
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}
