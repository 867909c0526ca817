//go:build integration

package app_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/okian/civicstake/internal/app"
	"github.com/okian/civicstake/internal/config"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
	platformredis "github.com/okian/civicstake/internal/platform/redis"
	"github.com/okian/civicstake/pkg/logger"
)

func TestService_PostgresAndRedis(t *testing.T) {
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("civicstake"),
		tcpostgres.WithUsername("civic"),
		tcpostgres.WithPassword("civic"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	rd, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = rd.Terminate(ctx) })
	redisURL, err := rd.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	Convey("Given a service on postgres with the redis event bus", t, func() {
		cfg := config.New()
		cfg.Store = config.KindPostgres
		cfg.Postgres.DSN = dsn
		cfg.EventBus = config.KindRedis
		cfg.Redis.URL = redisURL
		cfg.Sweeper.Schedule = ""
		So(cfg.Validate(), ShouldBeNil)

		client, err := platformredis.Open(ctx, redisURL, logger.NewNop())
		So(err, ShouldBeNil)
		defer func() { _ = client.Close() }()

		svc := app.New(cfg,
			app.WithLogger(logger.NewNop()),
			app.WithAnalyzer(fixedAnalyzer{score: 90}),
			app.WithRedis(client),
		)
		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		citizen, err := svc.RegisterAccount(ctx, "ana", model.RoleCitizen)
		So(err, ShouldBeNil)
		official, err := svc.RegisterAccount(ctx, "mayor", model.RoleOfficial)
		So(err, ShouldBeNil)
		q, err := svc.OpenQuestion(ctx, questions.NewQuestion{
			Title: "Snow removal", CitizenID: citizen.ID, OfficialID: official.ID, InitialStake: 25,
		})
		So(err, ShouldBeNil)

		Convey("When the official answers directly", func() {
			_, released, err := svc.SubmitAnswer(ctx, q.ID, official.ID, "Plows run at 4am on arterials.", "")
			So(err, ShouldBeNil)
			So(released, ShouldBeTrue)

			Convey("Then the release event crosses the stream and ranks the official", func() {
				entry, err := waitRanked(svc, official.ID)
				So(err, ShouldBeNil)
				So(entry.OfficialID, ShouldEqual, official.ID)

				b, err := svc.Belief(ctx, official.ID)
				So(err, ShouldBeNil)
				So(b.Version, ShouldEqual, 1)
			})
		})
	})
}
