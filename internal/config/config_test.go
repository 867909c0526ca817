package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/civicstake/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.Store, convey.ShouldEqual, config.KindMemory)
			convey.So(cfg.EventBus, convey.ShouldEqual, config.KindMemory)
			convey.So(cfg.InitialPoints, convey.ShouldEqual, 100)
			convey.So(cfg.MaxPurchase, convey.ShouldEqual, 1000)
			convey.So(cfg.EscrowTimeout, convey.ShouldEqual, 14*24*time.Hour)
			convey.So(cfg.Policy.AIThreshold, convey.ShouldEqual, 70)
			convey.So(cfg.Policy.MinVotes, convey.ShouldEqual, 1)
			convey.So(cfg.Policy.HelpfulFraction, convey.ShouldEqual, 0.5)
			convey.So(cfg.Rating.DefaultMu, convey.ShouldEqual, 25)
			convey.So(cfg.Sweeper.PenalizeIgnored, convey.ShouldBeTrue)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad setting each", t, func() {
		cases := map[string]func(c *config.Config){
			"empty addr":              func(c *config.Config) { c.Addr = " " },
			"unknown store":           func(c *config.Config) { c.Store = "sqlite" },
			"postgres without dsn":    func(c *config.Config) { c.Store = config.KindPostgres },
			"unknown bus":             func(c *config.Config) { c.EventBus = "kafka" },
			"redis without url":       func(c *config.Config) { c.EventBus = config.KindRedis },
			"threshold above 100":     func(c *config.Config) { c.Policy.AIThreshold = 101 },
			"helpful fraction of one": func(c *config.Config) { c.Policy.HelpfulFraction = 1 },
			"zero min votes":          func(c *config.Config) { c.Policy.MinVotes = 0 },
			"zero workers":            func(c *config.Config) { c.WorkerCount = 0 },
			"zero escrow timeout":     func(c *config.Config) { c.EscrowTimeout = 0 },
			"unknown log format":      func(c *config.Config) { c.LogFormat = "xml" },
			"negative batch size":     func(c *config.Config) { c.Sweeper.BatchSize = -1 },
			"negative publish wait":   func(c *config.Config) { c.QueuePublishWait = -time.Second },
		}

		for _, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			err := cfg.Validate()
			convey.So(err, convey.ShouldNotBeNil)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		}
	})

	convey.Convey("Given a postgres and redis config with connection strings", t, func() {
		cfg := config.New()
		cfg.Store = config.KindPostgres
		cfg.Postgres.DSN = "postgres://civic@localhost/civic"
		cfg.EventBus = config.KindRedis
		cfg.Redis.URL = "redis://localhost:6379/0"

		convey.So(cfg.Validate(), convey.ShouldBeNil)
	})
}
