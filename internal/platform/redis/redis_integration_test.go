//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	platform "github.com/okian/civicstake/internal/platform/redis"
	"github.com/okian/civicstake/pkg/logger"
)

func TestLeaseAndDeduper(t *testing.T) {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })
	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	client, err := platform.Open(ctx, url, logger.NewNop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	Convey("Given a lease", t, func() {
		So(client.FlushAll(ctx).Err(), ShouldBeNil)
		a := platform.NewLease(client, nil)
		b := platform.NewLease(client, nil)

		release, ok, err := a.TryAcquire(ctx, "sweep", time.Minute)
		So(err, ShouldBeNil)
		So(ok, ShouldBeTrue)

		Convey("Then a second holder is refused until release", func() {
			_, ok, err := b.TryAcquire(ctx, "sweep", time.Minute)
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)

			release()
			releaseB, ok, err := b.TryAcquire(ctx, "sweep", time.Minute)
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)

			Convey("And a stale release does not free the new holder", func() {
				release()
				_, ok, _ := a.TryAcquire(ctx, "sweep", time.Minute)
				So(ok, ShouldBeFalse)
				releaseB()
			})
		})
	})

	Convey("Given a Redis deduper", t, func() {
		So(client.FlushAll(ctx).Err(), ShouldBeNil)
		d := platform.NewDeduper(client, "test:seen:", time.Minute)

		seen, err := d.SeenAndRecord(ctx, "q1")
		So(err, ShouldBeNil)
		So(seen, ShouldBeFalse)
		seen, _ = d.SeenAndRecord(ctx, "q1")
		So(seen, ShouldBeTrue)
		So(d.Size(), ShouldEqual, 1)

		So(d.Unrecord(ctx, "q1"), ShouldBeNil)
		seen, _ = d.SeenAndRecord(ctx, "q1")
		So(seen, ShouldBeFalse)
	})
}
