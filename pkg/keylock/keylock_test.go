package keylock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/okian/civicstake/pkg/keylock"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLocker(t *testing.T) {
	Convey("Given a keyed locker", t, func() {
		l := keylock.New()
		ctx := context.Background()

		Convey("When many goroutines increment a counter under the same key", func() {
			counter := 0
			var wg sync.WaitGroup
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := l.Lock(ctx, "official-1")
					if err != nil {
						return
					}
					defer unlock()
					v := counter
					time.Sleep(time.Microsecond)
					counter = v + 1
				}()
			}
			wg.Wait()

			Convey("Then no update is lost and the entry is released", func() {
				So(counter, ShouldEqual, 50)
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When different keys are locked", func() {
			u1, err1 := l.Lock(ctx, "a")
			u2, err2 := l.Lock(ctx, "b")

			Convey("Then neither blocks the other", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(l.Len(), ShouldEqual, 2)
				u1()
				u2()
				So(l.Len(), ShouldEqual, 0)
			})
		})

		Convey("When a held key is requested with a short deadline", func() {
			unlock, err := l.Lock(ctx, "q")
			So(err, ShouldBeNil)

			tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
			defer cancel()
			_, err = l.Lock(tctx, "q")

			Convey("Then the waiter gives up with the context error", func() {
				So(err, ShouldEqual, context.DeadlineExceeded)
				unlock()
				unlock()
				So(l.Len(), ShouldEqual, 0)
			})
		})
	})
}
