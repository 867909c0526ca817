package sweeper

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/adapters/store/memory"
	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
)

type fakeLease struct {
	grant    bool
	acquired int
	released int
}

func (l *fakeLease) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	if !l.grant {
		return nil, false, nil
	}
	l.acquired++
	return func() { l.released++ }, true, nil
}

func TestScheduledRunLease(t *testing.T) {
	Convey("Given an overdue question and a lease", t, func() {
		ctx := context.Background()
		mem := memory.New()
		t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		err := mem.RunInTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
			return tx.InsertQuestion(ctx, model.Question{
				ID: "q1", OfficialID: "o1", Status: model.QuestionOpen, CreatedAt: t0, Deadline: t0.Add(time.Hour),
			})
		})
		So(err, ShouldBeNil)

		lease := &fakeLease{}
		s := New(escrow.New(mem),
			WithClock(func() time.Time { return t0.Add(2 * time.Hour) }),
			WithLease(lease, time.Minute))
		defer s.Close()

		Convey("When another replica holds the lease", func() {
			s.runScheduled(ctx)

			Convey("Then the run is skipped", func() {
				q, _ := mem.Question(ctx, "q1")
				So(q.Status, ShouldEqual, model.QuestionOpen)
			})
		})

		Convey("When the lease is granted", func() {
			lease.grant = true
			s.runScheduled(ctx)

			Convey("Then the sweep runs and the lease is released", func() {
				q, _ := mem.Question(ctx, "q1")
				So(q.Status, ShouldEqual, model.QuestionExpired)
				So(lease.acquired, ShouldEqual, 1)
				So(lease.released, ShouldEqual, 1)
			})
		})
	})
}
