package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/adapters/mq/queue"
	"github.com/okian/civicstake/internal/adapters/mq/worker"
	"github.com/okian/civicstake/internal/domain/dedupe"
	"github.com/okian/civicstake/internal/domain/model"
)

type mockRater struct {
	mu      sync.Mutex
	calls   map[string]int
	samples []model.PerformanceSample
	fail    map[string]error
}

func newMockRater() *mockRater {
	return &mockRater{calls: map[string]int{}, fail: map[string]error{}}
}

func (m *mockRater) UpdateOnResponse(_ context.Context, officialID string, s model.PerformanceSample) (model.RatingBelief, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[officialID]; ok {
		return model.RatingBelief{}, err
	}
	m.calls[officialID]++
	m.samples = append(m.samples, s)
	return model.RatingBelief{OfficialID: officialID, Mu: 26, Sigma: 8}, nil
}

func (m *mockRater) count(officialID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[officialID]
}

func (m *mockRater) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockRater) heal(officialID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fail, officialID)
}

func event(question, official string) model.ReleaseEvent {
	sat := 80.0
	return model.ReleaseEvent{
		EventID: question, QuestionID: question, OfficialID: official,
		BountyValue: 1000, ResponseTimeHours: 0.5, Satisfaction: &sat,
	}
}

func TestProcessor(t *testing.T) {
	Convey("Given a processor", t, func() {
		ctx := context.Background()
		rater := newMockRater()
		p := worker.NewProcessor(rater, worker.WithDeduper(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(10))))

		Convey("When a release event is processed", func() {
			err := p.Process(ctx, event("q1", "o1"))

			Convey("Then the official is rated with the event's sample", func() {
				So(err, ShouldBeNil)
				So(rater.count("o1"), ShouldEqual, 1)
				So(rater.samples[0].BountyValue, ShouldEqual, 1000)
				So(rater.samples[0].ResponseTimeHours, ShouldEqual, 0.5)
				So(*rater.samples[0].Satisfaction, ShouldEqual, 80)
			})
		})

		Convey("When the same event arrives twice", func() {
			So(p.Process(ctx, event("q1", "o1")), ShouldBeNil)
			So(p.Process(ctx, event("q1", "o1")), ShouldBeNil)

			Convey("Then the rating moves once", func() {
				So(rater.count("o1"), ShouldEqual, 1)
			})
		})

		Convey("When the rating update fails", func() {
			rater.fail["o1"] = errors.New("store down")
			err := p.Process(ctx, event("q1", "o1"))

			Convey("Then the error surfaces and a redelivery is applied", func() {
				So(err, ShouldNotBeNil)
				So(rater.count("o1"), ShouldEqual, 0)
				rater.heal("o1")
				So(p.Process(ctx, event("q1", "o1")), ShouldBeNil)
				So(rater.count("o1"), ShouldEqual, 1)
			})
		})

		Convey("When the event has no official", func() {
			err := p.Process(ctx, model.ReleaseEvent{EventID: "q1"})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, worker.ErrInvalidEvent), ShouldBeTrue)
			})
		})
	})
}

func TestPool(t *testing.T) {
	Convey("Given a pool draining a queue", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		rater := newMockRater()
		q := queue.NewInMemoryQueue(queue.WithCapacity(500))
		pool := worker.NewPool(4, q, worker.NewProcessor(rater), nil)
		pool.Start(ctx)

		Convey("When events and duplicates are published", func() {
			for i := 0; i < 100; i++ {
				So(q.Publish(ctx, event(fmt.Sprintf("q%d", i), fmt.Sprintf("o%d", i%10))), ShouldBeNil)
			}
			for i := 0; i < 50; i++ {
				So(q.Publish(ctx, event(fmt.Sprintf("q%d", i), fmt.Sprintf("o%d", i%10))), ShouldBeNil)
			}
			err := pool.Shutdown(ctx)

			Convey("Then every distinct release is applied exactly once", func() {
				So(err, ShouldBeNil)
				So(rater.total(), ShouldEqual, 100)
				for o := 0; o < 10; o++ {
					So(rater.count(fmt.Sprintf("o%d", o)), ShouldEqual, 10)
				}
			})
		})
	})

	Convey("Given a pool whose source cannot be closed", t, func() {
		ctx := context.Background()
		src := chanSource(make(chan model.ReleaseEvent))
		pool := worker.NewPool(2, src, worker.NewProcessor(newMockRater()), nil)
		pool.Start(ctx)

		Convey("Then shutdown still stops the workers", func() {
			sctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			So(pool.Shutdown(sctx), ShouldBeNil)
		})
	})
}

type chanSource chan model.ReleaseEvent

func (c chanSource) Dequeue(context.Context) <-chan model.ReleaseEvent { return c }
