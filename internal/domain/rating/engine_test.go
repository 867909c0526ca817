package rating_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/adapters/store/memory"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/rating"
)

type conflictingStore struct {
	*memory.Store
	conflicts atomic.Int32
}

func (s *conflictingStore) SaveBelief(ctx context.Context, b model.RatingBelief, expected int64) error {
	if s.conflicts.Add(-1) >= 0 {
		return ledger.ErrVersionConflict
	}
	return s.Store.SaveBelief(ctx, b, expected)
}

type recordingRanker struct {
	mu   sync.Mutex
	seen map[string]model.RatingBelief
}

func (r *recordingRanker) Upsert(_ context.Context, b model.RatingBelief) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]model.RatingBelief)
	}
	r.seen[b.OfficialID] = b
	return nil
}

func pct(v float64) *float64 { return &v }

func TestUpdateOnResponse(t *testing.T) {
	Convey("Given a never-rated official", t, func() {
		ctx := context.Background()
		ranker := &recordingRanker{}
		e := rating.New(memory.New(), rating.WithRanker(ranker))

		Convey("When they answer a 1000-point question in half an hour", func() {
			b, err := e.UpdateOnResponse(ctx, "o1", model.PerformanceSample{BountyValue: 1000, ResponseTimeHours: 0.5})

			Convey("Then mu gains twice the single-win delta", func() {
				So(err, ShouldBeNil)
				So(b.Mu, ShouldAlmostEqual, 25+2*2.635, 0.01)
				So(b.Sigma, ShouldAlmostEqual, 8.066, 0.01)
				So(b.Sigma, ShouldBeLessThan, 25.0/3)
				So(b.Version, ShouldEqual, 1)
			})

			Convey("And the ranker sees the new belief", func() {
				So(ranker.seen["o1"].Mu, ShouldEqual, b.Mu)
			})

			Convey("And the belief is persisted", func() {
				got, err := e.Belief(ctx, "o1")
				So(err, ShouldBeNil)
				So(got.Mu, ShouldEqual, b.Mu)
				So(got.Version, ShouldEqual, 1)
			})
		})

		Convey("When a slow answer is voted unhelpful", func() {
			b, err := e.UpdateOnResponse(ctx, "o1", model.PerformanceSample{
				BountyValue: 0, ResponseTimeHours: 100, Satisfaction: pct(10),
			})

			Convey("Then mu creeps up and sigma shrinks by a tenth", func() {
				So(err, ShouldBeNil)
				So(b.Mu, ShouldAlmostEqual, 25.1, 1e-9)
				So(b.Sigma, ShouldAlmostEqual, 25.0/3-0.1, 1e-9)
			})
		})

		Convey("When the official id is empty", func() {
			_, err := e.UpdateOnResponse(ctx, "", model.PerformanceSample{})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, rating.ErrInvalidOfficial), ShouldBeTrue)
			})
		})
	})
}

func TestPenalizeIgnored(t *testing.T) {
	Convey("Given a never-rated official", t, func() {
		ctx := context.Background()
		e := rating.New(memory.New())

		Convey("When a 100-point question is ignored for two weeks", func() {
			b, err := e.PenalizeIgnored(ctx, "o1", 100, 14)

			Convey("Then mu drops by one and sigma grows by 0.4", func() {
				So(err, ShouldBeNil)
				So(b.Mu, ShouldAlmostEqual, 24, 1e-9)
				So(b.Sigma, ShouldAlmostEqual, 25.0/3+0.4, 1e-9)
			})
		})

		Convey("When penalties pile up", func() {
			var b model.RatingBelief
			var err error
			for i := 0; i < 200; i++ {
				b, err = e.PenalizeIgnored(ctx, "o1", 1_000_000, 30)
				So(err, ShouldBeNil)
			}

			Convey("Then mu floors at zero and sigma caps at ten", func() {
				So(b.Mu, ShouldEqual, rating.MinMu)
				So(b.Sigma, ShouldEqual, rating.MaxSigma)
			})
		})
	})
}

func TestBeliefBounds(t *testing.T) {
	Convey("Given a random sequence of responses and penalties", t, func() {
		ctx := context.Background()
		e := rating.New(memory.New())
		rng := rand.New(rand.NewPCG(7, 11))

		Convey("Then every belief stays within bounds", func() {
			for i := 0; i < 500; i++ {
				var (
					b   model.RatingBelief
					err error
				)
				if rng.IntN(4) == 0 {
					b, err = e.PenalizeIgnored(ctx, "o1", rng.Int64N(5000), rng.Float64()*30)
				} else {
					s := model.PerformanceSample{
						BountyValue:       rng.Int64N(5000),
						ResponseTimeHours: rng.Float64() * 120,
					}
					if rng.IntN(2) == 0 {
						s.Satisfaction = pct(rng.Float64() * 100)
					}
					b, err = e.UpdateOnResponse(ctx, "o1", s)
				}
				So(err, ShouldBeNil)
				So(b.Mu, ShouldBeBetweenOrEqual, rating.MinMu, rating.MaxMu)
				So(b.Sigma, ShouldBeBetweenOrEqual, rating.MinSigma, rating.MaxSigma)
			}
		})
	})
}

func TestConcurrentUpdates(t *testing.T) {
	Convey("Given two engines sharing one belief store", t, func() {
		ctx := context.Background()
		store := memory.New()
		a := rating.New(store, rating.WithMaxRetries(100))
		b := rating.New(store, rating.WithMaxRetries(100))

		Convey("When 40 updates race on the same official", func() {
			var wg sync.WaitGroup
			var failed atomic.Int32
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					e := a
					if i%2 == 1 {
						e = b
					}
					if _, err := e.UpdateOnResponse(ctx, "o1", model.PerformanceSample{BountyValue: 10, ResponseTimeHours: 2}); err != nil {
						failed.Add(1)
					}
				}(i)
			}
			wg.Wait()

			Convey("Then no update is lost", func() {
				So(failed.Load(), ShouldEqual, 0)
				got, err := store.Belief(ctx, "o1")
				So(err, ShouldBeNil)
				So(got.Version, ShouldEqual, 40)
			})
		})
	})

	Convey("Given a store that keeps reporting conflicts", t, func() {
		ctx := context.Background()
		store := &conflictingStore{Store: memory.New()}

		Convey("When conflicts clear within the retry budget", func() {
			store.conflicts.Store(2)
			e := rating.New(store, rating.WithMaxRetries(5))
			b, err := e.UpdateOnResponse(ctx, "o1", model.PerformanceSample{BountyValue: 10})

			Convey("Then the update lands", func() {
				So(err, ShouldBeNil)
				So(b.Version, ShouldEqual, 1)
			})
		})

		Convey("When conflicts outlast the retry budget", func() {
			store.conflicts.Store(10)
			e := rating.New(store, rating.WithMaxRetries(3))
			_, err := e.UpdateOnResponse(ctx, "o1", model.PerformanceSample{BountyValue: 10})

			Convey("Then a transient concurrent update error surfaces", func() {
				So(errors.Is(err, rating.ErrConcurrentUpdate), ShouldBeTrue)
				_, err := store.Belief(ctx, "o1")
				So(errors.Is(err, ledger.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestRebuild(t *testing.T) {
	Convey("Given stored beliefs and an empty ranker", t, func() {
		ctx := context.Background()
		store := memory.New()
		seed := rating.New(store)
		_, err := seed.UpdateOnResponse(ctx, "o1", model.PerformanceSample{BountyValue: 50})
		So(err, ShouldBeNil)
		_, err = seed.PenalizeIgnored(ctx, "o2", 50, 3)
		So(err, ShouldBeNil)

		ranker := &recordingRanker{}
		e := rating.New(store, rating.WithRanker(ranker))

		Convey("When rebuilt", func() {
			n, err := e.Rebuild(ctx)

			Convey("Then every official is indexed", func() {
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
				So(ranker.seen, ShouldContainKey, "o1")
				So(ranker.seen, ShouldContainKey, "o2")
			})
		})
	})
}
