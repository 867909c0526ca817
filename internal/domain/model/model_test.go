package model_test

import (
	"encoding/json"
	"testing"
	"time"

	model "github.com/okian/civicstake/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEntryStatus(t *testing.T) {
	convey.Convey("Given escrow statuses", t, func() {
		convey.Convey("When serialized", func() {
			entry := model.EscrowEntry{ID: "e1", Amount: 10, Status: model.StatusReleased}
			b, err := json.Marshal(entry)

			convey.Convey("Then the status is the persisted literal", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(b), convey.ShouldContainSubstring, `"status":"released"`)
			})

			convey.Convey("And it round-trips", func() {
				var back model.EscrowEntry
				convey.So(json.Unmarshal(b, &back), convey.ShouldBeNil)
				convey.So(back.Status, convey.ShouldEqual, model.StatusReleased)
			})
		})

		convey.Convey("When an unknown literal is parsed", func() {
			_, err := model.ParseEntryStatus("donated")

			convey.Convey("Then it fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
			})
		})

		convey.Convey("Then only released and refunded are terminal", func() {
			convey.So(model.StatusHeld.Terminal(), convey.ShouldBeFalse)
			convey.So(model.StatusReleased.Terminal(), convey.ShouldBeTrue)
			convey.So(model.StatusRefunded.Terminal(), convey.ShouldBeTrue)
		})
	})
}

func TestSummarizeEntries(t *testing.T) {
	convey.Convey("Given entries in every state", t, func() {
		entries := []model.EscrowEntry{
			{Amount: 10, Status: model.StatusHeld},
			{Amount: 20, Status: model.StatusReleased},
			{Amount: 30, Status: model.StatusRefunded},
			{Amount: 5, Status: model.StatusHeld},
		}

		convey.Convey("When summarized", func() {
			st := model.SummarizeEntries(entries)

			convey.Convey("Then each bucket is summed", func() {
				convey.So(st.TotalStaked, convey.ShouldEqual, 65)
				convey.So(st.CurrentlyHeld, convey.ShouldEqual, 15)
				convey.So(st.ReleasedToCharity, convey.ShouldEqual, 20)
				convey.So(st.Refunded, convey.ShouldEqual, 30)
				convey.So(st.EscrowCount, convey.ShouldEqual, 4)
			})
		})
	})
}

func TestAnalysisResult(t *testing.T) {
	convey.Convey("Given an analysis result", t, func() {
		convey.Convey("When the zero value is used", func() {
			var r model.AnalysisResult
			_, ok := r.Score()

			convey.Convey("Then it is unavailable and encodes as null", func() {
				convey.So(ok, convey.ShouldBeFalse)
				b, err := json.Marshal(r)
				convey.So(err, convey.ShouldBeNil)
				convey.So(string(b), convey.ShouldEqual, "null")
			})
		})

		convey.Convey("When an out-of-range score is wrapped", func() {
			r := model.Available(model.AIAnalysis{DirectnessScore: 140, Summary: "direct"})
			score, ok := r.Score()

			convey.Convey("Then it is clamped to 100", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(score, convey.ShouldEqual, 100)
			})

			convey.Convey("And it round-trips through JSON", func() {
				b, err := json.Marshal(r)
				convey.So(err, convey.ShouldBeNil)
				var back model.AnalysisResult
				convey.So(json.Unmarshal(b, &back), convey.ShouldBeNil)
				a, ok := back.Get()
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(a.Summary, convey.ShouldEqual, "direct")
			})
		})
	})
}

func TestQuestionTiming(t *testing.T) {
	convey.Convey("Given a question created at t0 with a deadline a day later", t, func() {
		t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		q := model.Question{Status: model.QuestionOpen, CreatedAt: t0, Deadline: t0.Add(24 * time.Hour)}

		convey.Convey("Then it accepts stakes before the deadline only", func() {
			convey.So(q.OpenForStaking(t0.Add(time.Hour)), convey.ShouldBeTrue)
			convey.So(q.OpenForStaking(t0.Add(25*time.Hour)), convey.ShouldBeFalse)
			convey.So(q.Expired(t0.Add(25*time.Hour)), convey.ShouldBeTrue)
		})

		convey.Convey("When an answer predates the question through clock skew", func() {
			a := model.Answer{CreatedAt: t0.Add(-time.Minute)}

			convey.Convey("Then response hours are clamped at zero", func() {
				convey.So(model.ResponseHours(q, a), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When answered after 6 hours", func() {
			a := model.Answer{CreatedAt: t0.Add(6 * time.Hour)}

			convey.Convey("Then response hours are 6", func() {
				convey.So(model.ResponseHours(q, a), convey.ShouldEqual, 6)
			})
		})
	})
}

func TestVoteTally(t *testing.T) {
	convey.Convey("Given an empty tally", t, func() {
		var tally model.VoteTally

		convey.Convey("Then there is no helpful fraction", func() {
			_, ok := tally.HelpfulFraction()
			convey.So(ok, convey.ShouldBeFalse)
		})

		convey.Convey("When two helpful and one evasive vote are added", func() {
			tally.Add(true)
			tally.Add(true)
			tally.Add(false)
			f, ok := tally.HelpfulFraction()

			convey.Convey("Then the fraction is two thirds", func() {
				convey.So(ok, convey.ShouldBeTrue)
				convey.So(f, convey.ShouldAlmostEqual, 2.0/3.0, 1e-9)
				convey.So(tally.Evasive(), convey.ShouldEqual, 1)
			})
		})
	})
}

func TestConservativeScore(t *testing.T) {
	convey.Convey("Given a fresh belief", t, func() {
		b := model.RatingBelief{Mu: 25, Sigma: 25.0 / 3}

		convey.Convey("Then the conservative score is mu minus three sigma", func() {
			convey.So(b.ConservativeScore(), convey.ShouldAlmostEqual, 0, 1e-9)
		})
	})
}
