package analyzer

import (
	"context"
	"errors"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
)

type fakeGenerator struct {
	text   string
	err    error
	prompt string
}

func (f *fakeGenerator) generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.text, f.err
}

func TestGemini_Analyze(t *testing.T) {
	Convey("Given a question and an answer", t, func() {
		ctx := context.Background()
		q := model.Question{Title: "Pothole on Main St", Body: "When will it be fixed?"}

		Convey("When the model returns a verdict", func() {
			gen := &fakeGenerator{text: `{"directness_score": 82, "summary": "Gives a date", "flags": []}`}
			a, err := (&Gemini{gen: gen}).Analyze(ctx, q, "Crews start Monday.")

			Convey("Then the verdict is returned and the prompt carries both texts", func() {
				So(err, ShouldBeNil)
				So(a.DirectnessScore, ShouldEqual, 82)
				So(a.Summary, ShouldEqual, "Gives a date")
				So(a.Flags, ShouldBeEmpty)
				So(strings.Contains(gen.prompt, "Pothole on Main St"), ShouldBeTrue)
				So(strings.Contains(gen.prompt, "Crews start Monday."), ShouldBeTrue)
			})
		})

		Convey("When the verdict is fenced and out of range", func() {
			gen := &fakeGenerator{text: "```json\n{\"directness_score\": 140, \"summary\": \"x\", \"flags\": [\"off_topic\"]}\n```"}
			a, err := (&Gemini{gen: gen}).Analyze(ctx, q, "...")

			Convey("Then it is unwrapped and clamped", func() {
				So(err, ShouldBeNil)
				So(a.DirectnessScore, ShouldEqual, 100)
				So(a.Flags, ShouldResemble, []string{"off_topic"})
			})
		})

		Convey("When the model call fails", func() {
			gen := &fakeGenerator{err: errors.New("quota")}
			_, err := (&Gemini{gen: gen}).Analyze(ctx, q, "...")

			Convey("Then the signal is unavailable", func() {
				So(errors.Is(err, questions.ErrSignalUnavailable), ShouldBeTrue)
			})
		})

		Convey("When the reply is not a verdict", func() {
			for _, text := range []string{"I think it is fine.", `{"summary": "no score"}`} {
				_, err := (&Gemini{gen: &fakeGenerator{text: text}}).Analyze(ctx, q, "...")
				So(errors.Is(err, questions.ErrSignalUnavailable), ShouldBeTrue)
			}
		})

		Convey("When no api key is configured", func() {
			g, err := NewGemini(ctx, "", "")
			So(err, ShouldBeNil)
			_, err = g.Analyze(ctx, q, "...")

			Convey("Then the signal is unavailable without a call", func() {
				So(errors.Is(err, questions.ErrSignalUnavailable), ShouldBeTrue)
			})
		})
	})
}
