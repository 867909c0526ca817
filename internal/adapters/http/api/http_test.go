package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/civicstake/internal/adapters/http/api"
	"github.com/okian/civicstake/internal/adapters/repository"
	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/internal/domain/sweeper"
	"github.com/okian/civicstake/pkg/logger"
)

// mockDeps records calls and returns canned results.
type mockDeps struct {
	err      error
	released bool

	registered []model.Role
	staked     []int64
	votes      []bool
	topN       []model.LeaderboardEntry
	lastLimit  int
}

func (m *mockDeps) RegisterAccount(_ context.Context, name string, role model.Role) (model.Account, error) {
	if !role.Valid() {
		return model.Account{}, fmt.Errorf("register: %w", escrow.ErrInvalidRole)
	}
	m.registered = append(m.registered, role)
	return model.Account{ID: "acct-1", Name: name, Role: role, Balance: 100}, m.err
}

func (m *mockDeps) Credit(_ context.Context, id string, amount int64) (model.Account, error) {
	if amount <= 0 {
		return model.Account{}, escrow.ErrInvalidAmount
	}
	return model.Account{ID: id, Balance: 100 + amount}, m.err
}

func (m *mockDeps) Wallet(_ context.Context, id string) (model.Wallet, error) {
	if m.err != nil {
		return model.Wallet{}, m.err
	}
	return model.Wallet{Account: model.Account{ID: id, Balance: 70}, Stats: model.EscrowStats{TotalStaked: 30, CurrentlyHeld: 30, EscrowCount: 1}}, nil
}

func (m *mockDeps) OpenQuestion(_ context.Context, in questions.NewQuestion) (model.Question, error) {
	return model.Question{ID: "q-1", Title: in.Title, CitizenID: in.CitizenID, OfficialID: in.OfficialID, Status: model.QuestionOpen, TotalBounty: in.InitialStake}, m.err
}

func (m *mockDeps) Question(_ context.Context, id string) (model.Question, error) {
	if m.err != nil {
		return model.Question{}, m.err
	}
	return model.Question{ID: id, Status: model.QuestionOpen}, nil
}

func (m *mockDeps) Stake(_ context.Context, accountID, questionID string, amount int64) (model.EscrowEntry, error) {
	if m.err != nil {
		return model.EscrowEntry{}, m.err
	}
	m.staked = append(m.staked, amount)
	return model.EscrowEntry{ID: "e-1", AccountID: accountID, QuestionID: questionID, Amount: amount, Status: model.StatusHeld}, nil
}

func (m *mockDeps) SubmitAnswer(_ context.Context, questionID, officialID, content, _ string) (model.Answer, bool, error) {
	if m.err != nil {
		return model.Answer{}, false, m.err
	}
	return model.Answer{ID: "a-1", QuestionID: questionID, OfficialID: officialID, Content: content,
		Analysis: model.Available(model.AIAnalysis{DirectnessScore: 88, Flags: []string{}})}, m.released, nil
}

func (m *mockDeps) EvaluateRelease(context.Context, string) (bool, error) {
	return m.released, m.err
}

func (m *mockDeps) CastVote(_ context.Context, answerID, _ string, helpful bool) (questions.Summary, bool, error) {
	if m.err != nil {
		return questions.Summary{}, false, m.err
	}
	m.votes = append(m.votes, helpful)
	pct := 100.0
	return questions.Summary{AnswerID: answerID, Total: 1, Helpful: 1, HelpfulPercentage: &pct}, m.released, nil
}

func (m *mockDeps) VoteSummary(_ context.Context, answerID string) (questions.Summary, error) {
	return questions.Summary{AnswerID: answerID}, m.err
}

func (m *mockDeps) Sweep(context.Context) (sweeper.Result, error) {
	return sweeper.Result{Questions: 2, Expired: 1, Refunded: 3}, m.err
}

func (m *mockDeps) Belief(_ context.Context, id string) (model.RatingBelief, error) {
	return model.RatingBelief{OfficialID: id, Mu: 30, Sigma: 5}, m.err
}

func (m *mockDeps) TopN(_ context.Context, n int) ([]model.LeaderboardEntry, error) {
	m.lastLimit = n
	if m.err != nil {
		return nil, m.err
	}
	if n > len(m.topN) {
		return m.topN, nil
	}
	return m.topN[:n], nil
}

func (m *mockDeps) Rank(_ context.Context, id string) (model.LeaderboardEntry, error) {
	if m.err != nil {
		return model.LeaderboardEntry{}, m.err
	}
	for _, e := range m.topN {
		if e.OfficialID == id {
			return e, nil
		}
	}
	return model.LeaderboardEntry{}, repository.ErrNotFound
}

type mockStats struct{}

func (mockStats) GetStats() map[string]any { return map[string]any{"started": true} }

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, mockStats{}, 50, logger.NewNop()).Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decodeBody(w *httptest.ResponseRecorder, v any) {
	So(json.Unmarshal(w.Body.Bytes(), v), ShouldBeNil)
}

func TestAccounts(t *testing.T) {
	Convey("Given the API with a healthy backend", t, func() {
		deps := &mockDeps{}
		mux := newMux(deps)

		Convey("When registering without a role", func() {
			w := do(mux, http.MethodPost, "/accounts", `{"name":"ana"}`)

			Convey("Then a citizen is created", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				So(deps.registered, ShouldResemble, []model.Role{model.RoleCitizen})
				var acct model.Account
				decodeBody(w, &acct)
				So(acct.Balance, ShouldEqual, 100)
			})
		})

		Convey("When registering with an unknown role", func() {
			w := do(mux, http.MethodPost, "/accounts", `{"name":"x","role":"mayor"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body has unknown fields", func() {
			w := do(mux, http.MethodPost, "/accounts", `{"name":"x","admin":true}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the body is empty", func() {
			w := do(mux, http.MethodPost, "/accounts", ``)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When crediting a negative amount", func() {
			w := do(mux, http.MethodPost, "/accounts/acct-1/credits", `{"amount":-5}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When crediting a valid amount", func() {
			w := do(mux, http.MethodPost, "/accounts/acct-1/credits", `{"amount":50}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			var acct model.Account
			decodeBody(w, &acct)
			So(acct.Balance, ShouldEqual, 150)
		})

		Convey("When reading a wallet", func() {
			w := do(mux, http.MethodGet, "/accounts/acct-1/wallet", "")

			Convey("Then it carries the escrow stats", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var wallet model.Wallet
				decodeBody(w, &wallet)
				So(wallet.Account.ID, ShouldEqual, "acct-1")
				So(wallet.Stats.CurrentlyHeld, ShouldEqual, 30)
			})
		})
	})

	Convey("Given a backend that cannot find the account", t, func() {
		mux := newMux(&mockDeps{err: fmt.Errorf("wallet x: %w", ledger.ErrNotFound)})
		w := do(mux, http.MethodGet, "/accounts/x/wallet", "")
		So(w.Code, ShouldEqual, http.StatusNotFound)
	})
}

func TestQuestionWorkflow(t *testing.T) {
	Convey("Given the API with a releasing backend", t, func() {
		deps := &mockDeps{released: true}
		mux := newMux(deps)

		Convey("When opening a question without an official", func() {
			w := do(mux, http.MethodPost, "/questions", `{"title":"t","citizen_id":"c"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When opening a question", func() {
			w := do(mux, http.MethodPost, "/questions", `{"title":"Bus lane","citizen_id":"c","official_id":"o","initial_stake":20}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			var q model.Question
			decodeBody(w, &q)
			So(q.TotalBounty, ShouldEqual, 20)
		})

		Convey("When staking", func() {
			w := do(mux, http.MethodPost, "/questions/q-1/stakes", `{"account_id":"c","amount":15}`)
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(deps.staked, ShouldResemble, []int64{15})
		})

		Convey("When answering", func() {
			w := do(mux, http.MethodPost, "/questions/q-1/answers", `{"official_id":"o","content":"May 2."}`)

			Convey("Then the response reports the release and the analysis", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var body struct {
					Answer struct {
						Analysis *model.AIAnalysis `json:"analysis"`
					} `json:"answer"`
					Released bool `json:"released"`
				}
				decodeBody(w, &body)
				So(body.Released, ShouldBeTrue)
				So(body.Answer.Analysis, ShouldNotBeNil)
				So(body.Answer.Analysis.DirectnessScore, ShouldEqual, 88)
			})
		})

		Convey("When voting without a verdict", func() {
			w := do(mux, http.MethodPost, "/answers/a-1/votes", `{"citizen_id":"c"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When voting evasive", func() {
			w := do(mux, http.MethodPost, "/answers/a-1/votes", `{"citizen_id":"c","is_helpful":false}`)

			Convey("Then the vote and the summary are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.votes, ShouldResemble, []bool{false})
				var body map[string]any
				decodeBody(w, &body)
				So(body["released"], ShouldEqual, true)
				So(body["total_votes"], ShouldEqual, 1.0)
			})
		})

		Convey("When evaluating a release explicitly", func() {
			w := do(mux, http.MethodPost, "/questions/q-1/release", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"released":true`)
		})

		Convey("When sweeping", func() {
			w := do(mux, http.MethodPost, "/sweeps", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var res sweeper.Result
			decodeBody(w, &res)
			So(res.Refunded, ShouldEqual, 3)
		})
	})

	Convey("Given domain failures", t, func() {
		cases := []struct {
			err    error
			status int
			code   string
		}{
			{fmt.Errorf("stake: %w", escrow.ErrInsufficientFunds), http.StatusUnprocessableEntity, "insufficient_funds"},
			{fmt.Errorf("stake: %w", escrow.ErrInvalidQuestionState), http.StatusConflict, "invalid_state"},
			{fmt.Errorf("vote: %w", questions.ErrForbidden), http.StatusForbidden, "forbidden"},
			{fmt.Errorf("stake: %w", ledger.ErrTxAborted), http.StatusServiceUnavailable, "unavailable"},
			{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
		}
		for _, c := range cases {
			mux := newMux(&mockDeps{err: c.err})
			w := do(mux, http.MethodPost, "/questions/q-1/stakes", `{"account_id":"c","amount":5}`)
			So(w.Code, ShouldEqual, c.status)
			var body map[string]string
			decodeBody(w, &body)
			So(body["code"], ShouldEqual, c.code)
		}
	})
}

func TestLeaderboardAndRank(t *testing.T) {
	Convey("Given a leaderboard of three officials", t, func() {
		deps := &mockDeps{topN: []model.LeaderboardEntry{
			{Rank: 1, OfficialID: "o1", Score: 12},
			{Rank: 2, OfficialID: "o2", Score: 4},
			{Rank: 3, OfficialID: "o3", Score: -1},
		}}
		mux := newMux(deps)

		Convey("When requesting top 2", func() {
			w := do(mux, http.MethodGet, "/leaderboard?limit=2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var got []model.LeaderboardEntry
			decodeBody(w, &got)
			So(len(got), ShouldEqual, 2)
			So(got[0].OfficialID, ShouldEqual, "o1")
		})

		Convey("When no limit is given", func() {
			w := do(mux, http.MethodGet, "/leaderboard", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastLimit, ShouldEqual, 10)
		})

		Convey("When the limit is invalid or too large", func() {
			So(do(mux, http.MethodGet, "/leaderboard?limit=zero", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leaderboard?limit=51", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When ranking a known and an unknown official", func() {
			w := do(mux, http.MethodGet, "/rank/o2", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var e model.LeaderboardEntry
			decodeBody(w, &e)
			So(e.Rank, ShouldEqual, 2)

			So(do(mux, http.MethodGet, "/rank/nobody", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("When reading a belief", func() {
			w := do(mux, http.MethodGet, "/officials/o1/belief", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var body map[string]any
			decodeBody(w, &body)
			So(body["conservative_score"], ShouldEqual, 15.0)
			So(body["official_id"], ShouldEqual, "o1")
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		mux := newMux(&mockDeps{})

		Convey("Then /healthz serves metrics and /stats serves JSON", func() {
			So(do(mux, http.MethodGet, "/healthz", "").Code, ShouldEqual, http.StatusOK)
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then the wrong method is rejected", func() {
			So(do(mux, http.MethodGet, "/sweeps", "").Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})

	Convey("Given a nil mux", t, func() {
		So(func() {
			api.NewServer(&mockDeps{}, mockStats{}, 10, nil).Register(context.Background(), nil)
		}, ShouldPanic)
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given a wrapped kind", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)

		Convey("Then both the kind and the cause match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
			So(api.NewKind("api.op", api.ErrBadRequest).Error(), ShouldEqual, "api.op: bad request")
		})
	})
}
