// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/internal/domain/sweeper"
	"github.com/okian/civicstake/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AccountDependencies
	QuestionDependencies
	LeaderboardDependencies
	RankDependencies

	Sweep(ctx context.Context) (sweeper.Result, error)
	Belief(ctx context.Context, officialID string) (model.RatingBelief, error)
}

// AccountDependencies covers registration and the wallet.
type AccountDependencies interface {
	RegisterAccount(ctx context.Context, name string, role model.Role) (model.Account, error)
	Credit(ctx context.Context, accountID string, amount int64) (model.Account, error)
	Wallet(ctx context.Context, accountID string) (model.Wallet, error)
}

// QuestionDependencies covers the question, stake, answer, and vote workflow.
type QuestionDependencies interface {
	OpenQuestion(ctx context.Context, in questions.NewQuestion) (model.Question, error)
	Question(ctx context.Context, id string) (model.Question, error)
	Stake(ctx context.Context, accountID, questionID string, amount int64) (model.EscrowEntry, error)
	SubmitAnswer(ctx context.Context, questionID, officialID, content, videoURL string) (model.Answer, bool, error)
	EvaluateRelease(ctx context.Context, questionID string) (bool, error)
	CastVote(ctx context.Context, answerID, citizenID string, helpful bool) (questions.Summary, bool, error)
	VoteSummary(ctx context.Context, answerID string) (questions.Summary, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	deps               Dependencies
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
	log                logger.Logger
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxLimit int, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		deps:               deps,
		healthHandler:      NewHealthHandler(),
		statsHandler:       NewStatsHandler(statsProvider),
		leaderboardHandler: NewLeaderboardHandler(deps, maxLimit),
		rankHandler:        NewRankHandler(deps),
		log:                log,
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /accounts", MetricsMiddleware(s.handleRegister, "accounts"))
	mux.HandleFunc("POST /accounts/{id}/credits", MetricsMiddleware(s.handleCredit, "credits"))
	mux.HandleFunc("GET /accounts/{id}/wallet", MetricsMiddleware(s.handleWallet, "wallet"))

	mux.HandleFunc("POST /questions", MetricsMiddleware(s.handleOpenQuestion, "questions"))
	mux.HandleFunc("GET /questions/{id}", MetricsMiddleware(s.handleGetQuestion, "question"))
	mux.HandleFunc("POST /questions/{id}/stakes", MetricsMiddleware(s.handleStake, "stakes"))
	mux.HandleFunc("POST /questions/{id}/answers", MetricsMiddleware(s.handleAnswer, "answers"))
	mux.HandleFunc("POST /questions/{id}/release", MetricsMiddleware(s.handleRelease, "release"))

	mux.HandleFunc("POST /answers/{id}/votes", MetricsMiddleware(s.handleVote, "votes"))
	mux.HandleFunc("GET /answers/{id}/votes", MetricsMiddleware(s.handleVoteSummary, "vote_summary"))

	mux.HandleFunc("POST /sweeps", MetricsMiddleware(s.handleSweep, "sweeps"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{officialId}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
	mux.HandleFunc("GET /officials/{id}/belief", MetricsMiddleware(s.handleBelief, "belief"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err to a status and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Int("status", status),
			logger.Error(err))
	}
	writeError(w, status, code, err)
}

// decode reads a single JSON object with unknown fields rejected.
func decode(op string, r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return NewKind(op, ErrBadRequest)
		}
		return WrapKind(op, ErrBadRequest, fmt.Errorf("decode body: %w", err))
	}
	return nil
}
