package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/okian/civicstake/internal/domain/model"
	"github.com/okian/civicstake/internal/domain/questions"
)

type openQuestionRequest struct {
	Title        string `json:"title"`
	Body         string `json:"body"`
	CitizenID    string `json:"citizen_id"`
	OfficialID   string `json:"official_id"`
	InitialStake int64  `json:"initial_stake"`
}

type stakeRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
}

type answerRequest struct {
	OfficialID string `json:"official_id"`
	Content    string `json:"content"`
	VideoURL   string `json:"video_url"`
}

type answerResponse struct {
	Answer   model.Answer `json:"answer"`
	Released bool         `json:"released"`
}

type voteRequest struct {
	CitizenID string `json:"citizen_id"`
	Helpful   *bool  `json:"is_helpful"`
}

type voteResponse struct {
	questions.Summary
	Released bool `json:"released"`
}

type releaseResponse struct {
	QuestionID string `json:"question_id"`
	Released   bool   `json:"released"`
}

// handleOpenQuestion handles POST /questions.
func (s *Server) handleOpenQuestion(w http.ResponseWriter, r *http.Request) {
	const op = "api.open_question"
	var req openQuestionRequest
	if err := decode(op, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.CitizenID) == "" || strings.TrimSpace(req.OfficialID) == "" {
		s.fail(w, r, WrapKind(op, ErrBadRequest, errors.New("citizen_id and official_id are required")))
		return
	}
	q, err := s.deps.OpenQuestion(r.Context(), questions.NewQuestion{
		Title:        req.Title,
		Body:         req.Body,
		CitizenID:    req.CitizenID,
		OfficialID:   req.OfficialID,
		InitialStake: req.InitialStake,
	})
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, q)
}

// handleGetQuestion handles GET /questions/{id}.
func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_question"
	q, err := s.deps.Question(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// handleStake handles POST /questions/{id}/stakes.
func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	const op = "api.stake"
	var req stakeRequest
	if err := decode(op, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.AccountID) == "" {
		s.fail(w, r, WrapKind(op, ErrBadRequest, errors.New("account_id is required")))
		return
	}
	entry, err := s.deps.Stake(r.Context(), req.AccountID, r.PathValue("id"), req.Amount)
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handleAnswer handles POST /questions/{id}/answers.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_answer"
	var req answerRequest
	if err := decode(op, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	a, released, err := s.deps.SubmitAnswer(r.Context(), r.PathValue("id"), req.OfficialID, req.Content, req.VideoURL)
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, answerResponse{Answer: a, Released: released})
}

// handleRelease handles POST /questions/{id}/release.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	const op = "api.evaluate_release"
	id := r.PathValue("id")
	released, err := s.deps.EvaluateRelease(r.Context(), id)
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, releaseResponse{QuestionID: id, Released: released})
}

// handleVote handles POST /answers/{id}/votes.
func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	const op = "api.cast_vote"
	var req voteRequest
	if err := decode(op, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if strings.TrimSpace(req.CitizenID) == "" || req.Helpful == nil {
		s.fail(w, r, WrapKind(op, ErrBadRequest, errors.New("citizen_id and is_helpful are required")))
		return
	}
	summary, released, err := s.deps.CastVote(r.Context(), r.PathValue("id"), req.CitizenID, *req.Helpful)
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, voteResponse{Summary: summary, Released: released})
}

// handleVoteSummary handles GET /answers/{id}/votes.
func (s *Server) handleVoteSummary(w http.ResponseWriter, r *http.Request) {
	const op = "api.vote_summary"
	summary, err := s.deps.VoteSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
