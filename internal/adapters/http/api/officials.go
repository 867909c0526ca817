package api

import (
	"net/http"

	"github.com/okian/civicstake/internal/domain/model"
)

type beliefResponse struct {
	model.RatingBelief
	ConservativeScore float64 `json:"conservative_score"`
}

// handleBelief handles GET /officials/{id}/belief.
func (s *Server) handleBelief(w http.ResponseWriter, r *http.Request) {
	const op = "api.belief"
	b, err := s.deps.Belief(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, beliefResponse{RatingBelief: b, ConservativeScore: b.ConservativeScore()})
}

// handleSweep handles POST /sweeps.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	const op = "api.sweep"
	res, err := s.deps.Sweep(r.Context())
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}
