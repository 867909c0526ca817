package api

import (
	"net/http"

	"github.com/okian/civicstake/internal/domain/model"
)

type registerRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type creditRequest struct {
	Amount int64 `json:"amount"`
}

// handleRegister handles POST /accounts.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	const op = "api.register_account"
	var req registerRequest
	if err := decode(op, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Role == "" {
		req.Role = string(model.RoleCitizen)
	}
	acct, err := s.deps.RegisterAccount(r.Context(), req.Name, model.Role(req.Role))
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// handleCredit handles POST /accounts/{id}/credits.
func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	const op = "api.credit_account"
	var req creditRequest
	if err := decode(op, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	acct, err := s.deps.Credit(r.Context(), r.PathValue("id"), req.Amount)
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleWallet handles GET /accounts/{id}/wallet.
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	const op = "api.wallet"
	wallet, err := s.deps.Wallet(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}
