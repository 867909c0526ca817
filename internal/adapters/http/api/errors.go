package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/civicstake/internal/adapters/repository"
	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
	"github.com/okian/civicstake/internal/domain/questions"
	"github.com/okian/civicstake/internal/domain/rating"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrUnavailable = errors.New("service unavailable")
)

// Error carries the handler op alongside the underlying error.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind builds an error of kind for op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind tags err with kind for op.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap tags err with op.
func Wrap(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// statusFor maps domain sentinels to a status and a stable error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidRole),
		errors.Is(err, questions.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, questions.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, escrow.ErrInvalidQuestionState), errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, rating.ErrConcurrentUpdate),
		errors.Is(err, ledger.ErrTxAborted):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
