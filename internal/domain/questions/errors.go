package questions

import (
	"errors"

	"github.com/okian/civicstake/internal/domain/escrow"
	"github.com/okian/civicstake/internal/domain/ledger"
)

var (
	// ErrSignalUnavailable marks an analyzer that could not produce a score.
	// It never escapes the service; the answer is stored without analysis.
	ErrSignalUnavailable = errors.New("ai signal unavailable")
	// ErrForbidden is returned when the caller may not act on the question.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidInput is returned for missing titles, bodies, or ids.
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidQuestionState = escrow.ErrInvalidQuestionState
	ErrNotFound             = ledger.ErrNotFound
)
