package escrow

import (
	"errors"

	"github.com/okian/civicstake/internal/domain/ledger"
)

var (
	// ErrInvalidAmount is returned for non-positive stakes and out-of-range purchases.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidQuestionState is returned when a question no longer accepts stakes.
	ErrInvalidQuestionState = errors.New("invalid question state")
	// ErrInvalidRole is returned when registering an account with an unknown role.
	ErrInvalidRole = errors.New("invalid role")

	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrNotFound          = ledger.ErrNotFound
)
