package ledger

import "errors"

// Sentinel kinds shared by every Store implementation.
var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrVersionConflict   = errors.New("concurrent update conflict")
	ErrTxAborted         = errors.New("transaction aborted")
)
