// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"time"
)

// DefaultCharity receives released points when no charity is named.
const DefaultCharity = "default_charity"

// Account is a citizen or official wallet of civic points.
type Account struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Role distinguishes who may stake and who may answer.
type Role string

const (
	RoleCitizen  Role = "citizen"
	RoleOfficial Role = "official"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCitizen || r == RoleOfficial
}

// EntryStatus is the escrow lifecycle state. Released and Refunded are terminal.
type EntryStatus uint8

const (
	StatusHeld EntryStatus = iota + 1
	StatusReleased
	StatusRefunded
)

func (s EntryStatus) String() string {
	switch s {
	case StatusHeld:
		return "held"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s EntryStatus) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// ParseEntryStatus parses the persisted literal.
func ParseEntryStatus(s string) (EntryStatus, error) {
	switch s {
	case "held":
		return StatusHeld, nil
	case "released":
		return StatusReleased, nil
	case "refunded":
		return StatusRefunded, nil
	}
	return 0, fmt.Errorf("unknown escrow status %q", s)
}

// MarshalText writes the persisted literal.
func (s EntryStatus) MarshalText() ([]byte, error) {
	if s < StatusHeld || s > StatusRefunded {
		return nil, fmt.Errorf("unknown escrow status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText reads the persisted literal.
func (s *EntryStatus) UnmarshalText(b []byte) error {
	v, err := ParseEntryStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// EscrowEntry is one stake by one account on one question.
type EscrowEntry struct {
	ID         string      `json:"id"`
	AccountID  string      `json:"account_id"`
	QuestionID string      `json:"question_id"`
	Amount     int64       `json:"amount"`
	Status     EntryStatus `json:"status"`
	CharityID  string      `json:"charity_id,omitempty"`
	ReleasedAt *time.Time  `json:"released_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// EscrowStats summarizes one account's escrow history.
type EscrowStats struct {
	TotalStaked       int64 `json:"total_staked"`
	CurrentlyHeld     int64 `json:"currently_held"`
	ReleasedToCharity int64 `json:"released_to_charity"`
	Refunded          int64 `json:"refunded"`
	EscrowCount       int   `json:"escrow_count"`
}

// SummarizeEntries folds entries into EscrowStats.
func SummarizeEntries(entries []EscrowEntry) EscrowStats {
	var st EscrowStats
	for _, e := range entries {
		st.TotalStaked += e.Amount
		switch e.Status {
		case StatusHeld:
			st.CurrentlyHeld += e.Amount
		case StatusReleased:
			st.ReleasedToCharity += e.Amount
		case StatusRefunded:
			st.Refunded += e.Amount
		}
	}
	st.EscrowCount = len(entries)
	return st
}

// Wallet is an account with its escrow history.
type Wallet struct {
	Account Account       `json:"account"`
	Stats   EscrowStats   `json:"stats"`
	Escrows []EscrowEntry `json:"escrows"`
}
