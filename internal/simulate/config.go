// Package simulate drives a running civicstake service over HTTP with a
// randomized but reproducible population of citizens, officials and
// questions, then checks the ledger and leaderboard for consistency.
package simulate

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned for configs that cannot produce a scenario.
var ErrInvalidConfig = errors.New("invalid simulation config")

// Config holds scenario parameters.
type Config struct {
	BaseURL string

	Citizens           int
	Officials          int
	Questions          int
	StakersPerQuestion int
	MaxStake           int64
	MaxCredit          int64

	// AnswerRate is the share of questions the official answers.
	AnswerRate float64
	// DirectRate is the share of answers written to read as direct.
	DirectRate float64
	// HelpfulRate is the chance a staker votes an answer helpful.
	HelpfulRate float64

	Workers int
	Timeout time.Duration
	// Settle bounds the wait for released questions to reach the leaderboard.
	Settle time.Duration
	Sweep  bool
	Seed   uint64

	Output  string
	Verbose bool
}

// DefaultConfig returns a small scenario against a local service.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "http://localhost:9080",
		Citizens:           50,
		Officials:          10,
		Questions:          100,
		StakersPerQuestion: 3,
		MaxStake:           10,
		MaxCredit:          20,
		AnswerRate:         0.8,
		DirectRate:         0.5,
		HelpfulRate:        0.6,
		Workers:            8,
		Timeout:            10 * time.Second,
		Settle:             30 * time.Second,
		Sweep:              true,
		Seed:               1,
	}
}

// Validate rejects configs that cannot run.
func (c Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.Citizens < 1 || c.Officials < 1:
		return fmt.Errorf("%w: need at least one citizen and one official", ErrInvalidConfig)
	case c.Questions < 0 || c.StakersPerQuestion < 0:
		return fmt.Errorf("%w: counts must not be negative", ErrInvalidConfig)
	case c.MaxStake < 1 || c.MaxCredit < 0:
		return fmt.Errorf("%w: max stake must be positive and max credit not negative", ErrInvalidConfig)
	case !unit(c.AnswerRate) || !unit(c.DirectRate) || !unit(c.HelpfulRate):
		return fmt.Errorf("%w: rates must be within [0,1]", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

// Entry is one leaderboard row.
type Entry struct {
	Rank       int     `json:"rank"`
	OfficialID string  `json:"official_id"`
	Score      float64 `json:"score"`
	Mu         float64 `json:"mu"`
	Sigma      float64 `json:"sigma"`
}

// SweepResult mirrors the sweep endpoint's response.
type SweepResult struct {
	Questions int `json:"questions"`
	Expired   int `json:"expired"`
	Refunded  int `json:"refunded_entries"`
	Failures  int `json:"failures"`
}

// Report summarizes a run. Violations lists every consistency failure.
type Report struct {
	Citizens        int64         `json:"citizens"`
	Officials       int64         `json:"officials"`
	Credits         int64         `json:"credits"`
	QuestionsOpened int64         `json:"questions_opened"`
	StakesPlaced    int64         `json:"stakes_placed"`
	StakesRejected  int64         `json:"stakes_rejected"`
	Answers         int64         `json:"answers"`
	Votes           int64         `json:"votes"`
	Released        int64         `json:"released"`
	RequestFailures int64         `json:"request_failures"`
	Sweep           *SweepResult  `json:"sweep,omitempty"`
	Leaderboard     []Entry       `json:"leaderboard"`
	Violations      []string      `json:"violations"`
	Duration        time.Duration `json:"duration"`
}

// OK reports whether the run found no violations.
func (r *Report) OK() bool { return len(r.Violations) == 0 }
