package policy

import "github.com/okian/civicstake/internal/domain/model"

// Thresholds are the objective and community bars for releasing escrow.
type Thresholds struct {
	// AIThreshold is the minimum directness score, inclusive.
	AIThreshold float64
	// MinVotes is the minimum number of votes before the community bar applies.
	MinVotes int
	// HelpfulFraction must be strictly exceeded by helpful/total.
	HelpfulFraction float64
}

// DefaultThresholds returns 70 / 1 vote / more than half helpful.
func DefaultThresholds() Thresholds {
	return Thresholds{
		AIThreshold:     70,
		MinVotes:        1,
		HelpfulFraction: 0.5,
	}
}

// Decision explains an evaluation.
type Decision struct {
	Release   bool
	AIPasses  bool
	VotesPass bool
}

// Outcome is a short label for metrics and logs.
func (d Decision) Outcome() string {
	switch {
	case d.AIPasses && d.VotesPass:
		return "released_both"
	case d.AIPasses:
		return "released_ai"
	case d.VotesPass:
		return "released_votes"
	default:
		return "held"
	}
}

// Decide applies the thresholds. An unavailable analysis never passes.
func Decide(t Thresholds, analysis model.AnalysisResult, tally model.VoteTally) Decision {
	var d Decision
	if score, ok := analysis.Score(); ok && score >= t.AIThreshold {
		d.AIPasses = true
	}
	if frac, ok := tally.HelpfulFraction(); ok && tally.Total >= t.MinVotes && frac > t.HelpfulFraction {
		d.VotesPass = true
	}
	d.Release = d.AIPasses || d.VotesPass
	return d
}
