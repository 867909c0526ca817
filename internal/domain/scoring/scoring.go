// Package scoring turns a response's raw metrics into the performance
// multiplier that drives a rating update.
package scoring

import (
	"math"

	"github.com/okian/civicstake/internal/domain/model"
)

const (
	// MaxPerformance caps how much a single response can scale a rating gain.
	MaxPerformance = 2.0

	fastResponseHours = 1
	dayHours          = 24
	slowResponseHours = 72
)

// Performance is the product of the bounty, speed, and satisfaction weights.
// Values at or above 1 count as a win against the virtual opponent.
func Performance(s model.PerformanceSample) float64 {
	return BountyWeight(s.BountyValue) *
		SpeedWeight(s.ResponseTimeHours) *
		SatisfactionWeight(s.Satisfaction)
}

// BountyWeight grows logarithmically: 1 + log10(max(bounty,1)+1)/3.
func BountyWeight(bounty int64) float64 {
	b := math.Max(float64(bounty), 1)
	return 1 + math.Log10(b+1)/3
}

// SpeedWeight rewards answers within a day and decays to 0.8 after three.
func SpeedWeight(hours float64) float64 {
	switch {
	case hours <= fastResponseHours:
		return 1.3
	case hours <= dayHours:
		return 1 + 0.3*(1-hours/dayHours)
	case hours <= slowResponseHours:
		return 1 - 0.2*((hours-dayHours)/(slowResponseHours-dayHours))
	default:
		return 0.8
	}
}

// SatisfactionWeight maps helpful% to a multiplier. No votes is neutral.
func SatisfactionWeight(pct *float64) float64 {
	if pct == nil {
		return 1.0
	}
	switch s := *pct; {
	case s >= 80:
		return 1.2
	case s >= 60:
		return 1.0
	case s >= 40:
		return 0.9
	default:
		return 0.7
	}
}

// PenaltyFactors returns the bounty and time factors for an ignored question.
// bountyFactor = log10(max(bounty,10))/2, timeFactor = min(days/7, 2).
func PenaltyFactors(bounty int64, daysIgnored float64) (bountyFactor, timeFactor float64) {
	bountyFactor = math.Log10(math.Max(float64(bounty), 10)) / 2
	timeFactor = math.Min(math.Max(daysIgnored, 0)/7, 2)
	return bountyFactor, timeFactor
}
