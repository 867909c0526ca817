package model

import "time"

// RatingBelief is the Gaussian skill estimate for one official.
type RatingBelief struct {
	OfficialID string  `json:"official_id"`
	Mu         float64 `json:"mu"`
	Sigma      float64 `json:"sigma"`
	// Version increments on every persisted change; used for compare-and-swap.
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConservativeScore is mu - 3 sigma, the lower bound used for ranking.
func (b RatingBelief) ConservativeScore() float64 {
	return b.Mu - 3*b.Sigma
}

// PerformanceSample is the input to a response update.
type PerformanceSample struct {
	BountyValue       int64
	ResponseTimeHours float64
	// Satisfaction is helpful% in [0,100]; nil when no votes exist.
	Satisfaction *float64
}

// ReleaseEvent is emitted once a question's escrow has been released.
type ReleaseEvent struct {
	// EventID is the idempotency key; one release per question.
	EventID           string    `json:"event_id"`
	QuestionID        string    `json:"question_id"`
	OfficialID        string    `json:"official_id"`
	BountyValue       int64     `json:"bounty_value"`
	ResponseTimeHours float64   `json:"response_time_hours"`
	Satisfaction      *float64  `json:"satisfaction,omitempty"`
	ReleasedAt        time.Time `json:"released_at"`
}

// Sample converts the event to rating input.
func (e ReleaseEvent) Sample() PerformanceSample {
	return PerformanceSample{
		BountyValue:       e.BountyValue,
		ResponseTimeHours: e.ResponseTimeHours,
		Satisfaction:      e.Satisfaction,
	}
}

// LeaderboardEntry is one ranked official.
type LeaderboardEntry struct {
	Rank       int     `json:"rank"`
	OfficialID string  `json:"official_id"`
	Score      float64 `json:"score"`
	Mu         float64 `json:"mu"`
	Sigma      float64 `json:"sigma"`
}
