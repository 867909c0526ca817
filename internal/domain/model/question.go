package model

import (
	"fmt"
	"math"
	"time"
)

// QuestionStatus is the question lifecycle state.
type QuestionStatus string

const (
	QuestionOpen     QuestionStatus = "open"
	QuestionAnswered QuestionStatus = "answered"
	QuestionExpired  QuestionStatus = "expired"
	QuestionFlagged  QuestionStatus = "flagged"
)

// ParseQuestionStatus validates a persisted status literal.
func ParseQuestionStatus(s string) (QuestionStatus, error) {
	switch q := QuestionStatus(s); q {
	case QuestionOpen, QuestionAnswered, QuestionExpired, QuestionFlagged:
		return q, nil
	}
	return "", fmt.Errorf("unknown question status %q", s)
}

// Question is addressed by a citizen to one official and carries a bounty.
type Question struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	CitizenID  string         `json:"citizen_id"`
	OfficialID string         `json:"official_id"`
	Status     QuestionStatus `json:"status"`
	// TotalBounty only ever grows at stake time.
	TotalBounty int64     `json:"total_bounty"`
	Deadline    time.Time `json:"deadline"`
	CreatedAt   time.Time `json:"created_at"`
}

// OpenForStaking reports whether new stakes are accepted at now.
func (q Question) OpenForStaking(now time.Time) bool {
	return q.Status == QuestionOpen && now.Before(q.Deadline)
}

// Expired reports whether an open question has passed its deadline.
func (q Question) Expired(now time.Time) bool {
	return q.Status == QuestionOpen && !now.Before(q.Deadline)
}

// Answer is the official's single response to a question.
type Answer struct {
	ID         string         `json:"id"`
	QuestionID string         `json:"question_id"`
	OfficialID string         `json:"official_id"`
	Content    string         `json:"content"`
	VideoURL   string         `json:"video_url,omitempty"`
	Analysis   AnalysisResult `json:"analysis"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ResponseHours is the non-negative delay between asking and answering.
func ResponseHours(q Question, a Answer) float64 {
	h := a.CreatedAt.Sub(q.CreatedAt).Hours()
	return math.Max(h, 0)
}

// Vote is a staker's verdict on an answer. One per citizen per answer.
type Vote struct {
	ID        string    `json:"id"`
	AnswerID  string    `json:"answer_id"`
	CitizenID string    `json:"citizen_id"`
	Helpful   bool      `json:"is_helpful"`
	CreatedAt time.Time `json:"created_at"`
}

// VoteTally aggregates votes on one answer.
type VoteTally struct {
	Total   int `json:"total_votes"`
	Helpful int `json:"helpful_votes"`
}

// Evasive is the count of not-helpful votes.
func (t VoteTally) Evasive() int { return t.Total - t.Helpful }

// HelpfulFraction returns helpful/total and false when there are no votes.
func (t VoteTally) HelpfulFraction() (float64, bool) {
	if t.Total == 0 {
		return 0, false
	}
	return float64(t.Helpful) / float64(t.Total), true
}

// Add counts one vote.
func (t *VoteTally) Add(helpful bool) {
	t.Total++
	if helpful {
		t.Helpful++
	}
}
