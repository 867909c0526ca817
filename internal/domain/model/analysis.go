package model

import (
	"encoding/json"
	"math"
)

// AIAnalysis is the directness verdict produced by the analyzer.
type AIAnalysis struct {
	DirectnessScore float64  `json:"directness_score"`
	Summary         string   `json:"summary"`
	Flags           []string `json:"flags"`
}

// Clamped returns a copy with the score forced into [0,100].
func (a AIAnalysis) Clamped() AIAnalysis {
	if math.IsNaN(a.DirectnessScore) {
		a.DirectnessScore = 0
	}
	a.DirectnessScore = math.Min(math.Max(a.DirectnessScore, 0), 100)
	return a
}

// AnalysisResult is either an AIAnalysis or Unavailable. The zero value is Unavailable.
type AnalysisResult struct {
	analysis  AIAnalysis
	available bool
}

// Available wraps a successful analysis.
func Available(a AIAnalysis) AnalysisResult {
	return AnalysisResult{analysis: a.Clamped(), available: true}
}

// Unavailable marks the signal as missing (timeout, error, not configured).
func Unavailable() AnalysisResult {
	return AnalysisResult{}
}

// Get returns the analysis and whether it is present.
func (r AnalysisResult) Get() (AIAnalysis, bool) {
	return r.analysis, r.available
}

// Score returns the directness score and whether it is present.
func (r AnalysisResult) Score() (float64, bool) {
	return r.analysis.DirectnessScore, r.available
}

// MarshalJSON writes the analysis object, or null when unavailable.
func (r AnalysisResult) MarshalJSON() ([]byte, error) {
	if !r.available {
		return []byte("null"), nil
	}
	return json.Marshal(r.analysis)
}

// UnmarshalJSON accepts an analysis object or null.
func (r *AnalysisResult) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*r = Unavailable()
		return nil
	}
	var a AIAnalysis
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*r = Available(a)
	return nil
}
