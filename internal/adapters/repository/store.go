// Package repository holds the official leaderboard.
package repository

import (
	"context"

	"github.com/okian/civicstake/internal/domain/model"
)

// Store ranks officials by conservative score.
type Store interface {
	// Upsert inserts or replaces an official's belief.
	Upsert(ctx context.Context, b model.RatingBelief) error

	// Rank returns the official's position. Returns ErrNotFound if unknown.
	Rank(ctx context.Context, officialID string) (model.LeaderboardEntry, error)

	// TopN returns the best n officials, best first.
	TopN(ctx context.Context, n int) ([]model.LeaderboardEntry, error)

	// Count returns the number of ranked officials.
	Count(ctx context.Context) int
}
