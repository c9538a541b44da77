package api

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Recommendation is the API representation of a persisted recommendation.
type Recommendation struct {
	ID         uint       `json:"id"`
	Action1    float64    `json:"action1"`
	Action2    float64    `json:"action2"`
	Action3    float64    `json:"action3"`
	Action4    float64    `json:"action4"`
	Perception float64    `json:"perception"`
	UserID     *uuid.UUID `json:"userId,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// PerceptionStats aggregates the stored perception scores.
type PerceptionStats struct {
	TotalRecommendations int64    `json:"totalRecommendations"`
	MinPerception        *float64 `json:"minPerception"`
	MaxPerception        *float64 `json:"maxPerception"`
	AvgPerception        *float64 `json:"avgPerception"`
}

// RecommendationStore is the persistence gateway for finalized
// recommendations. The live-session layer consumes it but never owns it;
// store failures must stay soft.
type RecommendationStore interface {
	// Create inserts a recommendation and fills in its assigned ID
	Create(ctx context.Context, rec *Recommendation) error
	// List returns a page of recommendations, newest first
	List(ctx context.Context, offset, limit int) ([]Recommendation, error)
	// Count returns the total number of stored recommendations
	Count(ctx context.Context) (int64, error)
	// Latest returns the n most recent recommendations
	Latest(ctx context.Context, n int) ([]Recommendation, error)
	// Stats aggregates min/max/avg perception over all records
	Stats(ctx context.Context) (*PerceptionStats, error)
}
