package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cdduran/percepsim/api/models"
	"github.com/cdduran/percepsim/internal/slogging"
)

// GormRecommendationStore implements RecommendationStore using GORM over
// MySQL.
type GormRecommendationStore struct {
	db *gorm.DB
}

// NewGormRecommendationStore creates a new GORM-backed recommendation store.
func NewGormRecommendationStore(db *gorm.DB) *GormRecommendationStore {
	return &GormRecommendationStore{db: db}
}

// Migrate creates or updates the recommendations table.
func (s *GormRecommendationStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.Recommendation{}); err != nil {
		return fmt.Errorf("failed to migrate recommendations table: %w", err)
	}
	return nil
}

// Create inserts a new recommendation
func (s *GormRecommendationStore) Create(ctx context.Context, rec *Recommendation) error {
	logger := slogging.Get()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	model := models.Recommendation{
		Action1:    rec.Action1,
		Action2:    rec.Action2,
		Action3:    rec.Action3,
		Action4:    rec.Action4,
		Perception: rec.Perception,
		Timestamp:  rec.Timestamp,
	}
	if rec.UserID != nil {
		id := rec.UserID.String()
		model.UserID = &id
	}

	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		logger.Error("Failed to create recommendation in database: %v", err)
		return fmt.Errorf("failed to create recommendation: %w", err)
	}

	rec.ID = model.ID
	logger.Debug("Stored recommendation %d (perception %.4f)", rec.ID, rec.Perception)
	return nil
}

// List returns a page of recommendations, newest first
func (s *GormRecommendationStore) List(ctx context.Context, offset, limit int) ([]Recommendation, error) {
	var modelList []models.Recommendation
	result := s.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&modelList)

	if result.Error != nil {
		slogging.Get().Error("Failed to query recommendations: %v", result.Error)
		return nil, fmt.Errorf("failed to list recommendations: %w", result.Error)
	}

	recommendations := make([]Recommendation, 0, len(modelList))
	for i := range modelList {
		recommendations = append(recommendations, s.modelToAPI(&modelList[i]))
	}
	return recommendations, nil
}

// Count returns the total number of stored recommendations
func (s *GormRecommendationStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Recommendation{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count recommendations: %w", err)
	}
	return count, nil
}

// Latest returns the n most recent recommendations
func (s *GormRecommendationStore) Latest(ctx context.Context, n int) ([]Recommendation, error) {
	return s.List(ctx, 0, n)
}

// Stats aggregates min/max/avg perception over all records
func (s *GormRecommendationStore) Stats(ctx context.Context) (*PerceptionStats, error) {
	var stats PerceptionStats
	row := s.db.WithContext(ctx).Model(&models.Recommendation{}).
		Select("COUNT(*) as total_recommendations, MIN(perception) as min_perception, MAX(perception) as max_perception, AVG(perception) as avg_perception").
		Row()

	if err := row.Scan(&stats.TotalRecommendations, &stats.MinPerception, &stats.MaxPerception, &stats.AvgPerception); err != nil {
		slogging.Get().Error("Failed to aggregate recommendation stats: %v", err)
		return nil, fmt.Errorf("failed to aggregate stats: %w", err)
	}
	return &stats, nil
}

func (s *GormRecommendationStore) modelToAPI(model *models.Recommendation) Recommendation {
	rec := Recommendation{
		ID:         model.ID,
		Action1:    model.Action1,
		Action2:    model.Action2,
		Action3:    model.Action3,
		Action4:    model.Action4,
		Perception: model.Perception,
		Timestamp:  model.Timestamp,
	}
	if model.UserID != nil {
		if id, err := uuid.Parse(*model.UserID); err == nil {
			rec.UserID = &id
		}
	}
	return rec
}
