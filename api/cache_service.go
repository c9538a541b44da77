package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cdduran/percepsim/internal/slogging"
)

// Cache key and TTL for the latest-recommendations seed list.
const (
	latestRecommendationsKey = "percepsim:recommendations:latest"
	latestRecommendationsTTL = 5 * time.Minute
)

// RecommendationCache keeps the newest recommendations in Redis so that
// connection seeding does not hit the database on every connect. It is
// best-effort throughout: a nil client or a Redis failure degrades to a
// cache miss.
type RecommendationCache struct {
	client *redis.Client
}

// NewRecommendationCache creates a cache over an optional Redis client.
func NewRecommendationCache(client *redis.Client) *RecommendationCache {
	return &RecommendationCache{client: client}
}

// CacheLatest stores the seed list with write-through semantics.
func (c *RecommendationCache) CacheLatest(ctx context.Context, recommendations []Recommendation) error {
	if c.client == nil {
		return nil
	}
	logger := slogging.Get()

	data, err := json.Marshal(recommendations)
	if err != nil {
		logger.Error("Failed to marshal recommendations for cache: %v", err)
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}

	if err := c.client.Set(ctx, latestRecommendationsKey, data, latestRecommendationsTTL).Err(); err != nil {
		logger.Error("Failed to cache latest recommendations: %v", err)
		return fmt.Errorf("failed to cache recommendations: %w", err)
	}

	logger.Debug("Cached %d latest recommendations with TTL %v", len(recommendations), latestRecommendationsTTL)
	return nil
}

// Latest returns the cached seed list, or nil on a miss.
func (c *RecommendationCache) Latest(ctx context.Context) ([]Recommendation, error) {
	if c.client == nil {
		return nil, nil
	}
	logger := slogging.Get()

	data, err := c.client.Get(ctx, latestRecommendationsKey).Result()
	if err != nil {
		if err == redis.Nil {
			logger.Debug("Cache miss for latest recommendations")
			return nil, nil
		}
		logger.Error("Failed to get cached recommendations: %v", err)
		return nil, fmt.Errorf("failed to get cached recommendations: %w", err)
	}

	var recommendations []Recommendation
	if err := json.Unmarshal([]byte(data), &recommendations); err != nil {
		logger.Error("Failed to unmarshal cached recommendations: %v", err)
		return nil, fmt.Errorf("failed to unmarshal cached recommendations: %w", err)
	}
	return recommendations, nil
}

// Invalidate drops the seed list so the next read refills it.
func (c *RecommendationCache) Invalidate(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, latestRecommendationsKey).Err(); err != nil {
		slogging.Get().Error("Failed to invalidate recommendation cache: %v", err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
