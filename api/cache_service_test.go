package api

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RecommendationCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRecommendationCache(client), mr
}

func TestRecommendationCache(t *testing.T) {
	ctx := context.Background()

	sample := []Recommendation{
		{ID: 2, Action1: 10, Action2: -5, Action3: 3, Action4: 0, Perception: 812.4, Timestamp: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)},
		{ID: 1, Action1: 1, Action2: 2, Action3: 3, Action4: 4, Perception: 1500.1, Timestamp: time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC)},
	}

	t.Run("RoundTrip", func(t *testing.T) {
		cache, _ := newTestCache(t)

		require.NoError(t, cache.CacheLatest(ctx, sample))

		got, err := cache.Latest(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint(2), got[0].ID)
		assert.Equal(t, 812.4, got[0].Perception)
	})

	t.Run("MissReturnsNil", func(t *testing.T) {
		cache, _ := newTestCache(t)

		got, err := cache.Latest(ctx)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("EntryExpires", func(t *testing.T) {
		cache, mr := newTestCache(t)

		require.NoError(t, cache.CacheLatest(ctx, sample))
		mr.FastForward(latestRecommendationsTTL + time.Second)

		got, err := cache.Latest(ctx)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("Invalidate", func(t *testing.T) {
		cache, _ := newTestCache(t)

		require.NoError(t, cache.CacheLatest(ctx, sample))
		require.NoError(t, cache.Invalidate(ctx))

		got, err := cache.Latest(ctx)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("NilClientDegradesToMiss", func(t *testing.T) {
		cache := NewRecommendationCache(nil)

		assert.NoError(t, cache.CacheLatest(ctx, sample))
		got, err := cache.Latest(ctx)
		assert.NoError(t, err)
		assert.Nil(t, got)
		assert.NoError(t, cache.Invalidate(ctx))
	})

	t.Run("RedisDownIsSoftError", func(t *testing.T) {
		cache, mr := newTestCache(t)
		mr.Close()

		assert.Error(t, cache.CacheLatest(ctx, sample))
		_, err := cache.Latest(ctx)
		assert.Error(t, err)
	})
}
