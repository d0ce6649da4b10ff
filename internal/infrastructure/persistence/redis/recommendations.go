package redis

import (
	"context"
	"errors"
	"time"

	"github.com/taosiq/p2pskillx-sub000/internal/application/recommend"
)

// RecommendationCache stores ranked lists per user.
type RecommendationCache struct {
	cache *Cache
}

var _ recommend.Cache = (*RecommendationCache)(nil)

// NewRecommendationCache creates a RecommendationCache.
func NewRecommendationCache(c *Cache) *RecommendationCache {
	return &RecommendationCache{cache: c}
}

// Get returns the cached list. A miss is (nil, false, nil).
func (r *RecommendationCache) Get(ctx context.Context, userID string) ([]recommend.Recommendation, bool, error) {
	var recs []recommend.Recommendation
	err := r.cache.Get(ctx, RecommendationsKey(userID), &recs)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// Set caches recs for ttl.
func (r *RecommendationCache) Set(ctx context.Context, userID string, recs []recommend.Recommendation, ttl time.Duration) error {
	return r.cache.Set(ctx, RecommendationsKey(userID), recs, ttl)
}

// Invalidate drops a user's cached list, e.g. after they follow someone.
func (r *RecommendationCache) Invalidate(ctx context.Context, userID string) error {
	return r.cache.Delete(ctx, RecommendationsKey(userID))
}
