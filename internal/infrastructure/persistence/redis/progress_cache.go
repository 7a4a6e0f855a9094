package redis

import (
	"context"
	"errors"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
)

// ProgressCache implements progress.ProgressCache on top of Cache.
type ProgressCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ progress.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache creates a progress cache with the given entry TTL.
func NewProgressCache(cache *Cache, ttl time.Duration) *ProgressCache {
	return &ProgressCache{cache: cache, ttl: ttl}
}

// Get returns the cached progress of a member.
func (c *ProgressCache) Get(ctx context.Context, communityID, userID string) (*progress.UserProgress, bool, error) {
	var p progress.UserProgress
	err := c.cache.Get(ctx, ProgressKey(communityID, userID), &p)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &p, true, nil
}

// Set caches a member's progress.
func (c *ProgressCache) Set(ctx context.Context, p *progress.UserProgress) error {
	return c.cache.Set(ctx, ProgressKey(p.CommunityID, p.UserID), p, c.ttl)
}

// Invalidate drops a member's cached progress.
func (c *ProgressCache) Invalidate(ctx context.Context, communityID, userID string) error {
	return c.cache.Delete(ctx, ProgressKey(communityID, userID))
}
