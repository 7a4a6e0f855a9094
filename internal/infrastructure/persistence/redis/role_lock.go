package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// releaseScript deletes the lock only if it still holds our token, so a lock that
// expired and was taken by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RoleLock implements progress.Locker with SET NX PX.
type RoleLock struct {
	cache  *Cache
	logger *slog.Logger
}

var _ progress.Locker = (*RoleLock)(nil)

// NewRoleLock creates a lock backed by the given cache.
func NewRoleLock(cache *Cache, logger *slog.Logger) *RoleLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleLock{cache: cache, logger: logger}
}

// Acquire takes the lock on key for at most ttl.
func (l *RoleLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	fullKey := l.cache.Key(LockKey(key))
	token := uuid.NewString()

	ok, err := l.cache.Client().SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, shared.WrapError("roles", "Acquire", shared.ErrExternalService,
			"lock backend unavailable", err)
	}
	if !ok {
		return nil, shared.NewDomainError("roles", "Acquire", shared.ErrLocked,
			fmt.Sprintf("%s is already being processed", key))
	}

	release := func() {
		// The caller's context may already be cancelled; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.cache.Client(), []string{fullKey}, token).Err(); err != nil {
			l.logger.Warn("failed to release role lock", "key", key, "error", err)
		}
	}
	return release, nil
}
