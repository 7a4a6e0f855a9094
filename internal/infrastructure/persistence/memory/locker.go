// Package memory provides in-process implementations of the progress ports for
// single-node deployments running without Redis.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bloom-hub/bloom-progress/internal/domain/progress"
	"github.com/bloom-hub/bloom-progress/internal/domain/shared"
)

// Locker implements progress.Locker inside one process.
type Locker struct {
	mu    sync.Mutex
	held  map[string]lease
	now   func() time.Time
	token uint64
}

type lease struct {
	token   uint64
	expires time.Time
}

var _ progress.Locker = (*Locker)(nil)

// NewLocker creates an empty locker.
func NewLocker() *Locker {
	return &Locker{held: make(map[string]lease), now: time.Now}
}

// Acquire takes the lock on key for at most ttl.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, shared.NewDomainError("roles", "Acquire", shared.ErrLocked,
			fmt.Sprintf("%s is already being processed", key))
	}

	l.token++
	token := l.token
	l.held[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.token == token {
				delete(l.held, key)
			}
		})
	}, nil
}
