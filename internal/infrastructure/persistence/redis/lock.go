package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when the lock stays taken for the whole wait.
var ErrLockHeld = errors.New("lock: held by another owner")

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-instance Redis lock built on SET NX PX.
type Locker struct {
	client *redis.Client
	wait   time.Duration
	poll   time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithWait sets how long Acquire keeps polling a held lock.
func WithWait(d time.Duration) LockerOption { return func(l *Locker) { l.wait = d } }

// NewLocker creates a Locker on the cache's client.
func NewLocker(c *Cache, opts ...LockerOption) *Locker {
	l := &Locker{client: c.Client(), wait: 2 * time.Second, poll: 50 * time.Millisecond}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire takes the lock for key, polling until it frees up or the wait
// elapses. The returned release is safe to call once.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if key == "" {
		return nil, ErrCacheKeyEmpty
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	lockKey := LockKey(key)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheConnection, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, l.client, []string{lockKey}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}
