package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/skillforge/pkg/logger"
)

// Default lock timings.
const (
	DefaultLockTTL      = 30 * time.Second
	DefaultLockRetry    = 25 * time.Millisecond
	maxLockRetryBackoff = 250 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements engine.Locker across processes.
// The TTL bounds how long a crashed holder blocks the key.
type Locker struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	log    *logger.Logger
}

// NewLocker creates a Locker. Zero durations use the defaults.
func NewLocker(client redis.UniversalClient, ttl, retry time.Duration, log *logger.Logger) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if retry <= 0 {
		retry = DefaultLockRetry
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Locker{client: client, ttl: ttl, retry: retry, log: log}
}

// Lock blocks until the key is acquired or ctx ends.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := LockKey(key)
	token := uuid.NewString()
	wait := l.retry

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
			}
			return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
		case <-timer.C:
		}
		if wait < maxLockRetryBackoff {
			wait *= 2
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, lockKey, token) })
	}, nil
}

func (l *Locker) release(key, lockKey, token string) {
	// The caller's context may already be cancelled; release on a fresh one.
	rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := releaseScript.Run(rctx, l.client, []string{lockKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		l.log.Warn("lock release failed", logger.String("key", key), logger.Err(err))
	}
}
