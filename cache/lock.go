package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another worker currently owns the lock.
var ErrLockHeld = errors.New("lock held by another worker")

// ErrLockBackendUnreachable is returned when the lock backend cannot be
// reached at all. Callers may choose to degrade rather than refuse to run.
var ErrLockBackendUnreachable = errors.New("lock backend unreachable")

// DistributedLock provides mutual exclusion across worker processes.
// Acquire returns an opaque token; only the token holder may Release.
type DistributedLock interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Release(ctx context.Context, key, token string) (bool, error)
}

// releaseScript deletes the key only when its value matches the caller's
// token, so a worker can never release a lock another worker re-acquired
// after this one's TTL expired.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

// RedisLock implements DistributedLock over a Redis key with SET NX + TTL
type RedisLock struct {
	redis *RedisClient
}

// NewRedisLock creates a Redis-backed distributed lock
func NewRedisLock(redis *RedisClient) *RedisLock {
	return &RedisLock{redis: redis}
}

// Acquire tries to take the lock. Returns ErrLockHeld if another worker owns
// it and ErrLockBackendUnreachable if Redis cannot be reached.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, key, token, ttl)
	if err != nil {
		return "", ErrLockBackendUnreachable
	}
	if !ok {
		return "", ErrLockHeld
	}
	return token, nil
}

// Release frees the lock via atomic compare-and-delete. Returns true when
// this worker's token still owned the lock.
func (l *RedisLock) Release(ctx context.Context, key, token string) (bool, error) {
	result, err := l.redis.Eval(ctx, releaseScript, []string{key}, token)
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, ErrLockBackendUnreachable
	}

	deleted, _ := result.(int64)
	return deleted == 1, nil
}
