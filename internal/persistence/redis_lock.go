package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another process")

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single-holder lease keyed in Redis. The token makes release safe against a
// lease that expired and was re-acquired by someone else.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLock builds a lock over key with the given lease TTL.
func NewRedisLock(r *Redis, key string, ttl time.Duration) *RedisLock {
	var client *redis.Client
	if r != nil {
		client = r.Client
	}
	return &RedisLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lease and returns a release func. It fails with ErrLockHeld when taken.
func (l *RedisLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return nil, errors.New("redis client not configured")
	}
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func(ctx context.Context) error {
		return releaseLockScript.Run(ctx, l.client, []string{l.key}, token).Err()
	}, nil
}
