package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("lock is held by another owner")

const unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// RedisLocker takes SETNX locks that expire after ttl. Lock waits up to wait
// for a held lock to be released.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(rdb redis.UniversalClient, prefix string, ttl, wait time.Duration) *RedisLocker {
	if wait <= 0 {
		wait = ttl
	}
	return &RedisLocker{rdb: rdb, prefix: prefix, ttl: ttl, wait: wait}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	try := func() error {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return ErrLockHeld
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = l.wait
	if err := backoff.Retry(try, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("lock %s: %w", fullKey, err)
	}

	unlock := func(ctx context.Context) error {
		n, err := l.rdb.Eval(ctx, unlockScript, []string{fullKey}, token).Int64()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("unlock %s: lock expired or taken over", fullKey)
		}
		return nil
	}
	return unlock, nil
}
