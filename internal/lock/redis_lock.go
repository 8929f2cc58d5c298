package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"projecttracker/pkg/metrics"
)

// release only deletes the key if we still own it
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker shares one write lock between replicas through a Redis key.
// The key expires after ttl so a crashed holder cannot block writers forever.
type RedisLocker struct {
	rdb          *redis.Client
	key          string
	ttl          time.Duration
	pollInterval time.Duration
	logger       *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		rdb:          rdb,
		key:          key,
		ttl:          ttl,
		pollInterval: 25 * time.Millisecond,
		logger:       logger,
	}
}

// Lock gives up after ttl even if ctx has no deadline: by then any holder's
// key has expired, so waiting longer means Redis itself is misbehaving.
func (l *RedisLocker) Lock(ctx context.Context) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	start := time.Now()
	token := uuid.NewString()
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			l.logger.Warn("Redis lock acquire failed",
				zap.String("key", l.key),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %w", ErrNotAcquired, err)
		}
		if ok {
			metrics.RecordLockWait("redis", time.Since(start))
			var once sync.Once
			return func() { once.Do(func() { l.release(token) }) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
		l.logger.Warn("Redis lock release failed, key will expire on its own",
			zap.String("key", l.key),
			zap.Duration("ttl", l.ttl),
			zap.Error(err),
		)
	}
}
