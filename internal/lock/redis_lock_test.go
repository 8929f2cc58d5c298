package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testLockKey = "projecttracker:test:lock"

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLocker(rdb, testLockKey, ttl, zap.NewNop()), mr
}

func TestRedisLocker(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists(testLockKey))
	assert.Equal(t, time.Second, mr.TTL(testLockKey))

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short)
	assert.ErrorIs(t, err, ErrNotAcquired)

	unlock()
	assert.False(t, mr.Exists(testLockKey))

	// a second unlock is a no-op
	unlock()

	unlock2, err := l.Lock(ctx)
	require.NoError(t, err)
	unlock2()
}

func TestRedisLockerWaitsForRelease(t *testing.T) {
	l, _ := newTestRedisLocker(t, 2*time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx)
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		unlock2, err := l.Lock(ctx)
		if err == nil {
			unlock2()
		}
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()

	select {
	case err := <-acquired:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second lock not acquired after release")
	}
}

func TestRedisLockerExpiredHolder(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	ctx := context.Background()

	_, err := l.Lock(ctx)
	require.NoError(t, err)

	// the holder crashed without unlocking; the key expires on its own
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(testLockKey))

	unlock, err := l.Lock(ctx)
	require.NoError(t, err)
	unlock()
}

func TestRedisLockerDoesNotReleaseForeignKey(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx)
	require.NoError(t, err)

	// expiry and takeover by another replica
	require.NoError(t, mr.Set(testLockKey, "other"))
	unlock()

	val, err := mr.Get(testLockKey)
	require.NoError(t, err)
	assert.Equal(t, "other", val)
}

func TestRedisLockerUnreachable(t *testing.T) {
	l, mr := newTestRedisLocker(t, time.Second)
	mr.Close()

	_, err := l.Lock(context.Background())
	assert.ErrorIs(t, err, ErrNotAcquired)
}
