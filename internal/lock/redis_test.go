package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedisLocker(t *testing.T) *RedisLocker {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := RedisConfig{TTL: time.Minute, AcquireTimeout: 200 * time.Millisecond, RetryInterval: 10 * time.Millisecond}
	return NewRedisLocker(client, cfg, "lock-test", nil)
}

func TestRedisLockerAcquireAndRelease(t *testing.T) {
	l := setupTestRedisLocker(t)
	ctx := context.Background()

	h, err := l.Acquire(ctx, "node-1")
	require.NoError(t, err)
	require.NoError(t, h.Release(ctx))

	h2, ok, err := l.TryAcquire(ctx, "node-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, h2.Release(ctx))
}

func TestRedisLockerTryAcquireFailsWhenHeld(t *testing.T) {
	l := setupTestRedisLocker(t)
	ctx := context.Background()

	h, ok, err := l.TryAcquire(ctx, "node-1")
	require.NoError(t, err)
	require.True(t, ok)
	defer h.Release(ctx)

	_, ok, err = l.TryAcquire(ctx, "node-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisLockerAcquireTimesOutWhenHeld(t *testing.T) {
	l := setupTestRedisLocker(t)
	ctx := context.Background()

	h, ok, err := l.TryAcquire(ctx, "node-1")
	require.NoError(t, err)
	require.True(t, ok)
	defer h.Release(ctx)

	_, err = l.Acquire(ctx, "node-1")
	assert.Error(t, err)
}
