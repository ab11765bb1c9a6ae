package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/catalog/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLeaseExclusiveUntilReleased(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	lease, err := locker.Acquire(ctx, "catalog:refresh:lock", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "catalog:refresh:lock", lease.Key())

	other, err := locker.Acquire(ctx, "catalog:refresh:lock", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("catalog:refresh:lock"))

	other, err = locker.Acquire(ctx, "catalog:refresh:lock", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestStaleLeaseCannotReleaseSuccessor(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.NotNil(t, stale)

	mr.FastForward(2 * time.Second)

	current, err := locker.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, current)

	require.NoError(t, stale.Release(ctx))
	assert.True(t, mr.Exists("k"), "expired holder must not drop the new lease")
}

func TestLockerRejectsBadInput(t *testing.T) {
	var missing *Locker
	_, err := missing.Acquire(context.Background(), "k", time.Second)
	assert.ErrorIs(t, err, ErrLockNotConfigured)
	assert.Nil(t, NewLocker(nil))

	_, client := newRedis(t)
	locker := NewLocker(client)
	_, err = locker.Acquire(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrInvalidLease)
	_, err = locker.Acquire(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidLease)

	var lease *Lease
	assert.NoError(t, lease.Release(context.Background()))
}

func TestTokenBucketExhaustsBurst(t *testing.T) {
	_, client := newRedis(t)
	bucket := NewTokenBucket(client)
	ctx := context.Background()

	limit := Limit{PerSecond: 0.001, Burst: 2}

	for i := 0; i < 2; i++ {
		res, err := bucket.Take(ctx, "bucket", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d should be allowed", i)
	}

	res, err := bucket.Take(ctx, "bucket", limit)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))
}

func TestTokenBucketRejectsBadLimit(t *testing.T) {
	var missing *TokenBucket
	_, err := missing.Take(context.Background(), "bucket", Limit{PerSecond: 1, Burst: 1})
	assert.ErrorIs(t, err, ErrBucketNotConfigured)

	_, client := newRedis(t)
	_, err = NewTokenBucket(client).Take(context.Background(), "bucket", Limit{PerSecond: 0, Burst: 1})
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestUpstreamLimiterSharedBucket(t *testing.T) {
	_, client := newRedis(t)
	cfg := config.Config{Upstream: config.UpstreamConfig{RatePerSecond: 0.001, Burst: 1, SharedRateLimit: true}}

	first := NewUpstreamLimiter(cfg, client, zaptest.NewLogger(t))
	second := NewUpstreamLimiter(cfg, client, zaptest.NewLogger(t))

	require.NoError(t, first.Wait(context.Background()))

	err := second.Wait(context.Background())
	assert.True(t, errors.Is(err, ErrThrottled), "expected throttle, got %v", err)
}

func TestUpstreamLimiterLocalDeadline(t *testing.T) {
	cfg := config.Config{Upstream: config.UpstreamConfig{RatePerSecond: 0.001, Burst: 1}}
	limiter := NewUpstreamLimiter(cfg, nil, zaptest.NewLogger(t))

	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := limiter.Wait(ctx)
	assert.True(t, errors.Is(err, ErrThrottled))
}
