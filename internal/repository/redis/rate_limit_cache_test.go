package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-sync/internal/client"
)

func newTestRateLimitCache(t *testing.T) (*RateLimitCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRateLimitCache(client.NewRedisClientFromConn(rdb)), mr
}

func TestIncrementCounterWindow(t *testing.T) {
	cache, mr := newTestRateLimitCache(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		count, err := cache.IncrementCounter(ctx, "issue_otp", "u@x.com", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}
	assert.Equal(t, time.Minute, mr.TTL("rate_limit:issue_otp:u@x.com"))

	// Another operation or email has its own counter.
	count, err := cache.IncrementCounter(ctx, "validate_otp", "u@x.com", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	mr.FastForward(time.Minute + time.Second)
	count, err = cache.IncrementCounter(ctx, "issue_otp", "u@x.com", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTemporaryLock(t *testing.T) {
	cache, mr := newTestRateLimitCache(t)
	ctx := context.Background()

	locked, err := cache.IsLocked(ctx, "validate_otp", "u@x.com")
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, cache.SetTemporaryLock(ctx, "validate_otp", "u@x.com", 10*time.Minute))
	require.NoError(t, cache.SetTemporaryLock(ctx, "validate_otp", "u@x.com", time.Hour))
	assert.Equal(t, 10*time.Minute, mr.TTL("temp_lock:validate_otp:u@x.com"))

	locked, err = cache.IsLocked(ctx, "validate_otp", "u@x.com")
	require.NoError(t, err)
	assert.True(t, locked)

	mr.FastForward(10*time.Minute + time.Second)
	locked, err = cache.IsLocked(ctx, "validate_otp", "u@x.com")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestResetCounterClearsLock(t *testing.T) {
	cache, mr := newTestRateLimitCache(t)
	ctx := context.Background()

	_, err := cache.IncrementCounter(ctx, "validate_otp", "u@x.com", time.Minute)
	require.NoError(t, err)
	require.NoError(t, cache.SetTemporaryLock(ctx, "validate_otp", "u@x.com", time.Minute))

	require.NoError(t, cache.ResetCounter(ctx, "validate_otp", "u@x.com"))
	assert.False(t, mr.Exists("rate_limit:validate_otp:u@x.com"))
	assert.False(t, mr.Exists("temp_lock:validate_otp:u@x.com"))
}
