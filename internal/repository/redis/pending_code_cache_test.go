package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credential-sync/internal/client"
	"credential-sync/internal/clock"
	"credential-sync/internal/hashing"
	"credential-sync/internal/model"
)

func newTestCache(t *testing.T) (*PendingCodeCache, *clock.Fake, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hasher, err := hashing.NewHasher("test-key-0123456789abcdef")
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	return NewPendingCodeCache(client.NewRedisClientFromConn(rdb), hasher, clk, 5*time.Minute, 5), clk, mr
}

// wrongCode returns a well-formed code that differs from code.
func wrongCode(code string) string {
	last := (code[len(code)-1]-'0'+1)%10 + '0'
	return code[:len(code)-1] + string(last)
}

func TestIssueThenValidateOnce(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)
	assert.Len(t, pending.Code, 6)
	assert.Equal(t, pending.IssuedAt.Add(5*time.Minute), pending.ExpiresAt)

	require.NoError(t, cache.Validate(ctx, "u@x.com", pending.Code))
	assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", pending.Code), model.ErrAlreadyConsumed)
}

func TestIssueStoresDigestNotCode(t *testing.T) {
	cache, _, mr := newTestCache(t)

	pending, err := cache.Issue(context.Background(), "u@x.com")
	require.NoError(t, err)

	raw, err := mr.Get("otp:u@x.com")
	require.NoError(t, err)
	assert.NotContains(t, raw, pending.Code)
	assert.True(t, mr.TTL("otp:u@x.com") > 5*time.Minute, "store ttl covers the window plus grace")

	ttl, err := cache.TTL(context.Background(), "u@x.com")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute+expiredGrace, ttl)
}

func TestValidateNotFound(t *testing.T) {
	cache, _, _ := newTestCache(t)
	assert.ErrorIs(t, cache.Validate(context.Background(), "nobody@x.com", "123456"), model.ErrNotFound)
}

func TestValidateMismatch(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", wrongCode(pending.Code)), model.ErrMismatch)

	// A mismatch does not burn the code.
	assert.NoError(t, cache.Validate(ctx, "u@x.com", pending.Code))
}

func TestReissueInvalidatesPreviousCode(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)
	second, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	if first.Code != second.Code {
		err = cache.Validate(ctx, "u@x.com", first.Code)
		assert.ErrorIs(t, err, model.ErrMismatch)
	}
	assert.NoError(t, cache.Validate(ctx, "u@x.com", second.Code))
}

func TestValidateAfterExpiry(t *testing.T) {
	cache, clk, _ := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	clk.Advance(5*time.Minute + time.Second)
	assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", pending.Code), model.ErrExpired)
}

func TestExpiredRecordIsCollected(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	mr.FastForward(5*time.Minute + expiredGrace + time.Second)
	assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", pending.Code), model.ErrNotFound)
}

func TestConcurrentValidateSucceedsOnce(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		others    []error
	)

	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := cache.Validate(ctx, "u@x.com", pending.Code)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			others = append(others, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range others {
		assert.True(t,
			errors.Is(err, model.ErrAlreadyConsumed) || errors.Is(err, model.ErrConflict),
			"unexpected error: %v", err)
	}
}

func TestWrongGuessesRevokeCode(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", wrongCode(pending.Code)), model.ErrMismatch)
	}

	assert.False(t, mr.Exists("otp:u@x.com"))
	assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", pending.Code), model.ErrNotFound)
}

func TestWrongGuessesBelowLimitKeepCode(t *testing.T) {
	cache, _, mr := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", wrongCode(pending.Code)), model.ErrMismatch)
	}

	raw, err := mr.Get("otp:u@x.com")
	require.NoError(t, err)
	assert.Contains(t, raw, `"attempts":4`)
	assert.True(t, mr.TTL("otp:u@x.com") > 5*time.Minute, "counting a guess keeps the record ttl")

	assert.NoError(t, cache.Validate(ctx, "u@x.com", pending.Code))
}

func TestReissueResetsAttempts(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	first, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, cache.Validate(ctx, "u@x.com", wrongCode(first.Code)), model.ErrMismatch)
	}

	second, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.ErrorIs(t, cache.Validate(ctx, "u@x.com", wrongCode(second.Code)), model.ErrMismatch)
	}
	assert.NoError(t, cache.Validate(ctx, "u@x.com", second.Code))
}

func TestWrongGuessOnConsumedCodeIsNotCounted(t *testing.T) {
	cache, _, _ := newTestCache(t)
	ctx := context.Background()

	pending, err := cache.Issue(ctx, "u@x.com")
	require.NoError(t, err)
	require.NoError(t, cache.Validate(ctx, "u@x.com", pending.Code))

	for i := 0; i < 6; i++ {
		assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", wrongCode(pending.Code)), model.ErrMismatch)
	}
	assert.ErrorIs(t, cache.Validate(ctx, "u@x.com", pending.Code), model.ErrAlreadyConsumed)
}
