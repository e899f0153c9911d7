package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"credential-sync/internal/client"
	"credential-sync/internal/util"
)

const (
	rateLimitPrefix = "rate_limit:"
	tempLockPrefix  = "temp_lock:"
)

// RateLimitCache holds fixed-window counters and temporary locks per
// operation and normalized email.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

func rateLimitKey(operation, email string) string {
	return fmt.Sprintf("%s:%s", operation, email)
}

// SetTemporaryLock locks operation for email. An existing lock keeps its expiry.
func (c *RateLimitCache) SetTemporaryLock(ctx context.Context, operation, email string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	set, err := c.client.SetNX(ctx, tempLockPrefix+rateLimitKey(operation, email), "locked", ttl)
	if err != nil {
		util.Error("Failed to set temporary lock",
			zap.String("operation", operation),
			util.Email(email),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set temporary lock: %w", err)
	}
	if set {
		util.Debug("Temporary lock set", zap.String("operation", operation), util.Email(email), zap.Duration("ttl", ttl))
	}
	return nil
}

func (c *RateLimitCache) IsLocked(ctx context.Context, operation, email string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	locked, err := c.client.Exists(ctx, tempLockPrefix+rateLimitKey(operation, email))
	if err != nil {
		util.Error("Failed to check temporary lock", zap.String("operation", operation), util.Email(email), zap.Error(err))
		return false, fmt.Errorf("failed to check temporary lock: %w", err)
	}
	return locked, nil
}

// IncrementCounter bumps the counter and returns the new count. The window
// starts with the first increment.
func (c *RateLimitCache) IncrementCounter(ctx context.Context, operation, email string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	count, err := c.client.IncrWithExpire(ctx, rateLimitPrefix+rateLimitKey(operation, email), window)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("operation", operation),
			util.Email(email),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	util.Debug("Rate limit counter incremented",
		zap.String("operation", operation),
		util.Email(email),
		zap.Int64("count", count))
	return int(count), nil
}

// ResetCounter clears both the counter and any lock.
func (c *RateLimitCache) ResetCounter(ctx context.Context, operation, email string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := rateLimitKey(operation, email)
	if err := c.client.Del(ctx, rateLimitPrefix+key, tempLockPrefix+key); err != nil {
		util.Error("Failed to reset rate limit counter", zap.String("operation", operation), util.Email(email), zap.Error(err))
		return fmt.Errorf("failed to reset rate limit counter: %w", err)
	}
	return nil
}
