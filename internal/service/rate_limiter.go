package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

const (
	opIssueOtp    = "issue_otp"
	opValidateOtp = "validate_otp"
)

// RateLimitStore is implemented by the Redis rate-limit cache.
type RateLimitStore interface {
	IncrementCounter(ctx context.Context, operation, email string, window time.Duration) (int, error)
	SetTemporaryLock(ctx context.Context, operation, email string, ttl time.Duration) error
	IsLocked(ctx context.Context, operation, email string) (bool, error)
	ResetCounter(ctx context.Context, operation, email string) error
}

// RateLimitPolicy allows Limit requests per Window and locks the email out
// for Lock once the limit is exceeded. A zero Limit disables the policy.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
	Lock   time.Duration
}

// RateLimiter throttles OTP operations per email. A nil *RateLimiter allows
// everything. Store failures are logged and the request is let through; the
// per-code attempt limit still bounds guessing.
type RateLimiter struct {
	store    RateLimitStore
	policies map[string]RateLimitPolicy
	logger   *zap.Logger
}

func NewRateLimiter(store RateLimitStore, issue, validate RateLimitPolicy, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		store: store,
		policies: map[string]RateLimitPolicy{
			opIssueOtp:    issue,
			opValidateOtp: validate,
		},
		logger: logger,
	}
}

// Allow counts one request and returns model.ErrRateLimited while the email
// is locked out of operation.
func (l *RateLimiter) Allow(ctx context.Context, operation, email string) error {
	if l == nil {
		return nil
	}
	policy := l.policies[operation]
	if policy.Limit <= 0 {
		return nil
	}

	locked, err := l.store.IsLocked(ctx, operation, email)
	if err != nil {
		l.logger.Warn("Rate limit check skipped", zap.String("operation", operation), util.Email(email), zap.Error(err))
		return nil
	}
	if locked {
		return model.ErrRateLimited
	}

	count, err := l.store.IncrementCounter(ctx, operation, email, policy.Window)
	if err != nil {
		l.logger.Warn("Rate limit check skipped", zap.String("operation", operation), util.Email(email), zap.Error(err))
		return nil
	}
	if count <= policy.Limit {
		return nil
	}

	if err := l.store.SetTemporaryLock(ctx, operation, email, policy.Lock); err != nil {
		l.logger.Warn("Rate limit lock not set", zap.String("operation", operation), util.Email(email), zap.Error(err))
	}
	l.logger.Warn("Rate limit exceeded",
		zap.String("operation", operation),
		util.Email(email),
		zap.Int("count", count),
		zap.Duration("lock", policy.Lock))
	return model.ErrRateLimited
}

// Reset clears the counter and lock for operation, e.g. after a successful
// validation.
func (l *RateLimiter) Reset(ctx context.Context, operation, email string) {
	if l == nil {
		return
	}
	if err := l.store.ResetCounter(ctx, operation, email); err != nil {
		l.logger.Warn("Rate limit reset failed", zap.String("operation", operation), util.Email(email), zap.Error(err))
	}
}
