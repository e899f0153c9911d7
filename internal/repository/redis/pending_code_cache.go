package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"credential-sync/internal/client"
	"credential-sync/internal/clock"
	"credential-sync/internal/hashing"
	"credential-sync/internal/model"
	"credential-sync/internal/otp"
	"credential-sync/internal/util"
)

const (
	pendingCodePrefix = "otp:"

	// expiredGrace keeps a dead record around briefly so callers get
	// Expired rather than NotFound right after the deadline.
	expiredGrace = time.Minute

	maxConsumeRetries = 4
	opTimeout         = 5 * time.Second
)

type storedCode struct {
	CodeHash  []byte    `json:"code_hash"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
	Attempts  int       `json:"attempts"`
}

// PendingCodeCache keeps one pending code per normalized email in Redis.
// Issue overwrites; Validate consumes inside a WATCH transaction so two
// concurrent validations can never both succeed. Wrong guesses are counted in
// the same transaction and the record is deleted once maxAttempts is reached.
type PendingCodeCache struct {
	client      *client.RedisClient
	hasher      *hashing.Hasher
	clock       clock.Clock
	ttl         time.Duration
	maxAttempts int
}

func NewPendingCodeCache(client *client.RedisClient, hasher *hashing.Hasher, clk clock.Clock, ttl time.Duration, maxAttempts int) *PendingCodeCache {
	if ttl <= 0 {
		ttl = otp.DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = otp.DefaultMaxAttempts
	}
	return &PendingCodeCache{
		client:      client,
		hasher:      hasher,
		clock:       clk,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

func (c *PendingCodeCache) key(email string) string {
	return pendingCodePrefix + email
}

// Issue generates a fresh code for email and replaces any previous one.
func (c *PendingCodeCache) Issue(ctx context.Context, email string) (*model.PendingCode, error) {
	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}

	window := clock.NewWindow(c.clock.Now(), c.ttl)
	record := storedCode{
		CodeHash:  c.hasher.Digest(email, code),
		IssuedAt:  window.IssuedAt,
		ExpiresAt: window.ExpiresAt,
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending code: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.client.Set(ctx, c.key(email), encoded, c.ttl+expiredGrace); err != nil {
		util.Error("Failed to store pending code", util.Email(email), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", model.ErrStore, err)
	}

	util.Debug("Pending code issued", util.Email(email), util.Time("expires_at", window.ExpiresAt))

	return &model.PendingCode{
		Email:     email,
		Code:      code,
		CodeHash:  record.CodeHash,
		IssuedAt:  record.IssuedAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Validate consumes the pending code for email if submitted matches. It
// returns nil on success or one of model.ErrNotFound, ErrExpired,
// ErrMismatch, ErrAlreadyConsumed, ErrConflict, ErrStore. A mismatch on an
// unconsumed code counts against maxAttempts.
func (c *PendingCodeCache) Validate(ctx context.Context, email, submitted string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	key := c.key(email)

	for i := 0; i < maxConsumeRetries; i++ {
		err := c.client.Watch(ctx, func(tx *goredis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				return model.ErrNotFound
			}
			if err != nil {
				return err
			}

			var record storedCode
			if err := json.Unmarshal(data, &record); err != nil {
				return fmt.Errorf("failed to decode pending code: %w", err)
			}

			now := c.clock.Now()
			pending := &model.PendingCode{
				Email:     email,
				CodeHash:  record.CodeHash,
				IssuedAt:  record.IssuedAt,
				ExpiresAt: record.ExpiresAt,
				Consumed:  record.Consumed,
			}
			outcome := otp.Check(pending, c.hasher.Verify(email, submitted, record.CodeHash), now)
			switch {
			case outcome == nil:
				record.Consumed = true
			case errors.Is(outcome, model.ErrMismatch) && !record.Consumed:
				record.Attempts++
				if record.Attempts >= c.maxAttempts {
					if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					}); err != nil {
						return err
					}
					util.Warn("Pending code revoked after too many wrong guesses",
						util.Email(email), util.Int("attempts", record.Attempts))
					return outcome
				}
			default:
				return outcome
			}

			updated, err := json.Marshal(record)
			if err != nil {
				return err
			}
			ttl := clock.Window{IssuedAt: record.IssuedAt, ExpiresAt: record.ExpiresAt}.Remaining(now) + expiredGrace

			if _, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			}); err != nil {
				return err
			}
			return outcome
		}, key)

		if errors.Is(err, goredis.TxFailedErr) {
			util.Debug("Pending code changed during validation, retrying",
				util.Email(email), util.Int("attempt", i+1))
			continue
		}
		if err != nil {
			if _, ok := model.ReasonFor(err); ok {
				return err
			}
			util.Error("Failed to validate pending code", util.Email(email), zap.Error(err))
			return fmt.Errorf("%w: %v", model.ErrStore, err)
		}

		util.Debug("Pending code consumed", util.Email(email))
		return nil
	}

	return model.ErrConflict
}

// TTL reports the remaining store-side lifetime of the record for email.
func (c *PendingCodeCache) TTL(ctx context.Context, email string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return c.client.TTL(ctx, c.key(email))
}
