package scylla

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"credential-sync/internal/clock"
	"credential-sync/internal/hashing"
	"credential-sync/internal/model"
	"credential-sync/internal/otp"
	"credential-sync/internal/util"
)

const (
	// expiredGrace matches the Redis store: dead rows linger so callers see
	// Expired instead of NotFound right after the deadline.
	expiredGrace = time.Minute
	opTimeout    = 5 * time.Second

	maxCASRetries = 4
)

// session is the part of ScyllaClient the repository needs.
type session interface {
	ScanRow(ctx context.Context, stmt string, values []interface{}, dest ...interface{}) error
	ExecCAS(ctx context.Context, stmt string, values []interface{}, previous map[string]interface{}) (bool, error)
}

// PendingCodeRepository is the Scylla-backed pending-code store. Every write
// is a lightweight transaction conditioned on the row read before it, so
// issue, consume and attempt counting serialize through Paxos.
type PendingCodeRepository struct {
	session     session
	stmts       *PreparedStatements
	hasher      *hashing.Hasher
	clock       clock.Clock
	ttl         time.Duration
	maxAttempts int
}

func NewPendingCodeRepository(client *ScyllaClient, hasher *hashing.Hasher, clk clock.Clock, ttl time.Duration, maxAttempts int) *PendingCodeRepository {
	return newPendingCodeRepository(client, client.Prepared, hasher, clk, ttl, maxAttempts)
}

func newPendingCodeRepository(s session, stmts *PreparedStatements, hasher *hashing.Hasher, clk clock.Clock, ttl time.Duration, maxAttempts int) *PendingCodeRepository {
	if ttl <= 0 {
		ttl = otp.DefaultTTL
	}
	if maxAttempts <= 0 {
		maxAttempts = otp.DefaultMaxAttempts
	}
	return &PendingCodeRepository{
		session:     s,
		stmts:       stmts,
		hasher:      hasher,
		clock:       clk,
		ttl:         ttl,
		maxAttempts: maxAttempts,
	}
}

// Issue replaces the row for email with a fresh code. It tries a conditional
// update of an existing row first and a conditional insert second; losing
// both to a concurrent issue sends it round again.
func (r *PendingCodeRepository) Issue(ctx context.Context, email string) (*model.PendingCode, error) {
	code, err := otp.Generate()
	if err != nil {
		return nil, err
	}

	window := clock.NewWindow(r.clock.Now(), r.ttl)
	digest := r.hasher.Digest(email, code)
	ttl := ttlSeconds(r.ttl + expiredGrace)

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for i := 0; i < maxCASRetries; i++ {
		applied, err := r.session.ExecCAS(ctx, r.stmts.ReplacePendingCode,
			[]interface{}{ttl, digest, window.IssuedAt, window.ExpiresAt, email}, map[string]interface{}{})
		if err == nil && !applied {
			applied, err = r.session.ExecCAS(ctx, r.stmts.InsertPendingCode,
				[]interface{}{email, digest, window.IssuedAt, window.ExpiresAt, ttl}, map[string]interface{}{})
		}
		if err != nil {
			util.Error("Failed to store pending code", util.Email(email), zap.Error(err))
			return nil, fmt.Errorf("%w: %v", model.ErrStore, err)
		}
		if applied {
			util.Debug("Pending code issued", util.Email(email), util.Time("expires_at", window.ExpiresAt))
			return &model.PendingCode{
				Email:     email,
				Code:      code,
				CodeHash:  digest,
				IssuedAt:  window.IssuedAt,
				ExpiresAt: window.ExpiresAt,
			}, nil
		}
		util.Debug("Pending code row changed during issue, retrying",
			util.Email(email), util.Int("attempt", i+1))
	}

	return nil, model.ErrConflict
}

type pendingRow struct {
	code     model.PendingCode
	attempts int
}

func (r *PendingCodeRepository) read(ctx context.Context, email string) (*pendingRow, error) {
	row := &pendingRow{code: model.PendingCode{Email: email}}
	err := r.session.ScanRow(ctx, r.stmts.GetPendingCode, []interface{}{email},
		&row.code.CodeHash, &row.code.IssuedAt, &row.code.ExpiresAt, &row.code.Consumed, &row.attempts)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to read pending code", util.Email(email), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", model.ErrStore, err)
	}
	return row, nil
}

// Validate consumes the pending code for email if submitted matches. A
// mismatch on an unconsumed code counts against maxAttempts; the row is
// deleted when the limit is reached.
func (r *PendingCodeRepository) Validate(ctx context.Context, email, submitted string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	for i := 0; i < maxCASRetries; i++ {
		row, err := r.read(ctx, email)
		if err != nil {
			return err
		}

		now := r.clock.Now()
		outcome := otp.Check(&row.code, r.hasher.Verify(email, submitted, row.code.CodeHash), now)
		window := clock.Window{IssuedAt: row.code.IssuedAt, ExpiresAt: row.code.ExpiresAt}
		ttl := ttlSeconds(window.Remaining(now) + expiredGrace)

		switch {
		case outcome == nil:
			return r.consume(ctx, email, row, ttl)
		case errors.Is(outcome, model.ErrMismatch) && !row.code.Consumed:
			applied, err := r.countMismatch(ctx, email, row, ttl)
			if err != nil {
				return err
			}
			if applied {
				return outcome
			}
			util.Debug("Pending code changed while counting a wrong guess, retrying",
				util.Email(email), util.Int("attempt", i+1))
		default:
			return outcome
		}
	}

	return model.ErrConflict
}

func (r *PendingCodeRepository) consume(ctx context.Context, email string, row *pendingRow, ttl int) error {
	previous := map[string]interface{}{}
	applied, err := r.session.ExecCAS(ctx, r.stmts.ConsumePendingCode,
		[]interface{}{ttl, email, row.code.CodeHash}, previous)
	if err != nil {
		util.Error("Failed to consume pending code", util.Email(email), zap.Error(err))
		return fmt.Errorf("%w: %v", model.ErrStore, err)
	}

	if outcome := casOutcome(applied, previous, row.code.CodeHash); outcome != nil {
		util.Debug("Pending code changed during validation", util.Email(email), zap.Error(outcome))
		return outcome
	}

	util.Debug("Pending code consumed", util.Email(email))
	return nil
}

// countMismatch records one wrong guess against the row that was read, or
// deletes the row when the guess exhausts its attempts.
func (r *PendingCodeRepository) countMismatch(ctx context.Context, email string, row *pendingRow, ttl int) (bool, error) {
	next := row.attempts + 1

	var (
		applied bool
		err     error
	)
	if next >= r.maxAttempts {
		applied, err = r.session.ExecCAS(ctx, r.stmts.RevokePendingCode,
			[]interface{}{email, row.attempts, row.code.CodeHash}, map[string]interface{}{})
	} else {
		applied, err = r.session.ExecCAS(ctx, r.stmts.RecordMismatch,
			[]interface{}{ttl, next, email, row.attempts, row.code.CodeHash}, map[string]interface{}{})
	}
	if err != nil {
		util.Error("Failed to record wrong guess", util.Email(email), zap.Error(err))
		return false, fmt.Errorf("%w: %v", model.ErrStore, err)
	}

	if applied && next >= r.maxAttempts {
		util.Warn("Pending code revoked after too many wrong guesses",
			util.Email(email), util.Int("attempts", next))
	}
	return applied, nil
}

// casOutcome explains a conditional update that did not apply, using the
// row values the coordinator returned alongside [applied].
func casOutcome(applied bool, previous map[string]interface{}, checked []byte) error {
	if applied {
		return nil
	}
	if len(previous) == 0 {
		return model.ErrNotFound
	}
	if consumed, ok := previous["consumed"].(bool); ok && consumed {
		return model.ErrAlreadyConsumed
	}
	if current, ok := previous["code_hash"].([]byte); ok && !bytes.Equal(current, checked) {
		// Re-issued between the read and the update.
		return model.ErrMismatch
	}
	return model.ErrConflict
}

// ttlSeconds rounds d up to whole seconds, at least one.
func ttlSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
