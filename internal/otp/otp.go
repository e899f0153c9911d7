// Package otp holds the pieces of the one-time code lifecycle that do not
// depend on a storage backend: code generation and the validation decision.
package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"credential-sync/internal/clock"
	"credential-sync/internal/model"
)

const (
	// CodeLength is the number of decimal digits in a code.
	CodeLength = 6
	// DefaultTTL is how long an issued code stays valid.
	DefaultTTL = 5 * time.Minute
	// DefaultMaxAttempts is how many wrong guesses a code survives.
	DefaultMaxAttempts = 5
)

var codeSpace = big.NewInt(1_000_000)

// Generate returns a CodeLength-digit numeric string drawn uniformly from
// 000000-999999 using crypto/rand.
func Generate() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// WellFormed reports whether code has the shape of an issued code.
func WellFormed(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Check decides whether a submitted code may consume record. matches is the
// result of the constant-time digest comparison. Expiry wins over every other
// outcome: a dead record is dead regardless of its consumed flag.
func Check(record *model.PendingCode, matches bool, now time.Time) error {
	if record == nil {
		return model.ErrNotFound
	}
	window := clock.Window{IssuedAt: record.IssuedAt, ExpiresAt: record.ExpiresAt}
	if window.Expired(now) {
		return model.ErrExpired
	}
	if !matches {
		return model.ErrMismatch
	}
	if record.Consumed {
		return model.ErrAlreadyConsumed
	}
	return nil
}
