package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "nil", err: nil, want: ""},
		{name: "invalid email", err: ErrInvalidEmail, want: ClassInvalidArgument},
		{name: "wrapped invalid input", err: fmt.Errorf("webhook: %w", ErrInvalidInput), want: ClassInvalidArgument},
		{name: "not found", err: ErrNotFound, want: ClassNotFound},
		{name: "expired", err: ErrExpired, want: ClassFailedPrecondition},
		{name: "already consumed", err: ErrAlreadyConsumed, want: ClassFailedPrecondition},
		{name: "rate limited", err: fmt.Errorf("issue: %w", ErrRateLimited), want: ClassResourceExhausted},
		{name: "provider", err: fmt.Errorf("%w: quota", ErrProvider), want: ClassInternal},
		{name: "unreachable", err: ErrUnreachable, want: ClassInternal},
		{name: "unknown", err: errors.New("boom"), want: ClassInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestReasonFor(t *testing.T) {
	reason, ok := ReasonFor(fmt.Errorf("validate: %w", ErrExpired))
	assert.True(t, ok)
	assert.Equal(t, ReasonExpired, reason)

	_, ok = ReasonFor(ErrProvider)
	assert.False(t, ok)
}

func TestClassOfPublicError(t *testing.T) {
	err := fmt.Errorf("handler: %w", NewPublicError(ClassInternal, "Failed to send password reset email."))
	assert.Equal(t, ClassInternal, ClassOf(err))
	assert.Equal(t, ClassInvalidArgument, ClassOf(ErrInvalidEmail))
}

func TestSyncResultDivergent(t *testing.T) {
	assert.True(t, (&SyncResult{ProviderUpdated: true}).Divergent())
	assert.False(t, (&SyncResult{ProviderUpdated: true, MirrorUpdated: true}).Divergent())
	assert.False(t, (&SyncResult{}).Divergent())
}

func TestCredentialFingerprint(t *testing.T) {
	var nilSnap *IdentitySnapshot
	assert.Equal(t, "", nilSnap.CredentialFingerprint())

	a := &IdentitySnapshot{PasswordHash: "h1", PasswordSalt: "s1"}
	b := &IdentitySnapshot{PasswordHash: "h1", PasswordSalt: "s2"}
	assert.NotEqual(t, a.CredentialFingerprint(), b.CredentialFingerprint())
}
