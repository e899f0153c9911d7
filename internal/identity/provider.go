// Package identity adapts the managed identity provider (Firebase Auth) to the
// three operations the credential sync needs.
package identity

import (
	"context"
	"fmt"
	"time"

	"firebase.google.com/go/v4/auth"
	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

// AuthClient is the subset of *auth.Client the adapter calls.
type AuthClient interface {
	PasswordResetLink(ctx context.Context, email string) (string, error)
	GetUserByEmail(ctx context.Context, email string) (*auth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *auth.UserToUpdate) (*auth.UserRecord, error)
}

type Provider struct {
	client   AuthClient
	timeout  time.Duration
	notFound func(error) bool
	logger   *zap.Logger
}

func NewProvider(client AuthClient, timeout time.Duration, logger *zap.Logger) *Provider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		client:   client,
		timeout:  timeout,
		notFound: isNotFound,
		logger:   logger,
	}
}

func isNotFound(err error) bool {
	return auth.IsUserNotFound(err) || auth.IsEmailNotFound(err)
}

// RequestResetLink asks the provider for a password reset link. The email is
// checked before any call is made.
func (p *Provider) RequestResetLink(ctx context.Context, rawEmail string) (string, error) {
	email, err := util.ParseEmail(rawEmail)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidEmail, err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	link, err := p.client.PasswordResetLink(ctx, email)
	if err != nil {
		p.logger.Error("Provider failed to generate reset link",
			util.Email(email), zap.Error(err))
		return "", fmt.Errorf("%w: reset link: %v", model.ErrProvider, err)
	}
	return link, nil
}

// LookupByEmail resolves the provider account for email.
func (p *Provider) LookupByEmail(ctx context.Context, email string) (*model.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	user, err := p.client.GetUserByEmail(ctx, email)
	if err != nil {
		if p.notFound(err) {
			return nil, fmt.Errorf("%w: no provider account for email", model.ErrNotFound)
		}
		p.logger.Error("Provider lookup failed", util.Email(email), zap.Error(err))
		return nil, fmt.Errorf("%w: lookup: %v", model.ErrProvider, err)
	}
	if user == nil || user.UserInfo == nil {
		return nil, fmt.Errorf("%w: empty user record", model.ErrProvider)
	}

	identity := &model.Identity{
		UID:   user.UID,
		Email: util.NormalizeEmail(user.Email),
	}
	if user.TokensValidAfterMillis > 0 {
		identity.LastChangedAt = time.UnixMilli(user.TokensValidAfterMillis).UTC()
	}
	return identity, nil
}

// UpdatePassword sets the credential of the account identified by uid.
func (p *Provider) UpdatePassword(ctx context.Context, uid, password string) error {
	if uid == "" {
		return fmt.Errorf("%w: uid is required", model.ErrInvalidInput)
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", model.ErrInvalidInput)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if _, err := p.client.UpdateUser(ctx, uid, (&auth.UserToUpdate{}).Password(password)); err != nil {
		if p.notFound(err) {
			return fmt.Errorf("%w: no provider account for uid", model.ErrNotFound)
		}
		p.logger.Error("Provider password update failed",
			zap.String("uid", uid), zap.Error(err))
		return fmt.Errorf("%w: update password: %v", model.ErrProvider, err)
	}

	p.logger.Info("Provider password updated", zap.String("uid", uid))
	return nil
}

// OnChangeEvent turns a provider change notification into a SyncEvent when,
// and only when, the credential fingerprint changed. Creations and deletions
// carry no credential change and yield nil. The provider never exposes the new
// plaintext, so the event carries model.PasswordPlaceholder.
func OnChangeEvent(before, after *model.IdentitySnapshot) *model.SyncEvent {
	if before == nil || after == nil {
		return nil
	}
	if before.CredentialFingerprint() == after.CredentialFingerprint() {
		return nil
	}

	email := util.NormalizeEmail(after.Email)
	if email == "" {
		email = util.NormalizeEmail(before.Email)
	}

	return &model.SyncEvent{
		Email:    email,
		Password: model.PasswordPlaceholder,
		Source:   model.SourceProviderEvent,
	}
}

