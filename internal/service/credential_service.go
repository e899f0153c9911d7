package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"credential-sync/internal/identity"
	"credential-sync/internal/model"
	"credential-sync/internal/notify"
	"credential-sync/internal/otp"
	"credential-sync/internal/util"
)

const (
	msgResetEmailSent  = "Password reset email sent!"
	msgOTPSent         = "OTP sent"
	msgMirrorUpdated   = "Password change recorded"
	msgPasswordUpdated = "Password updated successfully"

	msgInvalidEmail = "A valid email address is required."
	msgInternal     = "Something went wrong. Please try again later."
	msgNotFound     = "No account exists for this email."
	msgRateLimited  = "Too many attempts. Please try again later."
)

// PendingCodeStore is implemented by the Redis and Scylla pending-code stores.
type PendingCodeStore interface {
	Issue(ctx context.Context, email string) (*model.PendingCode, error)
	Validate(ctx context.Context, email, submitted string) error
}

// OperationResult is the {success, message} reply of the public operations.
type OperationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required"`
}

type ValidateOtpRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

type WebhookRequest struct {
	Email       string `json:"email" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// CredentialService exposes the public operations. Every error it returns is
// a *model.PublicError; diagnostic detail stays in the logs.
type CredentialService struct {
	codes       PendingCodeStore
	provider    IdentityProvider
	coordinator *SyncCoordinator
	dispatcher  notify.Dispatcher
	limiter     *RateLimiter
	codeTTL     time.Duration
	logger      *zap.Logger
}

func NewCredentialService(
	codes PendingCodeStore,
	provider IdentityProvider,
	coordinator *SyncCoordinator,
	dispatcher notify.Dispatcher,
	limiter *RateLimiter,
	codeTTL time.Duration,
	logger *zap.Logger,
) *CredentialService {
	if codeTTL <= 0 {
		codeTTL = otp.DefaultTTL
	}
	return &CredentialService{
		codes:       codes,
		provider:    provider,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		limiter:     limiter,
		codeTTL:     codeTTL,
		logger:      logger,
	}
}

// RequestPasswordResetEmail generates a reset link at the provider and mails
// it to the user.
func (s *CredentialService) RequestPasswordResetEmail(ctx context.Context, req EmailRequest) (*OperationResult, error) {
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}

	link, err := s.provider.RequestResetLink(ctx, email)
	if err != nil {
		s.logger.Error("Reset link generation failed", util.Email(email), zap.Error(err))
		return nil, publicError(err)
	}

	if err := s.dispatcher.Send(ctx, email, model.TemplateResetLink, map[string]any{"Link": link}); err != nil {
		s.logger.Error("Reset link delivery failed", util.Email(email), zap.Error(err))
		return nil, publicError(err)
	}

	s.logger.Info("Password reset email sent", util.Email(email))
	return &OperationResult{Success: true, Message: msgResetEmailSent}, nil
}

// IssueOtp stores a fresh code for the email, replacing any previous one, and
// mails it. A delivery failure leaves the stored code in place until expiry.
func (s *CredentialService) IssueOtp(ctx context.Context, req EmailRequest) (*OperationResult, error) {
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Allow(ctx, opIssueOtp, email); err != nil {
		return nil, publicError(err)
	}

	pending, err := s.codes.Issue(ctx, email)
	if err != nil {
		s.logger.Error("OTP issuance failed", util.Email(email), zap.Error(err))
		return nil, publicError(err)
	}

	payload := map[string]any{
		"Code":      pending.Code,
		"ExpiresIn": humanizeTTL(pending.ExpiresAt.Sub(pending.IssuedAt)),
	}
	if err := s.dispatcher.Send(ctx, email, model.TemplateOTP, payload); err != nil {
		s.logger.Error("OTP delivery failed", util.Email(email), zap.Error(err))
		return nil, publicError(err)
	}

	s.logger.Info("OTP issued", util.Email(email), util.Time("expires_at", pending.ExpiresAt))
	return &OperationResult{Success: true, Message: msgOTPSent}, nil
}

// ValidateOtp consumes the pending code when it matches. Validation outcomes
// are reported through the result, not the error.
func (s *CredentialService) ValidateOtp(ctx context.Context, req ValidateOtpRequest) (*model.ValidationResult, error) {
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}
	code := strings.TrimSpace(req.Code)
	if !otp.WellFormed(code) {
		return nil, model.NewPublicError(model.ClassInvalidArgument,
			fmt.Sprintf("code must be %d digits.", otp.CodeLength))
	}

	if err := s.limiter.Allow(ctx, opValidateOtp, email); err != nil {
		return nil, publicError(err)
	}

	err = s.codes.Validate(ctx, email, code)
	if err == nil {
		s.limiter.Reset(ctx, opValidateOtp, email)
		s.logger.Info("OTP validated", util.Email(email))
		return &model.ValidationResult{Valid: true}, nil
	}
	if reason, ok := model.ReasonFor(err); ok {
		s.logger.Info("OTP rejected", util.Email(email), zap.String("reason", string(reason)))
		return &model.ValidationResult{Valid: false, Reason: reason}, nil
	}

	s.logger.Error("OTP validation failed", util.Email(email), zap.Error(err))
	return nil, publicError(err)
}

// NotifyPasswordReset records a password change whose new value is unknown.
// The mirror receives model.PasswordPlaceholder.
func (s *CredentialService) NotifyPasswordReset(ctx context.Context, req EmailRequest) (*OperationResult, error) {
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}

	result := s.coordinator.Process(ctx, &model.SyncEvent{
		Email:    email,
		Password: model.PasswordPlaceholder,
		Source:   model.SourceExplicitRequest,
	})
	if result.State != model.StateCommitted {
		return nil, publicError(result.Err)
	}
	return &OperationResult{Success: true, Message: msgMirrorUpdated}, nil
}

// PasswordResetWebhook sets a new password on the provider and then on the
// mirror. The caller is trusted; authenticating it is up to the deployment.
func (s *CredentialService) PasswordResetWebhook(ctx context.Context, req WebhookRequest) (*OperationResult, error) {
	if err := util.Validator().Struct(req); err != nil {
		return nil, model.NewPublicError(model.ClassInvalidArgument, "email and new_password are required.")
	}
	email, err := parseEmail(req.Email)
	if err != nil {
		return nil, err
	}

	result := s.coordinator.Process(ctx, &model.SyncEvent{
		Email:    email,
		Password: req.NewPassword,
		Source:   model.SourceWebhook,
	})
	if result.State != model.StateCommitted {
		return nil, publicError(result.Err)
	}

	if err := s.dispatcher.Send(ctx, email, model.TemplatePasswordChanged, map[string]any{"Email": email}); err != nil {
		s.logger.Warn("Password-changed notice not delivered", util.Email(email), zap.Error(err))
	}

	return &OperationResult{Success: true, Message: msgPasswordUpdated}, nil
}

// SyncOnProviderChangeEvent mirrors a provider-side credential change. It
// returns a nil result when the snapshots show no credential change.
func (s *CredentialService) SyncOnProviderChangeEvent(ctx context.Context, before, after *model.IdentitySnapshot) (*model.SyncResult, error) {
	event := identity.OnChangeEvent(before, after)
	if event == nil {
		s.logger.Debug("Provider change carries no credential change")
		return nil, nil
	}

	result := s.coordinator.Process(ctx, event)
	if result.State != model.StateCommitted {
		return result, result.Err
	}
	return result, nil
}

// HandleChangeEvent adapts SyncOnProviderChangeEvent to the event consumer.
func (s *CredentialService) HandleChangeEvent(ctx context.Context, before, after *model.IdentitySnapshot) error {
	_, err := s.SyncOnProviderChangeEvent(ctx, before, after)
	return err
}

func parseEmail(raw string) (string, error) {
	email, err := util.ParseEmail(raw)
	if err != nil {
		return "", model.NewPublicError(model.ClassInvalidArgument, msgInvalidEmail)
	}
	return email, nil
}

// publicError hides dependency detail behind a stable class and message.
func publicError(err error) *model.PublicError {
	var pub *model.PublicError
	if errors.As(err, &pub) {
		return pub
	}

	switch model.Classify(err) {
	case model.ClassInvalidArgument:
		if errors.Is(err, model.ErrInvalidEmail) {
			return model.NewPublicError(model.ClassInvalidArgument, msgInvalidEmail)
		}
		return model.NewPublicError(model.ClassInvalidArgument, "Invalid request.")
	case model.ClassNotFound:
		return model.NewPublicError(model.ClassNotFound, msgNotFound)
	case model.ClassResourceExhausted:
		return model.NewPublicError(model.ClassResourceExhausted, msgRateLimited)
	default:
		return model.NewPublicError(model.ClassInternal, msgInternal)
	}
}

func humanizeTTL(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	if minutes <= 1 {
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}
