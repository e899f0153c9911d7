package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"credential-sync/internal/clock"
	"credential-sync/internal/mirror"
	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

// IdentityProvider is what the service needs from the identity adapter.
type IdentityProvider interface {
	RequestResetLink(ctx context.Context, email string) (string, error)
	LookupByEmail(ctx context.Context, email string) (*model.Identity, error)
	UpdatePassword(ctx context.Context, uid, password string) error
}

// SyncObserver receives every terminal SyncResult. Observers must not block
// for long and must not fail the sync.
type SyncObserver interface {
	Observe(ctx context.Context, result *model.SyncResult)
}

// SyncCoordinator runs the per-event state machine
//
//	Received -> Validated -> Committed
//	    \            \-----> Failed
//	     \-----------------> Failed
//
// Validation precedes any external call. Each event gets exactly one mirror
// write attempt and no retries. Webhook events update the provider first and
// only then the mirror; a mirror failure after a provider success is reported
// as a divergent failure and is not rolled back.
type SyncCoordinator struct {
	provider  IdentityProvider
	mirror    mirror.Store
	clock     clock.Clock
	observers []SyncObserver
	logger    *zap.Logger
}

func NewSyncCoordinator(
	provider IdentityProvider,
	mirrorStore mirror.Store,
	clk clock.Clock,
	logger *zap.Logger,
	observers ...SyncObserver,
) *SyncCoordinator {
	return &SyncCoordinator{
		provider:  provider,
		mirror:    mirrorStore,
		clock:     clk,
		observers: observers,
		logger:    logger,
	}
}

// Process drives event to a terminal state. The returned result is never nil;
// result.Err holds the cause when State is Failed.
func (c *SyncCoordinator) Process(ctx context.Context, event *model.SyncEvent) *model.SyncResult {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = c.clock.Now()
	}

	result := &model.SyncResult{
		EventID: event.ID,
		Email:   event.Email,
		Source:  event.Source,
		State:   model.StateReceived,
	}
	log := c.logger.With(
		zap.String("event_id", event.ID),
		zap.String("source", string(event.Source)))

	email, err := validateEvent(event)
	if err != nil {
		return c.finish(ctx, log, result, err)
	}
	event.Email = email
	result.Email = email
	result.State = model.StateValidated
	log = log.With(util.Email(email))
	log.Debug("Sync event validated")

	if event.Source == model.SourceWebhook {
		if err := c.updateProvider(ctx, event); err != nil {
			return c.finish(ctx, log, result, err)
		}
		result.ProviderUpdated = true
	}

	if err := c.mirror.SetPassword(ctx, email, event.Password); err != nil {
		return c.finish(ctx, log, result, err)
	}
	result.MirrorUpdated = true

	return c.finish(ctx, log, result, nil)
}

func (c *SyncCoordinator) updateProvider(ctx context.Context, event *model.SyncEvent) error {
	identity, err := c.provider.LookupByEmail(ctx, event.Email)
	if err != nil {
		return err
	}
	return c.provider.UpdatePassword(ctx, identity.UID, event.Password)
}

func (c *SyncCoordinator) finish(ctx context.Context, log *zap.Logger, result *model.SyncResult, err error) *model.SyncResult {
	result.CompletedAt = c.clock.Now()

	if err != nil {
		result.State = model.StateFailed
		result.Err = err
		result.ErrorClass = string(model.Classify(err))
		if result.Divergent() {
			log.Warn("Credential stores diverged: provider updated, mirror write failed",
				zap.Error(err))
		} else {
			log.Error("Sync failed", zap.Error(err))
		}
	} else {
		result.State = model.StateCommitted
		log.Info("Sync committed",
			zap.Bool("provider_updated", result.ProviderUpdated))
	}

	for _, o := range c.observers {
		o.Observe(ctx, result)
	}
	return result
}

func validateEvent(event *model.SyncEvent) (string, error) {
	email, err := util.ParseEmail(event.Email)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrInvalidEmail, err)
	}
	switch event.Source {
	case model.SourceExplicitRequest, model.SourceProviderEvent, model.SourceWebhook:
	default:
		return "", fmt.Errorf("%w: unknown sync source %q", model.ErrInvalidInput, event.Source)
	}
	if event.Password == "" {
		return "", fmt.Errorf("%w: password value is required", model.ErrInvalidInput)
	}
	return email, nil
}
