package service

import (
	"time"

	"go.uber.org/zap"

	"credential-sync/internal/clock"
	"credential-sync/internal/mirror"
	"credential-sync/internal/notify"
)

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	codes      PendingCodeStore
	provider   IdentityProvider
	mirror     mirror.Store
	dispatcher notify.Dispatcher
	limiter    *RateLimiter
	clock      clock.Clock
	codeTTL    time.Duration
	observers  []SyncObserver
	logger     *zap.Logger

	coordinator       *SyncCoordinator
	credentialService *CredentialService
}

// NewServiceFactory creates a new service factory
func NewServiceFactory(
	codes PendingCodeStore,
	provider IdentityProvider,
	mirrorStore mirror.Store,
	dispatcher notify.Dispatcher,
	limiter *RateLimiter,
	clk clock.Clock,
	codeTTL time.Duration,
	logger *zap.Logger,
	observers ...SyncObserver,
) *ServiceFactory {
	return &ServiceFactory{
		codes:      codes,
		provider:   provider,
		mirror:     mirrorStore,
		dispatcher: dispatcher,
		limiter:    limiter,
		clock:      clk,
		codeTTL:    codeTTL,
		observers:  observers,
		logger:     logger,
	}
}

// SyncCoordinator returns the coordinator instance (singleton)
func (f *ServiceFactory) SyncCoordinator() *SyncCoordinator {
	if f.coordinator == nil {
		f.coordinator = NewSyncCoordinator(f.provider, f.mirror, f.clock, f.logger, f.observers...)
	}
	return f.coordinator
}

// CredentialService returns the credential service instance (singleton)
func (f *ServiceFactory) CredentialService() *CredentialService {
	if f.credentialService == nil {
		f.credentialService = NewCredentialService(
			f.codes,
			f.provider,
			f.SyncCoordinator(),
			f.dispatcher,
			f.limiter,
			f.codeTTL,
			f.logger,
		)
	}
	return f.credentialService
}
