package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"credential-sync/internal/client"
	"credential-sync/internal/clock"
	"credential-sync/internal/config"
	"credential-sync/internal/events"
	"credential-sync/internal/hashing"
	"credential-sync/internal/identity"
	"credential-sync/internal/mirror"
	"credential-sync/internal/notify"
	chrepo "credential-sync/internal/repository/clickhouse"
	redisrepo "credential-sync/internal/repository/redis"
	"credential-sync/internal/repository/scylla"
	"credential-sync/internal/service"
	"credential-sync/internal/util"
)

// Factory manages the lifecycle of all application dependencies. It is built
// once at process start and hands everything down by constructor injection.
type Factory struct {
	config *config.Config
	clock  clock.Clock

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	kafkaConsumer    *client.KafkaConsumer
	clickhouseClient *client.ClickHouseClient
	postgresClient   *client.PostgresClient

	// Adapters
	hasher       *hashing.Hasher
	pendingCodes service.PendingCodeStore
	rateLimiter  *service.RateLimiter
	provider     *identity.Provider
	mirrorStore  mirror.Store
	mailer       *notify.Mailer
	observers    []service.SyncObserver

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		clock:  clock.Real(),
	}

	if err := factory.initializeClients(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeAdapters(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize adapters: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.String("otp_store", cfg.OTP.StoreBackend),
		util.String("mirror_mode", cfg.Mirror.Mode),
		util.Bool("kafka_enabled", cfg.Kafka.Enabled()),
		util.Bool("clickhouse_enabled", cfg.Clickhouse.Enabled),
	)

	return factory, nil
}

// initializeClients connects the required stores and the optional event and
// audit sinks. Required stores fail startup; optional ones only warn.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := util.Get()

	switch f.config.OTP.StoreBackend {
	case config.StoreBackendScylla:
		c, err := scylla.NewScyllaClient(f.config, logger)
		if err != nil {
			return fmt.Errorf("scylla: %w", err)
		}
		f.scyllaClient = c

		// Redis only backs the per-email throttle here.
		if c, err := client.NewRedisClient(f.config, logger); err != nil {
			util.Warn("Redis initialization failed - OTP throttling disabled", util.ErrorField(err))
		} else {
			f.redisClient = c
		}
	default:
		c, err := client.NewRedisClient(f.config, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		f.redisClient = c
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis health check: %w", err)
		}
	}

	if f.config.Mirror.Mode == config.MirrorModePostgres {
		c, err := client.NewPostgresClient(f.config, logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		f.postgresClient = c
	}

	if f.config.Kafka.Enabled() {
		if producer, err := client.NewKafkaProducer(f.config, logger); err != nil {
			util.Warn("Kafka producer initialization failed - proceeding without outcome events", util.ErrorField(err))
		} else {
			f.kafkaProducer = producer
		}
		if consumer, err := client.NewKafkaConsumer(f.config, logger); err != nil {
			util.Warn("Kafka consumer initialization failed - provider change events disabled", util.ErrorField(err))
		} else {
			f.kafkaConsumer = consumer
		}
	}

	if f.config.Clickhouse.Enabled {
		if c, err := client.NewClickHouseClient(f.config, logger); err != nil {
			util.Warn("ClickHouse initialization failed - proceeding without sync audit", util.ErrorField(err))
		} else {
			f.clickhouseClient = c
		}
	}

	return nil
}

// initializeAdapters builds the hasher, pending-code store, provider, mirror,
// mailer and sync observers on top of the connected clients.
func (f *Factory) initializeAdapters() error {
	logger := util.Get()

	hasher, err := hashing.NewHasher(f.config.OTP.HashKey)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}
	f.hasher = hasher

	otpConfig := f.config.OTP
	if f.scyllaClient != nil {
		f.pendingCodes = scylla.NewPendingCodeRepository(f.scyllaClient, hasher, f.clock, otpConfig.TTL, otpConfig.MaxAttempts)
	} else {
		f.pendingCodes = redisrepo.NewPendingCodeCache(f.redisClient, hasher, f.clock, otpConfig.TTL, otpConfig.MaxAttempts)
	}

	if f.redisClient != nil {
		f.rateLimiter = service.NewRateLimiter(redisrepo.NewRateLimitCache(f.redisClient),
			service.RateLimitPolicy{Limit: otpConfig.IssueLimit, Window: otpConfig.RateWindow, Lock: otpConfig.LockDuration},
			service.RateLimitPolicy{Limit: otpConfig.ValidateLimit, Window: otpConfig.RateWindow, Lock: otpConfig.LockDuration},
			logger)
	}

	authClient, err := client.NewFirebaseAuthClient(f.config, logger)
	if err != nil {
		return fmt.Errorf("firebase: %w", err)
	}
	f.provider = identity.NewProvider(authClient, f.config.Firebase.Timeout, logger)

	if f.postgresClient != nil {
		f.mirrorStore = mirror.NewPostgresStore(f.postgresClient.DB, f.config.Mirror.Timeout, logger)
	} else {
		f.mirrorStore = mirror.NewHTTPStore(f.config.Mirror.BaseURL, f.config.Mirror.APIKey, f.config.Mirror.Timeout, logger)
	}

	f.mailer = notify.NewMailer(f.config.SMTP, logger)

	if f.kafkaProducer != nil {
		f.observers = append(f.observers, events.NewOutcomePublisher(f.kafkaProducer.Writer, logger))
	}
	if f.clickhouseClient != nil {
		audit := chrepo.NewSyncAudit(f.clickhouseClient, logger)
		if err := audit.EnsureTable(context.Background()); err != nil {
			util.Warn("Sync audit table unavailable - audit disabled", util.ErrorField(err))
		} else {
			f.observers = append(f.observers, audit)
		}
	}

	util.Info("Adapters initialized successfully",
		util.String("hash_algorithm", hasher.Algorithm()),
		util.Int("otp_max_attempts", otpConfig.MaxAttempts),
		util.Bool("otp_throttling", f.rateLimiter != nil),
		util.Int("sync_observers", len(f.observers)),
	)
	return nil
}

// ==============================
// Service Factory
// ==============================
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.pendingCodes,
			f.provider,
			f.mirrorStore,
			f.mailer,
			f.rateLimiter,
			f.clock,
			f.config.OTP.TTL,
			util.Get(),
			f.observers...,
		)
	}
	return f.serviceFactory
}

// ChangeConsumer returns the provider change-event consumer, or nil when
// Kafka is not configured.
func (f *Factory) ChangeConsumer() *events.ChangeConsumer {
	if f.kafkaConsumer == nil {
		return nil
	}
	credentialService := f.ServiceFactory().CredentialService()
	return events.NewChangeConsumer(f.kafkaConsumer.Reader, credentialService.HandleChangeEvent, util.Get())
}

// ==============================
// Health Checks
// ==============================

// HealthCheck checks every connected dependency in parallel.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	var (
		mu           sync.Mutex
		healthErrors = make(map[string]error)
	)
	record := func(name string, err error) {
		if err != nil {
			mu.Lock()
			healthErrors[name] = err
			mu.Unlock()
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	if f.redisClient != nil {
		g.Go(func() error { record("redis", f.redisClient.HealthCheck(ctx)); return nil })
	}
	if f.scyllaClient != nil {
		g.Go(func() error { record("scylla", f.scyllaClient.HealthCheck(ctx)); return nil })
	}
	if f.postgresClient != nil {
		g.Go(func() error { record("postgres", f.postgresClient.HealthCheck(ctx)); return nil })
	}
	if f.clickhouseClient != nil {
		g.Go(func() error { record("clickhouse", f.clickhouseClient.HealthCheck(ctx)); return nil })
	}
	if f.kafkaProducer != nil {
		g.Go(func() error { record("kafka", f.kafkaProducer.HealthCheck(ctx)); return nil })
	}

	_ = g.Wait()

	if f.pendingCodes == nil {
		healthErrors["pending_codes"] = fmt.Errorf("pending-code store not initialized")
	}
	if f.provider == nil {
		healthErrors["identity_provider"] = fmt.Errorf("identity provider not initialized")
	}

	return healthErrors
}

// ==============================
// Other Utility Methods
// ==============================

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		if f.kafkaConsumer != nil {
			if err := f.kafkaConsumer.Close(); err != nil {
				util.Error("Failed to close Kafka consumer", util.ErrorField(err))
			} else {
				util.Info("Kafka consumer closed")
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.postgresClient != nil {
			if err := f.postgresClient.Close(); err != nil {
				util.Error("Failed to close Postgres client", util.ErrorField(err))
			} else {
				util.Info("Postgres client closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})

	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}
