package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	MirrorModeHTTP     = "http"
	MirrorModePostgres = "postgres"

	StoreBackendRedis  = "redis"
	StoreBackendScylla = "scylla"
)

type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`

	Server     ServerConfig
	Logging    LoggingConfig
	Redis      RedisConfig
	Scylla     ScyllaConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Firebase   FirebaseConfig
	Mirror     MirrorConfig
	SMTP       SMTPConfig
	OTP        OTPConfig
}

type ServerConfig struct {
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"https://*"`
}

type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type RedisConfig struct {
	URL      string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"20"`

	TLSCAFile   string `env:"REDIS_TLS_CA_FILE"`
	TLSCertFile string `env:"REDIS_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"REDIS_TLS_KEY_FILE"`
}

type ScyllaConfig struct {
	Nodes    []string      `env:"SCYLLA_NODES" envSeparator:"," envDefault:"localhost:9042"`
	Keyspace string        `env:"SCYLLA_KEYSPACE" envDefault:"credential_sync"`
	Username string        `env:"SCYLLA_USERNAME"`
	Password string        `env:"SCYLLA_PASSWORD"`
	CAPath   string        `env:"SCYLLA_CA_PATH"`
	Timeout  time.Duration `env:"SCYLLA_TIMEOUT" envDefault:"5s"`
}

type KafkaConfig struct {
	Brokers          []string `env:"KAFKA_BROKERS" envSeparator:","`
	ChangeEventTopic string   `env:"KAFKA_CHANGE_EVENT_TOPIC" envDefault:"identity.credential-changed"`
	ConsumerGroup    string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"credential-sync"`
	OutcomeTopic     string   `env:"KAFKA_OUTCOME_TOPIC" envDefault:"credential.sync-outcome"`
}

// Enabled reports whether any broker is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type ClickhouseConfig struct {
	Enabled  bool   `env:"CLICKHOUSE_ENABLED" envDefault:"false"`
	URL      string `env:"CLICKHOUSE_URL" envDefault:"http://localhost:9000"`
	Database string `env:"CLICKHOUSE_DATABASE" envDefault:"credential_sync"`
	Username string `env:"CLICKHOUSE_USERNAME" envDefault:"default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
}

type FirebaseConfig struct {
	ProjectID       string        `env:"FIREBASE_PROJECT_ID"`
	CredentialsFile string        `env:"FIREBASE_CREDENTIALS_FILE"`
	Timeout         time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

type MirrorConfig struct {
	Mode        string        `env:"MIRROR_MODE" envDefault:"http"`
	BaseURL     string        `env:"MIRROR_BASE_URL"`
	APIKey      string        `env:"MIRROR_API_KEY"`
	Timeout     time.Duration `env:"MIRROR_TIMEOUT" envDefault:"10s"`
	PostgresDSN string        `env:"MIRROR_POSTGRES_DSN"`
	MaxConns    int           `env:"MIRROR_POSTGRES_MAX_CONNS" envDefault:"10"`
}

type SMTPConfig struct {
	Host     string `env:"SMTP_HOST"`
	Port     int    `env:"SMTP_PORT" envDefault:"587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"SMTP_FROM"`
}

type OTPConfig struct {
	TTL          time.Duration `env:"OTP_TTL" envDefault:"5m"`
	HashKey      string        `env:"OTP_HASH_KEY"`
	StoreBackend string        `env:"OTP_STORE_BACKEND" envDefault:"redis"`

	// MaxAttempts wrong guesses kill the pending code.
	MaxAttempts int `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`

	// Per-email throttling of issue and validate requests.
	IssueLimit    int           `env:"OTP_ISSUE_LIMIT" envDefault:"5"`
	ValidateLimit int           `env:"OTP_VALIDATE_LIMIT" envDefault:"10"`
	RateWindow    time.Duration `env:"OTP_RATE_WINDOW" envDefault:"15m"`
	LockDuration  time.Duration `env:"OTP_LOCK_DURATION" envDefault:"15m"`
}

// LoadConfig reads the environment (and a .env file in development) and
// validates the result. Any problem is fatal at startup.
func LoadConfig() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

// Load is LoadConfig without the process exit.
func Load() (*Config, error) {
	if getEnv("APP_ENV", "development") == "development" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("could not load .env file: %v", err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot serve requests.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port))
	}
	if c.OTP.TTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.OTP.MaxAttempts < 1 {
		errs = append(errs, errors.New("OTP_MAX_ATTEMPTS must be at least 1"))
	}
	if c.OTP.RateWindow <= 0 || c.OTP.LockDuration <= 0 {
		errs = append(errs, errors.New("OTP_RATE_WINDOW and OTP_LOCK_DURATION must be positive"))
	}
	switch c.OTP.StoreBackend {
	case StoreBackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis store backend"))
		}
	case StoreBackendScylla:
		if len(c.Scylla.Nodes) == 0 {
			errs = append(errs, errors.New("SCYLLA_NODES is required for the scylla store backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown OTP_STORE_BACKEND %q", c.OTP.StoreBackend))
	}
	switch c.Mirror.Mode {
	case MirrorModeHTTP:
		if c.Mirror.BaseURL == "" {
			errs = append(errs, errors.New("MIRROR_BASE_URL is required in http mode"))
		}
	case MirrorModePostgres:
		if c.Mirror.PostgresDSN == "" {
			errs = append(errs, errors.New("MIRROR_POSTGRES_DSN is required in postgres mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MIRROR_MODE %q", c.Mirror.Mode))
	}
	if c.Mirror.Timeout <= 0 || c.Firebase.Timeout <= 0 {
		errs = append(errs, errors.New("MIRROR_TIMEOUT and PROVIDER_TIMEOUT must be positive"))
	}
	if c.IsProduction() {
		if c.Firebase.ProjectID == "" {
			errs = append(errs, errors.New("FIREBASE_PROJECT_ID is required in production"))
		}
		if c.OTP.HashKey == "" {
			errs = append(errs, errors.New("OTP_HASH_KEY is required in production"))
		}
		if c.SMTP.Host == "" || c.SMTP.From == "" {
			errs = append(errs, errors.New("SMTP_HOST and SMTP_FROM are required in production"))
		}
	}

	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
