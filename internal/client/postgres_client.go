package client

import (
	"context"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"credential-sync/internal/config"
)

// PostgresClient holds the connection pool to the mirror user-record store.
type PostgresClient struct {
	DB *sqlx.DB
}

// NewPostgresClient connects through the pgx stdlib driver
func NewPostgresClient(cfg *config.Config, logger *zap.Logger) (*PostgresClient, error) {
	mirrorConfig := cfg.Mirror

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "pgx", mirrorConfig.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if mirrorConfig.MaxConns > 0 {
		db.SetMaxOpenConns(mirrorConfig.MaxConns)
		db.SetMaxIdleConns(mirrorConfig.MaxConns / 2)
	}
	db.SetConnMaxLifetime(time.Hour)

	logger.Info("Postgres mirror client initialized",
		zap.Int("max_conns", mirrorConfig.MaxConns))

	return &PostgresClient{DB: db}, nil
}

func (p *PostgresClient) HealthCheck(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}

func (p *PostgresClient) Close() error {
	return p.DB.Close()
}
