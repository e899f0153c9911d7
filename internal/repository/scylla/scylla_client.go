package scylla

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"credential-sync/internal/config"
	"credential-sync/internal/util"
)

// pendingCodesTable is created by EnsureSchema. Rows carry a TTL so the
// store collects dead codes on its own.
const pendingCodesTable = `
    CREATE TABLE IF NOT EXISTS pending_codes (
        email      text PRIMARY KEY,
        code_hash  blob,
        issued_at  timestamp,
        expires_at timestamp,
        consumed   boolean,
        attempts   int
    )`

// PreparedStatements holds the statements the pending-code repository uses.
// Every write is a lightweight transaction: mixing plain writes with LWTs on
// one partition gives up linearizability.
type PreparedStatements struct {
	ReplacePendingCode string
	InsertPendingCode  string
	GetPendingCode     string
	ConsumePendingCode string
	RecordMismatch     string
	RevokePendingCode  string
}

type ScyllaClient struct {
	Session      *gocql.Session
	config       *config.ScyllaConfig
	Prepared     *PreparedStatements
	prepareMutex sync.RWMutex
	isPrepared   bool
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = scyllaConfig.Timeout
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 2
	cluster.SocketKeepalive = 30 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 2,
	}

	if scyllaConfig.CAPath != "" {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 scyllaConfig.CAPath,
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session: session,
		config:  &scyllaConfig,
	}

	if err := client.EnsureSchema(context.Background()); err != nil {
		session.Close()
		return nil, err
	}
	client.prepareStatements()

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace),
		zap.Bool("tls_enabled", cluster.SslOpts != nil))

	return client, nil
}

// EnsureSchema creates the pending_codes table when missing.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.Session.Query(pendingCodesTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create pending_codes table: %w", err)
	}
	return nil
}

func (s *ScyllaClient) prepareStatements() {
	s.prepareMutex.Lock()
	defer s.prepareMutex.Unlock()

	if s.isPrepared {
		return
	}

	s.Prepared = &PreparedStatements{
		ReplacePendingCode: `
        UPDATE pending_codes USING TTL ?
        SET code_hash = ?, issued_at = ?, expires_at = ?, consumed = false, attempts = 0
        WHERE email = ? IF EXISTS`,

		InsertPendingCode: `
        INSERT INTO pending_codes (email, code_hash, issued_at, expires_at, consumed, attempts)
        VALUES (?, ?, ?, ?, false, 0) IF NOT EXISTS USING TTL ?`,

		GetPendingCode: `
        SELECT code_hash, issued_at, expires_at, consumed, attempts
        FROM pending_codes WHERE email = ?`,

		ConsumePendingCode: `
        UPDATE pending_codes USING TTL ? SET consumed = true
        WHERE email = ? IF consumed = false AND code_hash = ?`,

		RecordMismatch: `
        UPDATE pending_codes USING TTL ? SET attempts = ?
        WHERE email = ? IF attempts = ? AND code_hash = ? AND consumed = false`,

		RevokePendingCode: `
        DELETE FROM pending_codes
        WHERE email = ? IF attempts = ? AND code_hash = ? AND consumed = false`,
	}
	s.isPrepared = true

	util.Debug("ScyllaDB statements registered")
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

// Query builds a query bound to ctx. gocql prepares it on first use.
func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

// ScanRow reads a single row into dest at LOCAL_SERIAL, so it observes any
// lightweight transaction in flight. A missing row is gocql.ErrNotFound.
func (s *ScyllaClient) ScanRow(ctx context.Context, stmt string, values []interface{}, dest ...interface{}) error {
	return s.Query(ctx, stmt, values...).
		Consistency(gocql.Consistency(gocql.LocalSerial)).
		Scan(dest...)
}

// ExecCAS runs a lightweight transaction at LOCAL_SERIAL. When it does not
// apply, previous holds the current row (empty if there is none).
func (s *ScyllaClient) ExecCAS(ctx context.Context, stmt string, values []interface{}, previous map[string]interface{}) (bool, error) {
	return s.Query(ctx, stmt, values...).
		SerialConsistency(gocql.LocalSerial).
		MapScanCAS(previous)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}
