package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

const createAuditTable = `
    CREATE TABLE IF NOT EXISTS credential_sync_audit (
        event_id         String,
        email_masked     String,
        source           LowCardinality(String),
        state            LowCardinality(String),
        provider_updated UInt8,
        mirror_updated   UInt8,
        divergent        UInt8,
        error_class      LowCardinality(String),
        completed_at     DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    ORDER BY (completed_at, event_id)
    TTL toDateTime(completed_at) + INTERVAL 90 DAY`

const insertAuditRow = `
    INSERT INTO credential_sync_audit (
        event_id, email_masked, source, state, provider_updated,
        mirror_updated, divergent, error_class, completed_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Execer is satisfied by *client.ClickHouseClient.
type Execer interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// SyncAudit appends one row per terminal sync. Only the masked email is stored.
type SyncAudit struct {
	db      Execer
	logger  *zap.Logger
	timeout time.Duration
}

func NewSyncAudit(db Execer, logger *zap.Logger) *SyncAudit {
	return &SyncAudit{db: db, logger: logger, timeout: 3 * time.Second}
}

func (a *SyncAudit) EnsureTable(ctx context.Context) error {
	if err := a.db.Exec(ctx, createAuditTable); err != nil {
		return fmt.Errorf("failed to create credential_sync_audit: %w", err)
	}
	return nil
}

// Observe records result. Failures are logged; the audit never affects a sync.
func (a *SyncAudit) Observe(ctx context.Context, result *model.SyncResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	err := a.db.Exec(ctx, insertAuditRow,
		result.EventID,
		util.MaskEmail(result.Email),
		string(result.Source),
		string(result.State),
		boolToUInt8(result.ProviderUpdated),
		boolToUInt8(result.MirrorUpdated),
		boolToUInt8(result.Divergent()),
		result.ErrorClass,
		result.CompletedAt,
	)
	if err != nil {
		a.logger.Warn("Failed to write sync audit row",
			zap.String("event_id", result.EventID), zap.Error(err))
	}
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
