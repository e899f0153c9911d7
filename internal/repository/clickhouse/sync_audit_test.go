package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credential-sync/internal/model"
)

type capturedExec struct {
	query string
	args  []interface{}
}

type fakeExecer struct {
	calls []capturedExec
	err   error
}

func (f *fakeExecer) Exec(ctx context.Context, query string, args ...interface{}) error {
	f.calls = append(f.calls, capturedExec{query: query, args: args})
	return f.err
}

func TestObserveInsertsMaskedRow(t *testing.T) {
	db := &fakeExecer{}
	completed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	NewSyncAudit(db, zap.NewNop()).Observe(context.Background(), &model.SyncResult{
		EventID:       "evt-1",
		Email:         "jane@example.com",
		Source:        model.SourceProviderEvent,
		State:         model.StateCommitted,
		MirrorUpdated: true,
		CompletedAt:   completed,
	})

	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].query, "INSERT INTO credential_sync_audit")
	assert.Equal(t, []interface{}{
		"evt-1", "j***@example.com", "provider-event", "committed",
		uint8(0), uint8(1), uint8(0), "", completed,
	}, db.calls[0].args)
}

func TestObserveIgnoresFailures(t *testing.T) {
	db := &fakeExecer{err: errors.New("clickhouse down")}
	assert.NotPanics(t, func() {
		NewSyncAudit(db, zap.NewNop()).Observe(context.Background(), &model.SyncResult{EventID: "evt-1"})
	})
}

func TestEnsureTable(t *testing.T) {
	db := &fakeExecer{}
	require.NoError(t, NewSyncAudit(db, zap.NewNop()).EnsureTable(context.Background()))
	assert.Contains(t, db.calls[0].query, "CREATE TABLE IF NOT EXISTS credential_sync_audit")

	db.err = errors.New("denied")
	assert.Error(t, NewSyncAudit(db, zap.NewNop()).EnsureTable(context.Background()))
}
