package mirror

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credential-sync/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresStore(sqlx.NewDb(db, "sqlmock"), time.Second, zap.NewNop()), mock
}

func TestPostgresStoreSetPassword(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(updatePasswordQuery)).
		WithArgs("Pw1!", "u@x.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.SetPassword(context.Background(), "u@x.com", "Pw1!"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMissingRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(updatePasswordQuery)).
		WithArgs(model.PasswordPlaceholder, "ghost@x.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.SetPassword(context.Background(), "ghost@x.com", model.PasswordPlaceholder)
	assert.ErrorIs(t, err, model.ErrRemote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "constraint violation", err: errors.New("permission denied for table users"), want: model.ErrRemote},
		{name: "deadline", err: context.DeadlineExceeded, want: model.ErrUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta(updatePasswordQuery)).
				WithArgs("Pw1!", "u@x.com").
				WillReturnError(tt.err)

			err := store.SetPassword(context.Background(), "u@x.com", "Pw1!")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
