package mirror

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"credential-sync/internal/model"
	"credential-sync/internal/util"
)

const updatePasswordQuery = `UPDATE users SET password = $1, updated_at = now() WHERE email = $2`

// PostgresStore writes straight into the mirror's users table.
type PostgresStore struct {
	db      *sqlx.DB
	timeout time.Duration
	logger  *zap.Logger
}

func NewPostgresStore(db *sqlx.DB, timeout time.Duration, logger *zap.Logger) *PostgresStore {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout, logger: logger}
}

func (s *PostgresStore) SetPassword(ctx context.Context, email, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.db.ExecContext(ctx, updatePasswordQuery, value, email)
	if err != nil {
		s.logger.Error("Mirror password update failed", util.Email(email), zap.Error(err))
		if unreachable(err) {
			return fmt.Errorf("%w: %v", model.ErrUnreachable, err)
		}
		return fmt.Errorf("%w: %v", model.ErrRemote, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrRemote, err)
	}
	if rows == 0 {
		s.logger.Warn("Mirror has no record for email", util.Email(email))
		return fmt.Errorf("%w: no mirror record", model.ErrRemote)
	}

	s.logger.Debug("Mirror password updated", util.Email(email))
	return nil
}

func unreachable(err error) bool {
	var netErr net.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.As(err, &netErr)
}
