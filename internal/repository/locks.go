package repository

import (
	"context"
	"database/sql/driver"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"

	ierr "membership_backend/internal/errors"
)

// AdvisoryLocker serialises household updates across API replicas with
// Postgres session advisory locks. Each held lock pins one pooled
// connection until it is released.
type AdvisoryLocker struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

func NewAdvisoryLocker(db *gorm.DB, logger *zap.SugaredLogger) *AdvisoryLocker {
	return &AdvisoryLocker{db: db, logger: logger}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, translate(err, "lock %s", key)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, translate(err, "lock %s: get connection", key)
	}

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ierr.WithError(errors.CombineErrors(ctx.Err(), err)).
				WithMessagef("acquire lock %s", key).
				Mark(ierr.ErrSystem)
		}
		return nil, translate(err, "acquire lock %s", key)
	}

	return func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
			l.logger.Errorw("could not release advisory lock, discarding connection", "key", key, "error", err)
			// Ending the session releases every lock it holds.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}
