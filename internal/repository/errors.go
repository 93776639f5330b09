// Package repository implements the billing stores on gorm.
package repository

import (
	"github.com/cockroachdb/errors"
	"gorm.io/gorm"

	ierr "membership_backend/internal/errors"
)

// translate maps gorm errors onto the shared taxonomy. The database must be
// opened with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
func translate(err error, format string, args ...any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ierr.WithError(err).
			WithMessagef(format, args...).
			Mark(ierr.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ierr.WithError(err).
			WithMessagef(format, args...).
			Mark(ierr.ErrConflict)
	default:
		return ierr.WithError(err).
			WithMessagef(format, args...).
			Mark(ierr.ErrDatabase)
	}
}
