package store

import (
	"context"
	"errors"
	"strings"

	"data-marketplace/apperr"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE codes treated as transient.
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateQueryCanceled        = "57014"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateAdminShutdown        = "57P01"
)

// Classify maps driver and gorm errors onto apperr kinds. Errors that are
// already *apperr.Error pass through unchanged so services can return
// business errors from inside a transaction.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Wrap(apperr.KindNotFound, apperr.CodeStoreFailure, "record not found", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTransient, apperr.CodeStoreTransient, "store call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindInternal, apperr.CodeStoreFailure, "store call canceled", err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.Wrap(apperr.KindConflict, apperr.CodeStoreConstraint, "unique constraint violated", err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateSerializationFailure,
			pgErr.Code == sqlStateDeadlockDetected,
			pgErr.Code == sqlStateQueryCanceled,
			pgErr.Code == sqlStateLockNotAvailable,
			pgErr.Code == sqlStateAdminShutdown,
			strings.HasPrefix(pgErr.Code, "08"):
			return apperr.Wrap(apperr.KindTransient, apperr.CodeStoreTransient, "transient store error "+pgErr.Code, err)
		case strings.HasPrefix(pgErr.Code, "23"):
			return apperr.Wrap(apperr.KindConflict, apperr.CodeStoreConstraint, "constraint violated: "+pgErr.ConstraintName, err)
		}
		return apperr.Wrap(apperr.KindInternal, apperr.CodeStoreFailure, "store error "+pgErr.Code, err)
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperr.Wrap(apperr.KindTransient, apperr.CodeStoreTransient, "connection fault", err)
	}

	return apperr.Wrap(apperr.KindInternal, apperr.CodeStoreFailure, "store failure", err)
}
