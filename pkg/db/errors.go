package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	pkgerrors "github.com/angelmondragon/mfg-ledger-backend/pkg/errors"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgQueryCanceled        = "57014"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the helper looks for that
// constraint on the driver error or in the error message.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, ok := pgDetails(err); ok && code == pgUniqueViolation {
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	// sqlite reports the offending columns instead of the index name.
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsTransient reports lock timeouts, deadlocks and serialization failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := pgDetails(err); ok {
		switch code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable, pgQueryCanceled:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// ClassifyTransient wraps transient driver errors with pkgerrors.CodeTransient and
// leaves everything else untouched.
func ClassifyTransient(err error) error {
	if err == nil || pkgerrors.As(err) != nil {
		return err
	}
	if IsTransient(err) {
		return pkgerrors.Wrap(pkgerrors.CodeTransient, err, "storage contention")
	}
	return err
}

func pgDetails(err error) (code, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}
