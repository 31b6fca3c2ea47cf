package database

import (
	"errors"

	"github.com/lib/pq"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateCheckViolation       = "23514"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return ""
	}
	return string(pqErr.Code)
}

// IsUniqueViolation reports a 23505 from PostgreSQL.
func IsUniqueViolation(err error) bool {
	return pqCode(err) == sqlStateUniqueViolation
}

// IsCheckViolation reports a 23514, e.g. points_balance >= 0.
func IsCheckViolation(err error) bool {
	return pqCode(err) == sqlStateCheckViolation
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	code := pqCode(err)
	return code == sqlStateSerializationFailure || code == sqlStateDeadlockDetected
}
