package sink

import (
	"errors"

	"github.com/lib/pq"
)

// Postgres error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	ErrCodeDupEntry              = "23505"
	ErrCodeInsufficientResources = "53000"
	ErrCodeTooManyConnections    = "53300"
)

// IsThrottlingError reports whether the database rejected work for lack of
// resources or connections.
func IsThrottlingError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == ErrCodeTooManyConnections || pqErr.Code == ErrCodeInsufficientResources
}

// IsDupEntryError reports a unique violation.
func IsDupEntryError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == ErrCodeDupEntry
}
