package postgres

import (
	"errors"

	"github.com/lib/pq"
)

const lockNotAvailable = "55P03"

// IsConflict reports whether err is a transaction rollback (serialization
// failure, deadlock) or a lock acquisition failure. Such claims can be retried.
func IsConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code.Class() == "40" || pqErr.Code == lockNotAvailable
}
