package mysql

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

const (
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// IsConflict reports whether err is a deadlock or lock wait timeout raised
// inside a claim transaction.
func IsConflict(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	return myErr.Number == erLockDeadlock || myErr.Number == erLockWaitTimeout
}
