package sqlite3

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// IsConflict reports whether err means another connection held the database
// lock.
func IsConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}
