package sqlq

import (
	"errors"
	"fmt"

	"github.com/mattbonnell/sqlq/internal"
)

var (
	ErrNoPayloads        = errors.New("sqlq: produce needs at least one payload")
	ErrInvalidLease      = errors.New("sqlq: lease must not be negative")
	ErrInvalidQueueName  = errors.New("sqlq: queue name must be 1-48 letters, digits or underscores")
	ErrUnsupportedDriver = internal.ErrUnsupportedDriver
)

// StorageError is returned when the store fails a connection, DDL or write
// operation. It is never retried by this package.
type StorageError struct {
	Op    string
	Queue string
	Err   error
}

func (e *StorageError) Error() string {
	if e.Queue == "" {
		return fmt.Sprintf("sqlq: %s: %s", e.Op, e.Err)
	}
	return fmt.Sprintf("sqlq: %s %s: %s", e.Op, e.Queue, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ClaimError is returned when a claim transaction lost a lock conflict, such
// as a deadlock or serialization failure. Nothing was leased and the claim
// can be retried straight away.
type ClaimError struct {
	Queue string
	Err   error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("sqlq: claim %s: %s", e.Queue, e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a ClaimError.
func IsRetryable(err error) bool {
	var claimErr *ClaimError
	return errors.As(err, &claimErr)
}
