// Package sqlq is an at-least-once message queue kept in a relational database
// table, one table per queue. Consumers claim rows with FOR UPDATE SKIP LOCKED
// and lease them for a time; a row that is not acked before its lease runs out
// is delivered again.
package sqlq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/sqlq/internal"
	"github.com/rs/zerolog"
)

// Message is a claimed message. Its ID is what Ack takes.
type Message struct {
	ID      string
	Payload []byte
}

// Queue is a handle on one queue table. It caches no row state: every call
// goes to the store, so a Queue is safe for concurrent use.
type Queue struct {
	client *Client
	name   string
	table  string
	// owned is set when the queue opened its client and must close it.
	owned bool
	log   zerolog.Logger
}

func newQueue(c *Client, name, table string) *Queue {
	return &Queue{
		client: c,
		name:   name,
		table:  table,
		log:    c.log.With().Str("queue", name).Logger(),
	}
}

// Acquire is Client.Acquire over an existing connection pool. Closing the
// queue leaves db open.
func Acquire(ctx context.Context, name string, db *sqlx.DB, opts ...Option) (*Queue, error) {
	c, err := newClient(ctx, db, false, opts)
	if err != nil {
		return nil, err
	}
	return c.Acquire(ctx, name)
}

// AcquireURL connects to the store at url and acquires the named queue. The
// queue owns the connection and Close releases it.
func AcquireURL(ctx context.Context, name, url string, opts ...Option) (*Queue, error) {
	c, err := Connect(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	q, err := c.Acquire(ctx, name)
	if err != nil {
		c.Close()
		return nil, err
	}
	q.owned = true
	return q, nil
}

// Drop is Client.Drop over an existing connection pool.
func Drop(ctx context.Context, names []string, db *sqlx.DB, opts ...Option) error {
	c, err := newClient(ctx, db, false, opts)
	if err != nil {
		return err
	}
	return c.Drop(ctx, names...)
}

// DropURL connects to the store at url, drops the named queues and
// disconnects.
func DropURL(ctx context.Context, names []string, url string, opts ...Option) error {
	c, err := Connect(ctx, url, opts...)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Drop(ctx, names...)
}

// Name returns the queue name Acquire was called with.
func (q *Queue) Name() string { return q.name }

// Close releases the connection pool if the queue was acquired with
// AcquireURL. It is a no-op otherwise.
func (q *Queue) Close() error {
	if !q.owned {
		return nil
	}
	return q.client.Close()
}

// Produce appends payloads to the queue in one INSERT. Each message gets a
// fresh id and is eligible for claim as soon as the insert commits. A failed
// produce is not retried; the whole batch may be retried by the caller.
func (q *Queue) Produce(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return ErrNoPayloads
	}
	rows := make([]internal.Message, len(payloads))
	for i, p := range payloads {
		id, err := q.client.opts.newID()
		if err != nil {
			return &StorageError{Op: "produce", Queue: q.name, Err: fmt.Errorf("error generating message id: %w", err)}
		}
		rows[i] = internal.Message{ID: id, Payload: p}
	}
	db := q.client.db
	if _, err := db.NamedExecContext(ctx, q.client.dialect.Insert(q.table), rows); err != nil {
		e := &StorageError{Op: "produce", Queue: q.name, Err: err}
		q.log.Debug().Err(e).Msg("error inserting messages")
		return e
	}
	q.log.Debug().Int("count", len(rows)).Msg("produced messages")
	return nil
}

// Consume claims the oldest eligible message and hides it from other
// claimers for lease. ok is false when no message is eligible, which is not
// an error. A message that is not acked before its lease runs out is
// delivered again.
//
// A *ClaimError means the claim lost a lock conflict and can be retried;
// nothing was leased.
func (q *Queue) Consume(ctx context.Context, lease time.Duration) (m Message, ok bool, err error) {
	if lease < 0 {
		return Message{}, false, ErrInvalidLease
	}
	m, ok, err = q.claim(ctx, lease)
	if err != nil {
		if q.client.dialect.IsConflict(err) {
			e := &ClaimError{Queue: q.name, Err: err}
			q.log.Debug().Err(e).Msg("claim conflict")
			return Message{}, false, e
		}
		e := &StorageError{Op: "consume", Queue: q.name, Err: err}
		q.log.Debug().Err(e).Msg("error claiming message")
		return Message{}, false, e
	}
	if !ok {
		q.log.Debug().Msg("no messages to claim")
		return Message{}, false, nil
	}
	q.log.Debug().Str("id", m.ID).Dur("lease", lease).Msg("claimed message")
	return m, true, nil
}

// claim locates the oldest eligible row while skipping rows other claimers
// hold locked, then pushes its visible_at out by lease. Both steps run in one
// transaction; if it does not commit, the row is left as it was.
func (q *Queue) claim(ctx context.Context, lease time.Duration) (Message, bool, error) {
	d := q.client.dialect
	tx, err := q.client.db.BeginTxx(ctx, nil)
	if err != nil {
		return Message{}, false, fmt.Errorf("error beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var m Message
	if d.Claim != nil {
		err = tx.QueryRowxContext(ctx, tx.Rebind(d.Claim(q.table)), d.LeaseArg(lease)).Scan(&m.ID, &m.Payload)
	} else {
		err = q.claimInSteps(ctx, tx, lease, &m)
	}
	found := true
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return Message{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Message{}, false, fmt.Errorf("error committing claim transaction: %w", err)
	}
	return m, found, nil
}

func (q *Queue) claimInSteps(ctx context.Context, tx *sqlx.Tx, lease time.Duration, m *Message) error {
	d := q.client.dialect
	var id string
	if err := tx.QueryRowxContext(ctx, tx.Rebind(d.Locate(q.table))).Scan(&id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(d.Lease(q.table)), d.LeaseArg(lease), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("leased %d rows for message %s", n, id)
	}
	return tx.QueryRowxContext(ctx, tx.Rebind(d.Fetch(q.table)), id).Scan(&m.ID, &m.Payload)
}

// Ack deletes the message with the given id. Acking an id that is not in the
// queue succeeds.
func (q *Queue) Ack(ctx context.Context, id string) error {
	db := q.client.db
	res, err := db.ExecContext(ctx, db.Rebind(q.client.dialect.Ack(q.table)), id)
	if err != nil {
		e := &StorageError{Op: "ack", Queue: q.name, Err: err}
		q.log.Debug().Err(e).Msg("error deleting message")
		return e
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		q.log.Debug().Str("id", id).Msg("acked message was not in queue")
		return nil
	}
	q.log.Debug().Str("id", id).Msg("acked message")
	return nil
}
