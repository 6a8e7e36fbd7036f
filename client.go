package sqlq

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/sqlq/internal"
	"github.com/mattbonnell/sqlq/internal/dsn"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,48}$`)

// Client is a handle on the store queues live in. It holds no queue state of
// its own, so any number of clients may share one database.
type Client struct {
	db      *sqlx.DB
	dialect *internal.Dialect
	owned   bool
	opts    options
	log     zerolog.Logger
}

// NewClient returns a client over an existing connection pool. Close does not
// close db.
func NewClient(db *sqlx.DB, opts ...Option) (*Client, error) {
	return newClient(context.Background(), db, false, opts)
}

// Open connects to the store with the given database/sql driver. The client
// owns the connection pool and Close releases it. An in-memory sqlite3
// database is shared by every connection in the pool.
func Open(ctx context.Context, driverName, dataSourceName string, opts ...Option) (*Client, error) {
	if driverName == "sqlite3" {
		dataSourceName = dsn.ShareMemory(dataSourceName)
	}
	db, err := sqlx.Open(driverName, dataSourceName)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}
	c, err := newClient(ctx, db, true, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Connect is Open with the driver picked from the scheme of a connection
// URL: postgres://, postgresql://, mysql://, sqlite3://, sqlite:// or file:.
func Connect(ctx context.Context, url string, opts ...Option) (*Client, error) {
	driverName, dataSourceName, err := dsn.Parse(url)
	if err != nil {
		return nil, &StorageError{Op: "connect", Err: err}
	}
	return Open(ctx, driverName, dataSourceName, opts...)
}

func newClient(ctx context.Context, db *sqlx.DB, owned bool, opts []Option) (*Client, error) {
	o := newOptions(opts)
	logger := o.logger.With().Str("driver", db.DriverName()).Logger()
	logger.Debug().Msg("creating new client")
	dialect, err := internal.GetDialect(db.DriverName())
	if err != nil {
		return nil, err
	}
	logger.Debug().Msg("pinging database")
	if err := db.PingContext(ctx); err != nil {
		e := &StorageError{Op: "ping", Err: err}
		logger.Debug().Err(e).Msg("couldn't reach database")
		return nil, e
	}
	logger.Debug().Msg("client created")
	return &Client{db: db, dialect: dialect, owned: owned, opts: o, log: logger}, nil
}

// Acquire makes sure the queue's table exists, creating it from the template
// table when it does not, and returns a handle on it.
func (c *Client) Acquire(ctx context.Context, name string) (*Queue, error) {
	table, err := c.table(name)
	if err != nil {
		return nil, err
	}
	if err := internal.CreateSchema(ctx, c.db, c.dialect, c.opts.template, c.log); err != nil {
		return nil, &StorageError{Op: "acquire", Queue: name, Err: err}
	}
	if err := internal.CreateQueue(ctx, c.db, c.dialect, table, c.opts.template, c.log); err != nil {
		return nil, &StorageError{Op: "acquire", Queue: name, Err: err}
	}
	q := newQueue(c, name, table)
	q.log.Debug().Msg("queue acquired")
	return q, nil
}

// Drop removes the named queues' tables along with every message in them.
// Queues that do not exist are skipped.
func (c *Client) Drop(ctx context.Context, names ...string) error {
	tables := make([]string, len(names))
	for i, name := range names {
		table, err := c.table(name)
		if err != nil {
			return err
		}
		tables[i] = table
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := range tables {
		name, table := names[i], tables[i]
		g.Go(func() error {
			if _, err := c.db.ExecContext(ctx, c.dialect.DropTable(table)); err != nil {
				return &StorageError{Op: "drop", Queue: name, Err: err}
			}
			c.log.Debug().Str("queue", name).Msg("queue dropped")
			return nil
		})
	}
	return g.Wait()
}

// Close releases the connection pool if the client opened it.
func (c *Client) Close() error {
	if !c.owned {
		return nil
	}
	c.log.Debug().Msg("closing database")
	if err := c.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

func (c *Client) table(name string) (string, error) {
	if !queueNamePattern.MatchString(name) {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidQueueName)
	}
	return c.opts.tablePrefix + name, nil
}
