package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattbonnell/sqlq/internal/drivers/mysql"
	"github.com/mattbonnell/sqlq/internal/drivers/postgres"
	"github.com/mattbonnell/sqlq/internal/drivers/sqlite3"
	"github.com/rs/zerolog"
)

var ErrUnsupportedDriver = errors.New("unsupported driver")

// Dialect holds the SQL a queue needs from one kind of store. Queries take
// '?' placeholders and must be rebound for the connection they run on.
//
// Claim is set when the store can lease a row in a single statement. When it
// is empty, Locate, Lease and Fetch run in that order inside one transaction.
type Dialect struct {
	Name string

	TemplateSchema func(template string) []string
	QueueSchema    func(table, template string) []string
	HasTable       func() string
	DropTable      func(table string) string

	Insert func(table string) string
	Claim  func(table string) string
	Locate func(table string) string
	Lease  func(table string) string
	Fetch  func(table string) string
	Ack    func(table string) string

	LeaseArg   func(lease time.Duration) interface{}
	IsConflict func(err error) bool
}

var (
	postgresDialect = &Dialect{
		Name:           "postgres",
		TemplateSchema: postgres.TemplateSchema,
		QueueSchema:    postgres.QueueSchema,
		HasTable:       postgres.HasTable,
		DropTable:      postgres.DropTable,
		Insert:         postgres.Insert,
		Claim:          postgres.Claim,
		Ack:            postgres.Ack,
		LeaseArg:       postgres.LeaseArg,
		IsConflict:     postgres.IsConflict,
	}
	mysqlDialect = &Dialect{
		Name:           "mysql",
		TemplateSchema: mysql.TemplateSchema,
		QueueSchema:    mysql.QueueSchema,
		HasTable:       mysql.HasTable,
		DropTable:      mysql.DropTable,
		Insert:         mysql.Insert,
		Locate:         mysql.Locate,
		Lease:          mysql.Lease,
		Fetch:          mysql.Fetch,
		Ack:            mysql.Ack,
		LeaseArg:       mysql.LeaseArg,
		IsConflict:     mysql.IsConflict,
	}
	sqlite3Dialect = &Dialect{
		Name:           "sqlite3",
		TemplateSchema: sqlite3.TemplateSchema,
		QueueSchema:    sqlite3.QueueSchema,
		HasTable:       sqlite3.HasTable,
		DropTable:      sqlite3.DropTable,
		Insert:         sqlite3.Insert,
		Claim:          sqlite3.Claim,
		Ack:            sqlite3.Ack,
		LeaseArg:       sqlite3.LeaseArg,
		IsConflict:     sqlite3.IsConflict,
	}
)

var dialects = func() map[string]*Dialect {
	m := make(map[string]*Dialect)
	for _, d := range postgres.DriverNames {
		m[d] = postgresDialect
	}
	for _, d := range mysql.DriverNames {
		m[d] = mysqlDialect
	}
	for _, d := range sqlite3.DriverNames {
		m[d] = sqlite3Dialect
	}
	return m
}()

func GetDialect(driverName string) (*Dialect, error) {
	d, ok := dialects[driverName]
	if !ok {
		return nil, fmt.Errorf("driver '%s': %w", driverName, ErrUnsupportedDriver)
	}
	return d, nil
}

// CreateSchema creates the shared template table and its indexes.
func CreateSchema(ctx context.Context, db *sqlx.DB, d *Dialect, template string, logger zerolog.Logger) error {
	return execSchema(ctx, db, d.TemplateSchema(template), logger.With().Str("table", template).Logger())
}

// CreateQueue creates a queue table from the template. It is a no-op when the
// table already exists.
func CreateQueue(ctx context.Context, db *sqlx.DB, d *Dialect, table, template string, logger zerolog.Logger) error {
	logger = logger.With().Str("table", table).Logger()
	var exists bool
	if err := db.QueryRowxContext(ctx, db.Rebind(d.HasTable()), table).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check for table %s: %w", table, err)
	}
	if exists {
		logger.Debug().Msg("queue table exists")
		return nil
	}
	return execSchema(ctx, db, d.QueueSchema(table, template), logger)
}

func execSchema(ctx context.Context, db *sqlx.DB, schema []string, logger zerolog.Logger) error {
	if len(schema) == 0 {
		return nil
	}
	logger.Debug().Msg("creating schema")
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to exec stmt %s: %w", strings.TrimSpace(strings.Split(stmt, "(")[0]), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	logger.Debug().Msg("schema created")
	return nil
}
