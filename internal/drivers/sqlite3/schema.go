package sqlite3

import (
	"fmt"
	"strings"
	"time"
)

// SQLite keeps timestamps as text in a lexically ordered millisecond format.
const clock = `strftime('%Y-%m-%d %H:%M:%f', 'now')`

const (
	queueTable = `CREATE TABLE IF NOT EXISTS {table} (
	id TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at TEXT NOT NULL DEFAULT (` + clock + `),
	visible_at TEXT NOT NULL DEFAULT (` + clock + `)
);`
	queueVisibleAtIndex = `CREATE INDEX IF NOT EXISTS {visible_at_index} ON {table} (visible_at ASC);`
	queueOrderIndex     = `CREATE INDEX IF NOT EXISTS {order_index} ON {table} (created_at ASC, id ASC);`

	hasTable = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`

	dropTable = `DROP TABLE IF EXISTS {table};`

	insertMessage = `INSERT INTO {table} (id, payload) VALUES (:id, :payload)`

	// The whole database is write-locked by the UPDATE, which stands in for
	// row locks. The clock only has millisecond resolution, so a row is
	// eligible from the millisecond its visible_at names.
	claimMessage = `UPDATE {table} SET visible_at = strftime('%Y-%m-%d %H:%M:%f', 'now', ?)
WHERE id = (
	SELECT id FROM {table}
	WHERE visible_at <= ` + clock + `
	ORDER BY created_at ASC, id ASC
	LIMIT 1
)
RETURNING id, payload`

	ackMessage = `DELETE FROM {table} WHERE id = ?`
)

var DriverNames = []string{"sqlite3"}

func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// TemplateSchema is empty: SQLite has no way to create a table from another
// one, so QueueSchema renders the full definition for every queue.
func TemplateSchema(template string) []string {
	return nil
}

func QueueSchema(table, template string) []string {
	r := strings.NewReplacer(
		"{table}", Quote(table),
		"{visible_at_index}", Quote(table+"_visible_at"),
		"{order_index}", Quote(table+"_created_at_id"),
	)
	return []string{
		r.Replace(queueTable),
		r.Replace(queueVisibleAtIndex),
		r.Replace(queueOrderIndex),
	}
}

func HasTable() string { return hasTable }

func DropTable(table string) string { return render(dropTable, table) }

func Insert(table string) string { return render(insertMessage, table) }

func Claim(table string) string { return render(claimMessage, table) }

func Ack(table string) string { return render(ackMessage, table) }

// LeaseArg binds the lease as a strftime modifier such as "+1.500 seconds".
func LeaseArg(lease time.Duration) interface{} {
	return fmt.Sprintf("%+.3f seconds", lease.Seconds())
}

func render(query, table string) string {
	return strings.ReplaceAll(query, "{table}", Quote(table))
}
