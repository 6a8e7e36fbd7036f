package postgres

import (
	"strings"
	"time"
)

const (
	templateTable = `CREATE TABLE IF NOT EXISTS {table} (
	id TEXT PRIMARY KEY,
	payload BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	visible_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	templateVisibleAtIndex = `CREATE INDEX IF NOT EXISTS {visible_at_index} ON {table} (visible_at ASC);`
	templateOrderIndex     = `CREATE INDEX IF NOT EXISTS {order_index} ON {table} (created_at ASC, id ASC);`

	queueTable = `CREATE TABLE IF NOT EXISTS {table} (LIKE {template} INCLUDING ALL) INHERITS ({template});`

	hasTable = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = ?)`

	dropTable = `DROP TABLE IF EXISTS {table};`

	insertMessage = `INSERT INTO {table} (id, payload) VALUES (:id, :payload)`

	claimMessage = `UPDATE {table} SET visible_at = now() + make_interval(secs => ?)
WHERE id = (
	SELECT id FROM {table}
	WHERE visible_at < now()
	ORDER BY created_at ASC, id ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload`

	ackMessage = `DELETE FROM {table} WHERE id = ?`
)

// DriverNames are the database/sql driver names served by this dialect.
// IsConflict reads lib/pq errors only.
var DriverNames = []string{"postgres"}

func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func TemplateSchema(template string) []string {
	r := strings.NewReplacer(
		"{table}", Quote(template),
		"{visible_at_index}", Quote(template+"_visible_at"),
		"{order_index}", Quote(template+"_created_at_id"),
	)
	return []string{
		r.Replace(templateTable),
		r.Replace(templateVisibleAtIndex),
		r.Replace(templateOrderIndex),
	}
}

// QueueSchema creates the queue table as a child of the template, copying its
// columns, defaults and indexes.
func QueueSchema(table, template string) []string {
	r := strings.NewReplacer("{table}", Quote(table), "{template}", Quote(template))
	return []string{r.Replace(queueTable)}
}

func HasTable() string { return hasTable }

func DropTable(table string) string { return render(dropTable, table) }

func Insert(table string) string { return render(insertMessage, table) }

func Claim(table string) string { return render(claimMessage, table) }

func Ack(table string) string { return render(ackMessage, table) }

// LeaseArg binds the lease as fractional seconds for make_interval.
func LeaseArg(lease time.Duration) interface{} {
	return lease.Seconds()
}

func render(query, table string) string {
	return strings.ReplaceAll(query, "{table}", Quote(table))
}
