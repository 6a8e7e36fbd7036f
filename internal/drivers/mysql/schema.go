package mysql

import (
	"strings"
	"time"
)

const (
	templateTable = "CREATE TABLE IF NOT EXISTS {table} (\n" +
		"\tid VARCHAR(64) NOT NULL,\n" +
		"\tpayload LONGBLOB NOT NULL,\n" +
		"\tcreated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),\n" +
		"\tvisible_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),\n" +
		"\tPRIMARY KEY (id),\n" +
		"\tINDEX visible_at (visible_at ASC),\n" +
		"\tINDEX created_at_id (created_at ASC, id ASC)\n" +
		");"

	queueTable = `CREATE TABLE IF NOT EXISTS {table} LIKE {template};`

	hasTable = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?)`

	dropTable = `DROP TABLE IF EXISTS {table};`

	insertMessage = `INSERT INTO {table} (id, payload) VALUES (:id, :payload)`

	// MySQL can neither UPDATE a table it sub-selects from nor RETURN rows,
	// so the claim runs as three statements inside one transaction.
	locateMessage = `SELECT id FROM {table} WHERE visible_at < NOW(6) ORDER BY created_at ASC, id ASC LIMIT 1 FOR UPDATE SKIP LOCKED`
	leaseMessage  = `UPDATE {table} SET visible_at = NOW(6) + INTERVAL ? MICROSECOND WHERE id = ?`
	fetchMessage  = `SELECT id, payload FROM {table} WHERE id = ?`

	ackMessage = `DELETE FROM {table} WHERE id = ?`
)

var DriverNames = []string{"mysql"}

func Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func TemplateSchema(template string) []string {
	return []string{render(templateTable, template)}
}

func QueueSchema(table, template string) []string {
	r := strings.NewReplacer("{table}", Quote(table), "{template}", Quote(template))
	return []string{r.Replace(queueTable)}
}

func HasTable() string { return hasTable }

func DropTable(table string) string { return render(dropTable, table) }

func Insert(table string) string { return render(insertMessage, table) }

func Locate(table string) string { return render(locateMessage, table) }

func Lease(table string) string { return render(leaseMessage, table) }

func Fetch(table string) string { return render(fetchMessage, table) }

func Ack(table string) string { return render(ackMessage, table) }

// LeaseArg binds the lease as whole microseconds, the finest unit DATETIME(6)
// stores.
func LeaseArg(lease time.Duration) interface{} {
	return lease.Microseconds()
}

func render(query, table string) string {
	return strings.ReplaceAll(query, "{table}", Quote(table))
}
