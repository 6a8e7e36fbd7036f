// Package dsn maps connection URLs onto database/sql driver names and the data
// source names those drivers expect.
package dsn

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

var ErrUnknownScheme = errors.New("unknown connection string scheme")

// Parse returns the driver name and data source name for url.
//
//	postgres://u:p@host/db       -> postgres, unchanged
//	mysql://u:p@tcp(host)/db     -> mysql, u:p@tcp(host)/db
//	sqlite3:///tmp/q.db          -> sqlite3, /tmp/q.db
//	file:q.db?cache=shared       -> sqlite3, unchanged
func Parse(url string) (driverName, dataSourceName string, err error) {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		if strings.HasPrefix(url, "file:") || url == ":memory:" {
			return "sqlite3", url, nil
		}
		return "", "", fmt.Errorf("%q: %w", url, ErrUnknownScheme)
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgres", url, nil
	case "mysql":
		return "mysql", rest, nil
	case "sqlite", "sqlite3":
		return "sqlite3", rest, nil
	default:
		return "", "", fmt.Errorf("%q: %w", scheme, ErrUnknownScheme)
	}
}

// ShareMemory rewrites an in-memory SQLite data source so that every
// connection in a pool opens the same database. Each :memory: connection is
// otherwise a separate, empty database. The rewritten name is unique, so two
// pools never share one. Other data sources are returned unchanged.
//
//	:memory:                  -> file:sqlq-<uuid>?cache=shared&mode=memory
//	file::memory:?_fk=1       -> file:sqlq-<uuid>?_fk=1&cache=shared&mode=memory
//	file:q?mode=memory        -> file:q?cache=shared&mode=memory
func ShareMemory(dataSourceName string) string {
	path, rawQuery, _ := strings.Cut(dataSourceName, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil || query.Get("cache") == "shared" {
		return dataSourceName
	}
	switch {
	case path == ":memory:" || path == "file::memory:":
		path = "file:sqlq-" + uuid.NewString()
		query.Set("mode", "memory")
	case strings.HasPrefix(path, "file:") && query.Get("mode") == "memory":
	default:
		return dataSourceName
	}
	query.Set("cache", "shared")
	return path + "?" + query.Encode()
}
