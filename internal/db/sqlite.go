package db

import (
	"database/sql"
	"errors"
	"strconv"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the embedded SQLite driver (modernc.org/sqlite). The DSN is a
// file path or file: URI; there is no server, so "server version" is the
// library version.
func SQLite() Driver {
	return &sqlDriver{dialect: sqlDialect{
		name: "sqlite",
		open: func(dsn string) (*sql.DB, error) {
			return sql.Open("sqlite", dsn)
		},
		classify:           classifySQLite,
		serverVersionQuery: "SELECT sqlite_version()",
		versionQuery:       "SELECT 'SQLite ' || sqlite_version()",
		databaseQuery:      "SELECT file FROM pragma_database_list WHERE name = 'main'",
	}}
}

func classifySQLite(err error) (Kind, string, bool) {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return KindGeneral, "", false
	}
	code := se.Code()
	// Extended result codes carry the primary code in the low byte.
	switch code & 0xff {
	case sqlite3.SQLITE_CANTOPEN:
		return KindDatabaseNotFound, strconv.Itoa(code), true
	case sqlite3.SQLITE_AUTH, sqlite3.SQLITE_PERM:
		return KindAuthentication, strconv.Itoa(code), true
	default:
		return KindDatabaseLayer, strconv.Itoa(code), true
	}
}
