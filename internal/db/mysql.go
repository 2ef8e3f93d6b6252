package db

import (
	"database/sql"
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

const (
	mysqlDBAccessDenied = 1044
	mysqlAccessDenied   = 1045
	mysqlBadDB          = 1049
)

// MySQL is the MySQL/MariaDB driver (go-sql-driver/mysql).
func MySQL() Driver {
	return &sqlDriver{dialect: sqlDialect{
		name: "mysql",
		open: func(dsn string) (*sql.DB, error) {
			// sql.Open parses the DSN up front for this driver.
			return sql.Open("mysql", dsn)
		},
		classify:           classifyMySQL,
		serverVersionQuery: "SELECT VERSION()",
		versionQuery:       "SELECT CONCAT(@@version_comment, ' ', VERSION())",
		databaseQuery:      "SELECT DATABASE()",
	}}
}

func classifyMySQL(err error) (Kind, string, bool) {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		code := strconv.Itoa(int(me.Number))
		switch me.Number {
		case mysqlAccessDenied, mysqlDBAccessDenied:
			return KindAuthentication, code, true
		case mysqlBadDB:
			return KindDatabaseNotFound, code, true
		default:
			return KindDatabaseLayer, code, true
		}
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return KindDatabaseLayer, "", true
	}
	return KindGeneral, "", false
}
