package db

import (
	"database/sql"
	"errors"
	"strconv"

	mssql "github.com/microsoft/go-mssqldb"
)

// SQL Server error numbers with a dedicated category.
const (
	mssqlLoginFailed    = 18456
	mssqlCannotOpenDB   = 4060
	mssqlNetworkFailure = -1
	mssqlServerNotFound = 53
)

// SQLServer is the Microsoft SQL Server driver (go-mssqldb).
func SQLServer() Driver {
	return &sqlDriver{dialect: sqlDialect{
		name:               "sqlserver",
		open:               openMSSQL,
		classify:           classifyMSSQL,
		serverVersionQuery: "SELECT CAST(SERVERPROPERTY('ProductVersion') AS nvarchar(128))",
		versionQuery:       "SELECT @@VERSION",
		databaseQuery:      "SELECT DB_NAME()",
	}}
}

// Dial and lookup failures reach Classify as wrapped net errors.
func openMSSQL(dsn string) (*sql.DB, error) {
	c, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(c), nil
}

func classifyMSSQL(err error) (Kind, string, bool) {
	var me mssql.Error
	if !errors.As(err, &me) {
		return KindGeneral, "", false
	}
	code := strconv.Itoa(int(me.Number))
	switch me.Number {
	case mssqlLoginFailed:
		return KindAuthentication, code, true
	case mssqlCannotOpenDB:
		return KindDatabaseNotFound, code, true
	case mssqlNetworkFailure, mssqlServerNotFound:
		return KindServerUnreachable, code, true
	default:
		return KindDatabaseLayer, code, true
	}
}
