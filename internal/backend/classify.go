package backend

import (
	"database/sql"
	"database/sql/driver"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	"github.com/mattn/go-sqlite3"

	"media-catalog/internal/dbparams"
)

// ErrorKind is how the backend reacts to a failed statement.
type ErrorKind int

const (
	// KindNone errors are returned to the caller unchanged.
	KindNone ErrorKind = iota
	// KindContention errors (busy, locked, deadlock) are retried locally.
	KindContention
	// KindConnectionLost errors reconnect the goroutine's connection and retry.
	KindConnectionLost
	// KindNeedsUser errors are handed to the error policy right away.
	KindNeedsUser
)

func (k ErrorKind) String() string {
	switch k {
	case KindContention:
		return "contention"
	case KindConnectionLost:
		return "connection-lost"
	case KindNeedsUser:
		return "needs-user"
	default:
		return "none"
	}
}

// Classifier maps a driver error onto an ErrorKind.
type Classifier func(error) ErrorKind

// ClassifierFor returns the classifier for an engine's dialect.
func ClassifierFor(engine dbparams.Engine) Classifier {
	if engine == dbparams.EngineNetworkSQL {
		return ClassifyMySQL
	}
	return ClassifySQLite
}

func isConnectionLost(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// ClassifySQLite classifies errors from github.com/mattn/go-sqlite3.
func ClassifySQLite(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if isConnectionLost(err) {
		return KindConnectionLost
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return KindContention
		case sqlite3.ErrCorrupt, sqlite3.ErrNotADB, sqlite3.ErrFull, sqlite3.ErrReadonly:
			return KindNeedsUser
		}
		return KindNone
	}

	// Errors that lost their type on the way up still carry the message.
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return KindContention
	}
	return KindNone
}

// MySQL server and client error numbers the backend reacts to.
const (
	mysqlLockWaitTimeout   = 1205
	mysqlDeadlock          = 1213
	mysqlTableReadOnly     = 1036
	mysqlTableFull         = 1114
	mysqlServerGone        = 2006
	mysqlServerLost        = 2013
	mysqlAccessDenied      = 1045
	mysqlDatabaseAccessErr = 1044
)

// ClassifyMySQL classifies errors from github.com/go-sql-driver/mysql.
func ClassifyMySQL(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if isConnectionLost(err) || errors.Is(err, mysql.ErrInvalidConn) {
		return KindConnectionLost
	}

	var me *mysql.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case mysqlLockWaitTimeout, mysqlDeadlock:
			return KindContention
		case mysqlServerGone, mysqlServerLost:
			return KindConnectionLost
		case mysqlTableReadOnly, mysqlTableFull, mysqlAccessDenied, mysqlDatabaseAccessErr:
			return KindNeedsUser
		}
	}
	return KindNone
}
