// Package remote holds the implementations of core.Remote and the guard
// that classifies their failures.
package remote

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/sony/gobreaker/v2"

	"github.com/rzpsarthak13/offlinesync/internal/core"
)

// MySQL server error numbers that are worth retrying.
const (
	mysqlTooManyConnections = 1040
	mysqlServerShutdown     = 1053
	mysqlLockWaitTimeout    = 1205
	mysqlDeadlock           = 1213
	mysqlDuplicateEntry     = 1062
)

// IsTransient reports whether err is a failure that may succeed on retry:
// timeouts, connection problems, an open breaker or an overloaded server.
// Errors nobody recognizes are treated as transient so writes are retried
// rather than dropped.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, core.ErrRemoteTransient):
		return true
	case errors.Is(err, core.ErrRemotePermanent), errors.Is(err, core.ErrRemoteNotFound):
		return false
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return true
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, mysql.ErrInvalidConn), errors.Is(err, sql.ErrConnDone):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlTooManyConnections, mysqlServerShutdown, mysqlLockWaitTimeout, mysqlDeadlock:
			return true
		}
		return false
	}

	return true
}

// Outcome names the result label used for metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrRemoteNotFound):
		return "not_found"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
