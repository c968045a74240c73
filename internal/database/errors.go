package database

import (
	"context"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	bserr "bitespeed/pkg/errors"
)

// transient PostgreSQL conditions: deadlock, serialization failure, lock
// not available, query canceled, too many connections.
var retryablePQCodes = map[pq.ErrorCode]struct{}{
	"40P01": {},
	"40001": {},
	"55P03": {},
	"57014": {},
	"53300": {},
}

// classify wraps a driver error as store.database.unavailable when retrying
// the whole reconciliation may succeed, store.database.failure otherwise.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if bserr.CodeOf(err) != "" {
		return err
	}
	code := bserr.CodeStoreDatabaseFailure
	if isTransient(err) {
		code = bserr.CodeStoreDatabaseUnavailable
	}
	return bserr.Wrap(err, code, msg)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if _, ok := retryablePQCodes[pqErr.Code]; ok {
			return true
		}
		// class 08: connection exception
		return pqErr.Code.Class() == "08"
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}
	return false
}
