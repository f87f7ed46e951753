package core

import (
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/litewatch/internal/value"
)

// WriteFunc receives one row-level write from the engine.
// op is one of sqlite3.SQLITE_INSERT, SQLITE_UPDATE or SQLITE_DELETE.
type WriteFunc func(op int, database, table string, rowid int64)

// DeleteFunc receives the table of every DELETE the engine compiles,
// including ones inside triggers. It runs while a statement is prepared,
// not when it runs.
type DeleteFunc func(database, table string)

// WriteHook installs engine callbacks on a raw driver connection.
type WriteHook interface {
	Install(driverConn any, write WriteFunc, deletes DeleteFunc) error
	Remove(driverConn any) error
}

// SQLiteUpdateHook installs a WriteFunc through sqlite3_update_hook and a
// DeleteFunc through sqlite3_set_authorizer.
//
// The update hook alone misses "DELETE FROM t" without a WHERE clause:
// SQLite clears the table in one truncate step and skips the hook. The
// authorizer sees that statement when it is compiled. It always answers
// SQLITE_OK; SQLITE_IGNORE would also disable the truncate, but DROP TABLE
// asks the same question and would silently do nothing.
type SQLiteUpdateHook struct{}

// Install registers write as the update hook and deletes as the authorizer.
func (SQLiteUpdateHook) Install(driverConn any, write WriteFunc, deletes DeleteFunc) error {
	sc, ok := driverConn.(*sqlite3.SQLiteConn)
	if !ok {
		return fmt.Errorf("update hook: unexpected driver connection %T", driverConn)
	}
	sc.RegisterUpdateHook(write)
	sc.RegisterAuthorizer(func(action int, arg1, _, database string) int {
		if action == sqlite3.SQLITE_DELETE {
			deletes(database, arg1)
		}
		return sqlite3.SQLITE_OK
	})
	return nil
}

// Remove unregisters both callbacks.
func (SQLiteUpdateHook) Remove(driverConn any) error {
	sc, ok := driverConn.(*sqlite3.SQLiteConn)
	if !ok {
		return fmt.Errorf("update hook: unexpected driver connection %T", driverConn)
	}
	sc.RegisterUpdateHook(nil)
	sc.RegisterAuthorizer(nil)
	return nil
}

// ChangeSink receives change reports and window bracketing from a Core.
// *changes.Reporter implements it.
type ChangeSink interface {
	ReportChange(table string, key value.Value)
	BeginTransaction(id int64)
	EndTransaction(id int64)
	IgnoreWritesToTable(table string)
	StopIgnoringWrites(table string)
}

// sinkRef boxes a ChangeSink so it can sit behind an atomic.Pointer.
type sinkRef struct {
	ChangeSink
}
