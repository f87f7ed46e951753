// Package core implements serialized access to one SQLite connection.
//
// ARCHITECTURE:
//
// Core owns the connection, the prepared statement cache and the
// transaction window clock. It has no locking of its own.
//
// Executor puts a FIFO queue and a single worker goroutine in front of a
// Core. Every public operation becomes one queued unit of work, so there is
// never more than one statement mid-execution on the connection, and
// operations run in the order they were accepted.
//
// Statement lifecycle:
//  1. prepare: compile once per distinct SQL text, cache until Close
//  2. bind: arguments are converted through value.FromNative
//  3. step: rows are materialized by their runtime storage class
//  4. reset: rows are always closed, even after a failed step
//
// Transaction windows:
// Every Execute, Query, WriteKeyed and Transaction takes a fresh id from
// the Clock and brackets itself with BeginTransaction/EndTransaction on the
// ChangeSink. The sink flushes notifications only once no window is open.
//
// Transactions are SAVEPOINTs named after their window id, so they nest:
// an inner rollback leaves the outer transaction running, and an inner
// release only becomes durable when the outermost savepoint is released.
//
// KNOWN HAZARD: an action that calls back into its own Executor would wait
// on itself. The Executor detects this through the context it hands to the
// action and fails with ErrCodeReentrant; an action that discards that
// context and uses context.Background() will still deadlock.
package core
