// Package database is the public handle for a watched SQLite database.
//
// A Database composes one core.Executor with one changes.Reporter: every
// query goes through the Executor's queue, every write the Executor makes
// is reported to the Reporter, and callers subscribe to per-table change
// notifications.
//
// # Path Exclusivity
//
// A Registry holds the set of file paths open in the process. OpenFile
// claims the absolute path before touching the file and Close releases it,
// so two handles can never write the same file through separate
// connections and miss each other's changes. In-memory databases are
// private to their handle and are never registered.
//
// # Database Configuration
//
//   - WAL mode: file databases opened read-write
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout: Options.BusyTimeout, 5 seconds by default
//   - foreign_keys=ON: Enforce referential integrity
//
// # Table Resolution
//
// Resolve runs a Resolver once per table name, inside a transaction, before
// the table is first used. Migrations is the stock Resolver: a list of DDL
// steps applied incrementally with the applied version recorded per table.
package database
