package database

import (
	"context"
	"fmt"

	"github.com/roach88/litewatch/internal/core"
)

// Resolver prepares a table before its first use, typically by creating or
// migrating it. It runs inside a transaction on the database's worker and
// must do all of its work through tx.
type Resolver interface {
	ResolveWithDatabase(ctx context.Context, db *Database, tx *core.Core) error
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, db *Database, tx *core.Core) error

// ResolveWithDatabase calls f.
func (f ResolverFunc) ResolveWithDatabase(ctx context.Context, db *Database, tx *core.Core) error {
	return f(ctx, db, tx)
}

// Resolve runs resolver for table once for the lifetime of db, then calls
// validate (if non-nil) outside the transaction. Later calls for the same
// table return nil immediately. Concurrent first calls share one run.
//
// A failed resolver rolls back and leaves the table unresolved, so the
// next call retries. Resolve must not be called from inside a transaction
// action on db.
func (db *Database) Resolve(ctx context.Context, table string, resolver Resolver, validate func() error) error {
	if db.isResolved(table) {
		return nil
	}

	_, err, _ := db.resolveGroup.Do(table, func() (any, error) {
		if db.isResolved(table) {
			return nil, nil
		}

		err := db.exec.Transaction(ctx, func(ctx context.Context, tx *core.Core) error {
			return resolver.ResolveWithDatabase(ctx, db, tx)
		})
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", table, err)
		}
		if validate != nil {
			if err := validate(); err != nil {
				return nil, fmt.Errorf("validate %s: %w", table, err)
			}
		}

		db.resolvedMu.Lock()
		db.resolved[table] = struct{}{}
		db.resolvedMu.Unlock()
		db.logger.Debug("table resolved", "table", table)
		return nil, nil
	})
	return err
}

// Resolved reports whether table has been resolved.
func (db *Database) Resolved(table string) bool {
	return db.isResolved(table)
}

func (db *Database) isResolved(table string) bool {
	db.resolvedMu.Lock()
	defer db.resolvedMu.Unlock()
	_, ok := db.resolved[table]
	return ok
}
