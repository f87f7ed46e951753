package database

import (
	"context"
	"fmt"

	"github.com/roach88/litewatch/internal/core"
	"github.com/roach88/litewatch/internal/value"
)

// SchemaVersionsTable records how far each table's migrations have run.
const SchemaVersionsTable = "_litewatch_schema"

const createSchemaVersions = `CREATE TABLE IF NOT EXISTS ` + SchemaVersionsTable + ` (
	table_name TEXT PRIMARY KEY,
	version INTEGER NOT NULL
)`

// Migrations is a Resolver that brings one table's schema up to date.
//
// Steps[i] migrates the table from version i to version i+1; the first
// step normally creates it. Versions are tracked per table, so tables can
// be migrated independently and in any order.
//
// Steps must be append-only: once a database has run a step, editing it
// has no effect on that database.
type Migrations struct {
	Table string
	Steps []string
}

// ResolveWithDatabase applies every step the table has not seen yet.
func (m Migrations) ResolveWithDatabase(ctx context.Context, _ *Database, tx *core.Core) error {
	if err := tx.Execute(ctx, createSchemaVersions); err != nil {
		return fmt.Errorf("create %s: %w", SchemaVersionsTable, err)
	}

	version, err := SchemaVersion(ctx, tx, m.Table)
	if err != nil {
		return err
	}
	if version > len(m.Steps) {
		return fmt.Errorf("table %s is at version %d, newer than the %d known steps", m.Table, version, len(m.Steps))
	}

	// Apply migrations sequentially
	for i := version; i < len(m.Steps); i++ {
		if err := tx.Execute(ctx, m.Steps[i]); err != nil {
			return fmt.Errorf("migrate %s to v%d: %w", m.Table, i+1, err)
		}
	}

	if version == len(m.Steps) {
		return nil
	}
	_, err = tx.Query(ctx,
		"INSERT INTO "+SchemaVersionsTable+" (table_name, version) VALUES (?, ?) "+
			"ON CONFLICT(table_name) DO UPDATE SET version = excluded.version",
		m.Table, len(m.Steps))
	if err != nil {
		return fmt.Errorf("set %s version: %w", m.Table, err)
	}
	return nil
}

// SchemaVersion returns the number of migration steps applied to table, or
// zero if none have run.
func SchemaVersion(ctx context.Context, tx *core.Core, table string) (int, error) {
	rows, err := tx.Query(ctx,
		"SELECT version FROM "+SchemaVersionsTable+" WHERE table_name = ?", table)
	if err != nil {
		return 0, fmt.Errorf("get %s version: %w", table, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	v, ok := value.Int(rows[0].Values[0])
	if !ok {
		return 0, fmt.Errorf("get %s version: not an integer: %s", table, value.Literal(rows[0].Values[0]))
	}
	return int(v), nil
}
