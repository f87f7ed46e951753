package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/litewatch/internal/testutil"
	"github.com/roach88/litewatch/internal/value"
)

// createTestCore opens a file-backed Core in a temp dir.
func createTestCore(t *testing.T, sink ChangeSink) *Core {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	c, err := Open(context.Background(), Config{Path: path, Logger: testutil.DiscardLogger(), Sink: sink})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// createTestExecutor opens an in-memory Executor.
func createTestExecutor(t *testing.T, sink ChangeSink) *Executor {
	t.Helper()
	c, err := Open(context.Background(), Config{Logger: testutil.DiscardLogger(), Sink: sink})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	e := NewExecutor(c)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

const testSchema = `
CREATE TABLE items (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	price REAL,
	data BLOB
);
CREATE UNIQUE INDEX idx_items_name ON items(name);
`

func countItems(t *testing.T, c *Core) int64 {
	t.Helper()
	rows, err := c.Query(context.Background(), "SELECT COUNT(*) AS n FROM items")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	n, _ := value.Int(rows[0].Values[0])
	return n
}
