package database

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/litewatch/internal/changes"
	"github.com/roach88/litewatch/internal/core"
	"github.com/roach88/litewatch/internal/metrics"
	"github.com/roach88/litewatch/internal/value"
)

// Options are independently combinable open flags.
type Options struct {
	// ReadOnly opens the file read-only. Write operations panic.
	ReadOnly bool

	// DebugPrintEveryQuery logs every statement at Info level.
	DebugPrintEveryQuery bool

	// DebugPrintEveryReportedChange logs every reported change and every
	// dispatched notification at Info level.
	DebugPrintEveryReportedChange bool

	// SendLegacyChangeNotifications additionally publishes every change to
	// SubscribeAll subscribers.
	SendLegacyChangeNotifications bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// BusyTimeout defaults to core.DefaultBusyTimeout.
	BusyTimeout time.Duration
}

// Database is the handle callers use: one Executor serializing access to
// the file, and one Reporter turning its writes into change notifications.
//
// Thread-safety: all methods are safe for concurrent use.
type Database struct {
	id       uuid.UUID
	path     string
	registry *Registry
	key      string
	exec     *core.Executor
	reporter *changes.Reporter
	logger   *slog.Logger

	resolveGroup singleflight.Group
	resolvedMu   sync.Mutex
	resolved     map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

// OpenFile opens the database file at path, claiming it in reg.
//
// A path already open through reg fails with core.ErrCodePathConflict
// before anything is touched on disk. An empty path or core.MemoryPath
// opens a private in-memory database instead.
func OpenFile(ctx context.Context, reg *Registry, path string, opts Options) (*Database, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	key, err := reg.Acquire(path)
	if err != nil {
		return nil, err
	}

	reporter := changes.New(changes.Options{
		Logger:  logger,
		Verbose: opts.DebugPrintEveryReportedChange,
		Legacy:  opts.SendLegacyChangeNotifications,
	})

	c, err := core.Open(ctx, core.Config{
		Path:        path,
		ReadOnly:    opts.ReadOnly,
		LogQueries:  opts.DebugPrintEveryQuery,
		BusyTimeout: opts.BusyTimeout,
		Logger:      logger,
		Sink:        reporter,
	})
	if err != nil {
		reporter.Close()
		reg.Release(key)
		return nil, err
	}

	db := &Database{
		id:       uuid.Must(uuid.NewV7()),
		path:     path,
		registry: reg,
		key:      key,
		exec:     core.NewExecutor(c, core.WithLogger(logger)),
		reporter: reporter,
		logger:   logger,
		resolved: make(map[string]struct{}),
	}
	metrics.OpenDatabases.Inc()
	logger.Debug("database opened", "id", db.id, "path", path, "read_only", opts.ReadOnly)

	return db, nil
}

// OpenInMemory opens a private in-memory database. It never conflicts.
func OpenInMemory(ctx context.Context, reg *Registry, opts Options) (*Database, error) {
	return OpenFile(ctx, reg, core.MemoryPath, opts)
}

// ID identifies this open instance. Reopening the same file yields a new ID.
func (db *Database) ID() uuid.UUID {
	return db.id
}

// Path returns the path the database was opened with.
func (db *Database) Path() string {
	return db.path
}

// ReadOnly reports whether the database was opened read-only.
func (db *Database) ReadOnly() bool {
	return db.exec.ReadOnly()
}

// Execute runs multi-statement SQL without arguments.
func (db *Database) Execute(ctx context.Context, sqlText string) error {
	return db.exec.Execute(ctx, sqlText)
}

// Query runs one statement with positional arguments.
func (db *Database) Query(ctx context.Context, sqlText string, args ...any) ([]value.Row, error) {
	return db.exec.Query(ctx, sqlText, args...)
}

// QueryNamed runs one statement with named arguments.
func (db *Database) QueryNamed(ctx context.Context, sqlText string, args map[string]any) ([]value.Row, error) {
	return db.exec.QueryNamed(ctx, sqlText, args)
}

// WriteKeyed runs a write whose changed primary keys are already known, so
// subscribers of table see those keys rather than a whole-table change.
func (db *Database) WriteKeyed(ctx context.Context, table string, keys []value.Value, sqlText string, args ...any) ([]value.Row, error) {
	return db.exec.WriteKeyed(ctx, table, keys, sqlText, args...)
}

// Transaction runs action atomically. Any error rolls everything back.
func (db *Database) Transaction(ctx context.Context, action func(ctx context.Context, tx *core.Core) error) error {
	return db.exec.Transaction(ctx, action)
}

// CancellableTransaction runs action atomically and commits only when it
// returns true.
func (db *Database) CancellableTransaction(ctx context.Context, action func(ctx context.Context, tx *core.Core) (bool, error)) (bool, error) {
	return db.exec.CancellableTransaction(ctx, action)
}

// Subscribe returns a subscription to changes of table.
func (db *Database) Subscribe(table string) *changes.Subscription {
	return db.reporter.Subscribe(table)
}

// SubscribeAll returns a subscription to every table's changes. It only
// receives anything when SendLegacyChangeNotifications was set.
func (db *Database) SubscribeAll() *changes.Subscription {
	return db.reporter.SubscribeAll()
}

// Settle blocks until every change from completed operations has been
// handed to subscribers.
func (db *Database) Settle(ctx context.Context) error {
	return db.reporter.Settle(ctx)
}

// Close waits for queued operations, closes the connection, delivers any
// final notifications and releases the path. Idempotent.
//
// If ctx ends first, Close returns its error and the shutdown carries on in
// the background; the path stays held until a later Close sees it finish.
func (db *Database) Close(ctx context.Context) error {
	err := db.exec.Close(ctx)
	if !db.exec.Stopped() {
		return err
	}
	db.closeOnce.Do(func() {
		db.closeErr = err
		db.reporter.Close()
		db.registry.Release(db.key)
		metrics.OpenDatabases.Dec()
		db.logger.Debug("database closed", "id", db.id, "path", db.path)
	})
	return db.closeErr
}
