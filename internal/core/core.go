package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/litewatch/internal/metrics"
	"github.com/roach88/litewatch/internal/value"
)

// MemoryPath is the conventional path for an in-memory database.
const MemoryPath = ":memory:"

// DefaultBusyTimeout is how long SQLite waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Config describes how to open a Core.
type Config struct {
	// Path is the database file. Empty or MemoryPath opens an in-memory database.
	Path string

	// ReadOnly opens the file read-only. Write operations panic.
	ReadOnly bool

	// LogQueries logs every statement at Info level instead of Debug.
	LogQueries bool

	// BusyTimeout defaults to DefaultBusyTimeout.
	BusyTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Hook installs the raw write hook. Defaults to SQLiteUpdateHook.
	Hook WriteHook

	// Sink receives change reports. May be nil.
	Sink ChangeSink
}

// IsMemoryPath reports whether path names an in-memory database.
func IsMemoryPath(path string) bool {
	return path == "" || path == MemoryPath
}

// Core owns one SQLite connection and its prepared statements.
//
// Core does no locking of its own: it must only be used by one goroutine at
// a time. The Executor's worker is that goroutine in production; Transaction
// actions receive the Core directly and run on it too.
//
// Every operation opens and closes its own transaction window with the
// ChangeSink so that writes are always attributed to some window.
type Core struct {
	db         *sql.DB
	conn       *sql.Conn
	stmts      map[string]*sql.Stmt
	params     map[string]placeholders
	deletes    map[string][]string // Tables each cached statement deletes from
	compiled   []string            // Tables deleted from by the last compile
	clock      *Clock
	sink       atomic.Pointer[sinkRef]
	hook       WriteHook
	logger     *slog.Logger
	readOnly   bool
	logQueries bool
	closed     bool
}

// Open opens the database described by cfg, applies the connection pragmas
// and installs the write hook.
//
// The database is configured with:
//   - WAL journal mode (file databases opened read-write)
//   - NORMAL synchronous mode
//   - busy_timeout from cfg
//   - foreign key enforcement
func Open(ctx context.Context, cfg Config) (*Core, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hook := cfg.Hook
	if hook == nil {
		hook = SQLiteUpdateHook{}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	dsn, err := dataSourceName(cfg.Path, cfg.ReadOnly)
	if err != nil {
		return nil, newError(ErrCodeOpenFailure, "open", "", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, newError(ErrCodeOpenFailure, "open", "", fmt.Errorf("failed to open database: %w", err))
	}

	// One connection, pinned for the lifetime of the Core. An in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, newError(ErrCodeOpenFailure, "open", "", fmt.Errorf("failed to connect to database: %w", err))
	}

	c := &Core{
		db:         db,
		conn:       conn,
		stmts:      make(map[string]*sql.Stmt),
		params:     make(map[string]placeholders),
		deletes:    make(map[string][]string),
		clock:      NewClock(),
		hook:       hook,
		logger:     logger,
		readOnly:   cfg.ReadOnly,
		logQueries: cfg.LogQueries,
	}
	c.SetSink(cfg.Sink)

	if err := c.applyPragmas(ctx, !IsMemoryPath(cfg.Path) && !cfg.ReadOnly, busy); err != nil {
		c.Close()
		return nil, newError(ErrCodeOpenFailure, "open", "", fmt.Errorf("failed to apply pragmas: %w", err))
	}

	err = conn.Raw(func(driverConn any) error {
		return hook.Install(driverConn, c.onWrite, c.onDelete)
	})
	if err != nil {
		c.Close()
		return nil, newError(ErrCodeOpenFailure, "open", "", err)
	}

	return c, nil
}

// dataSourceName builds the go-sqlite3 DSN for path.
func dataSourceName(path string, readOnly bool) (string, error) {
	if IsMemoryPath(path) {
		return MemoryPath, nil
	}
	if !readOnly {
		return path, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}
	return u.String(), nil
}

// applyPragmas sets the required SQLite configuration on the pinned conn.
func (c *Core) applyPragmas(ctx context.Context, wal bool, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA foreign_keys = ON",
	}
	if wal {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := c.conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// SetSink replaces the ChangeSink. A nil sink detaches change reporting;
// the Core keeps working without notifications.
func (c *Core) SetSink(s ChangeSink) {
	if s == nil {
		c.sink.Store(nil)
		return
	}
	c.sink.Store(&sinkRef{s})
}

func (c *Core) currentSink() ChangeSink {
	if ref := c.sink.Load(); ref != nil {
		return ref.ChangeSink
	}
	return nil
}

// onWrite is the raw engine write hook. The hook only knows the rowid, not
// the primary key, so every raw write is reported as a whole-table change.
func (c *Core) onWrite(_ int, _ string, table string, _ int64) {
	if s := c.currentSink(); s != nil {
		s.ReportChange(table, nil)
	}
}

// onDelete runs while SQLite compiles a statement that deletes from table.
// Internal sqlite_ tables are not reported.
func (c *Core) onDelete(_, table string) {
	if table == "" || strings.HasPrefix(table, "sqlite_") {
		return
	}
	c.compiled = append(c.compiled, table)
}

// reportWholeTables reports each table as wholly changed. It covers
// deletes the update hook does not see.
func (c *Core) reportWholeTables(tables []string) {
	s := c.currentSink()
	if s == nil {
		return
	}
	for _, table := range tables {
		s.ReportChange(table, nil)
	}
}

// ReadOnly reports whether the Core was opened read-only.
func (c *Core) ReadOnly() bool {
	return c.readOnly
}

// Closed reports whether Close has been called.
func (c *Core) Closed() bool {
	return c.closed
}

// Execute runs sqlText, which may hold several statements, without
// arguments and without the statement cache. It returns no rows.
func (c *Core) Execute(ctx context.Context, sqlText string) error {
	if c.closed {
		return closedError("execute")
	}
	c.mustBeWritable("execute")

	id := c.beginWindow()
	defer c.endWindow(id)

	c.logQuery("execute", sqlText, 0)
	c.compiled = c.compiled[:0]
	_, err := c.conn.ExecContext(ctx, sqlText)
	// Statements before a failing one stay applied.
	c.reportWholeTables(c.compiled)
	if err != nil {
		return newError(ErrCodeExecutionFailure, "execute", sqlText, err)
	}
	return nil
}

// Query runs one statement with positional arguments and materializes every
// result row. Statements that return no rows yield an empty slice.
//
// Arguments go through value.FromNative; anything it rejects fails with
// ErrCodeBindFailure.
func (c *Core) Query(ctx context.Context, sqlText string, args ...any) ([]value.Row, error) {
	if c.closed {
		return nil, closedError("query")
	}

	bound := make([]any, len(args))
	for i, a := range args {
		v, err := value.FromNative(a)
		if err != nil {
			return nil, newError(ErrCodeBindFailure, "query", sqlText, fmt.Errorf("argument %d: %w", i+1, err))
		}
		bound[i] = value.Native(v)
	}

	id := c.beginWindow()
	defer c.endWindow(id)

	return c.query(ctx, "query", sqlText, bound)
}

// QueryNamed runs one statement with named arguments. Keys may be given
// with their ':', '@' or '$' prefix or bare. A key that matches no
// placeholder in sqlText fails with ErrCodeUnknownParameter.
func (c *Core) QueryNamed(ctx context.Context, sqlText string, args map[string]any) ([]value.Row, error) {
	if c.closed {
		return nil, closedError("query")
	}

	p := c.placeholdersFor(sqlText)

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bound := make([]any, 0, len(args))
	for _, k := range keys {
		name := bareName(k)
		if _, ok := p.names[name]; !ok {
			return nil, newError(ErrCodeUnknownParameter, "query", sqlText, fmt.Errorf("no placeholder named %q", k))
		}
		v, err := value.FromNative(args[k])
		if err != nil {
			return nil, newError(ErrCodeBindFailure, "query", sqlText, fmt.Errorf("argument %q: %w", k, err))
		}
		bound = append(bound, sql.Named(name, value.Native(v)))
	}

	id := c.beginWindow()
	defer c.endWindow(id)

	return c.query(ctx, "query", sqlText, bound)
}

// WriteKeyed runs a write whose affected primary keys the caller already
// knows. The raw write hook is suppressed for table while the statement
// runs, and keys are reported explicitly afterwards, so subscribers see the
// precise keys instead of a whole-table change. An empty keys slice reports
// the whole table.
func (c *Core) WriteKeyed(ctx context.Context, table string, keys []value.Value, sqlText string, args ...any) ([]value.Row, error) {
	if c.closed {
		return nil, closedError("write")
	}
	c.mustBeWritable("write")

	id := c.beginWindow()
	defer c.endWindow(id)

	sink := c.currentSink()
	if sink != nil {
		sink.IgnoreWritesToTable(table)
	}
	rows, err := c.Query(ctx, sqlText, args...)
	if sink != nil {
		sink.StopIgnoringWrites(table)
	}
	if err != nil {
		return nil, err
	}

	if sink != nil {
		if len(keys) == 0 {
			sink.ReportChange(table, nil)
		}
		for _, k := range keys {
			sink.ReportChange(table, k)
		}
	}
	return rows, nil
}

// Transaction runs action inside a savepoint. The savepoint is released if
// action returns nil and rolled back otherwise; action's error is returned.
// Transactions nest.
func (c *Core) Transaction(ctx context.Context, action func(ctx context.Context, tx *Core) error) error {
	_, err := c.CancellableTransaction(ctx, func(ctx context.Context, tx *Core) (bool, error) {
		return true, action(ctx, tx)
	})
	return err
}

// CancellableTransaction runs action inside a savepoint and commits only if
// action returns true with no error. Returning false rolls back without
// an error. committed reports whether the savepoint was released with its
// changes.
//
// If action panics, the savepoint is rolled back before the panic
// continues.
func (c *Core) CancellableTransaction(ctx context.Context, action func(ctx context.Context, tx *Core) (bool, error)) (committed bool, err error) {
	if c.closed {
		return false, closedError("transaction")
	}
	c.mustBeWritable("transaction")

	id := c.beginWindow()
	defer c.endWindow(id)

	name := savepointName(id)
	if _, err := c.conn.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return false, newError(ErrCodeExecutionFailure, "transaction", "SAVEPOINT "+name, err)
	}

	finished := false
	defer func() {
		if !finished {
			// Panicking action; undo and let the panic continue.
			_ = c.rollbackTo(name)
		}
	}()

	commit, actionErr := action(ctx, c)
	finished = true

	if actionErr != nil || !commit {
		if rbErr := c.rollbackTo(name); rbErr != nil {
			return false, errors.Join(actionErr, rbErr)
		}
		return false, actionErr
	}

	if _, err := c.conn.ExecContext(context.WithoutCancel(ctx), "RELEASE SAVEPOINT "+name); err != nil {
		_ = c.rollbackTo(name)
		return false, newError(ErrCodeExecutionFailure, "transaction", "RELEASE SAVEPOINT "+name, err)
	}
	return true, nil
}

// rollbackTo undoes everything since the savepoint and removes it.
// It ignores cancellation so an abandoned caller still leaves no partial
// commit behind.
func (c *Core) rollbackTo(name string) error {
	ctx := context.Background()
	stmt := "ROLLBACK TO SAVEPOINT " + name + "; RELEASE SAVEPOINT " + name
	if _, err := c.conn.ExecContext(ctx, stmt); err != nil {
		return newError(ErrCodeExecutionFailure, "rollback", stmt, err)
	}
	return nil
}

// Close finalizes every cached statement and releases the connection.
// Idempotent; after Close every operation fails with ErrCodeClosed.
func (c *Core) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	for text, stmt := range c.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close statement %q: %w", text, err))
		}
	}
	c.stmts = nil
	c.params = nil
	c.deletes = nil

	_ = c.conn.Raw(func(driverConn any) error {
		return c.hook.Remove(driverConn)
	})
	if err := c.conn.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close connection: %w", err))
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close database: %w", err))
	}
	c.SetSink(nil)

	return errors.Join(errs...)
}

// CachedStatements returns the number of prepared statements held.
func (c *Core) CachedStatements() int {
	return len(c.stmts)
}

// query runs a cached statement to completion. Rows are always closed,
// which resets the statement for reuse; failure to reset is an execution
// failure even when stepping succeeded.
func (c *Core) query(ctx context.Context, op, sqlText string, args []any) (rows []value.Row, err error) {
	stmt, err := c.prepare(ctx, op, sqlText)
	if err != nil {
		return nil, err
	}

	c.logQuery(op, sqlText, len(args))

	r, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, classifyQueryError(op, sqlText, err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil && err == nil {
			rows, err = nil, newError(ErrCodeExecutionFailure, op, sqlText, fmt.Errorf("reset statement: %w", closeErr))
		}
	}()

	columns, err := r.Columns()
	if err != nil {
		return nil, newError(ErrCodeExecutionFailure, op, sqlText, err)
	}

	rows = []value.Row{}
	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for r.Next() {
		if err := r.Scan(ptrs...); err != nil {
			return nil, newError(ErrCodeResultDecoding, op, sqlText, err)
		}
		vals := make([]value.Value, len(columns))
		for i, v := range raw {
			decoded, err := decodeColumn(columns[i], v)
			if err != nil {
				return nil, newError(ErrCodeResultDecoding, op, sqlText, err)
			}
			vals[i] = decoded
		}
		rows = append(rows, value.NewRow(columns, vals))
	}
	if err := r.Err(); err != nil {
		return nil, newError(ErrCodeExecutionFailure, op, sqlText, err)
	}
	c.reportWholeTables(c.deletes[sqlText])

	return rows, nil
}

// prepare returns the cached statement for sqlText, compiling it on first use.
func (c *Core) prepare(ctx context.Context, op, sqlText string) (*sql.Stmt, error) {
	if stmt, ok := c.stmts[sqlText]; ok {
		return stmt, nil
	}
	c.compiled = c.compiled[:0]
	stmt, err := c.conn.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, newError(ErrCodePrepareFailure, op, sqlText, err)
	}
	c.stmts[sqlText] = stmt
	if len(c.compiled) > 0 {
		c.deletes[sqlText] = slices.Clone(c.compiled)
	}
	metrics.StatementsPreparedTotal.Inc()
	return stmt, nil
}

func (c *Core) placeholdersFor(sqlText string) placeholders {
	if p, ok := c.params[sqlText]; ok {
		return p
	}
	p := scanPlaceholders(sqlText)
	c.params[sqlText] = p
	return p
}

// classifyQueryError separates binding problems, which database/sql and
// the driver report before the first step, from engine failures.
func classifyQueryError(op, sqlText string, err error) *Error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code != sqlite3.ErrRange {
		return newError(ErrCodeExecutionFailure, op, sqlText, err)
	}
	return newError(ErrCodeBindFailure, op, sqlText, err)
}

// decodeColumn maps a driver value onto a Value by its runtime type.
//
// go-sqlite3 rewrites values in columns declared BOOLEAN, DATE, DATETIME
// or TIMESTAMP: any integer in a BOOLEAN column becomes true or false, and
// integers and text in the date types become time.Time. Neither the
// storage class nor the stored value can be recovered from the result, so
// those columns fail instead of decoding to something that was never
// stored. An expression over the column, such as CAST(col AS TEXT) or
// col + 0, carries no declared type and reads back unchanged.
func decodeColumn(column string, v any) (value.Value, error) {
	switch val := v.(type) {
	case nil:
		return value.Null{}, nil
	case int64:
		return value.Integer(val), nil
	case float64:
		return value.Real(val), nil
	case string:
		return value.Text(val), nil
	case []byte:
		return value.NewBlob(val), nil
	case bool, time.Time:
		return nil, fmt.Errorf("column %q: driver converted the stored value to %T because of the column's declared type; select it through an expression such as CAST(%s AS TEXT)", column, v, column)
	default:
		return nil, fmt.Errorf("column %q: unexpected type %T", column, v)
	}
}

func (c *Core) beginWindow() int64 {
	id := c.clock.Next()
	if s := c.currentSink(); s != nil {
		s.BeginTransaction(id)
	}
	return id
}

func (c *Core) endWindow(id int64) {
	if s := c.currentSink(); s != nil {
		s.EndTransaction(id)
	}
}

// mustBeWritable panics on writes to a read-only database. Such a write is
// a programming error, not a runtime condition.
func (c *Core) mustBeWritable(op string) {
	if c.readOnly {
		panic(fmt.Sprintf("litewatch: %s on a read-only database", op))
	}
}

func (c *Core) logQuery(op, sqlText string, args int) {
	if c.logQueries {
		c.logger.Info("sql", "op", op, "sql", sqlText, "args", args)
		return
	}
	c.logger.Debug("sql", "op", op, "sql", sqlText, "args", args)
}

func savepointName(id int64) string {
	return fmt.Sprintf("lw_t%d", id)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (c *Core) verifyPragma(ctx context.Context, name, expected string) error {
	var got string
	if err := c.conn.QueryRowContext(ctx, "PRAGMA "+name).Scan(&got); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if got != expected {
		return fmt.Errorf("%s = %q, expected %q", name, got, expected)
	}
	return nil
}
