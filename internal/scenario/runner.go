package scenario

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strconv"

	"github.com/roach88/litewatch/internal/changes"
	"github.com/roach88/litewatch/internal/core"
	"github.com/roach88/litewatch/internal/database"
	"github.com/roach88/litewatch/internal/value"
)

// target is what steps run against: the Database at the top level, the
// transaction's Core inside a transaction step.
type target interface {
	Execute(ctx context.Context, sqlText string) error
	Query(ctx context.Context, sqlText string, args ...any) ([]value.Row, error)
	QueryNamed(ctx context.Context, sqlText string, args map[string]any) ([]value.Row, error)
	WriteKeyed(ctx context.Context, table string, keys []value.Value, sqlText string, args ...any) ([]value.Row, error)
	CancellableTransaction(ctx context.Context, action func(ctx context.Context, tx *core.Core) (bool, error)) (bool, error)
}

var (
	_ target = (*database.Database)(nil)
	_ target = (*core.Core)(nil)
)

// RunOption configures Run.
type RunOption func(*runner)

// WithLogger sets the logger handed to the database. Runs are silent by
// default.
func WithLogger(l *slog.Logger) RunOption {
	return func(r *runner) {
		r.logger = l
	}
}

type runner struct {
	db     *database.Database
	logger *slog.Logger
	result *Result
	subs   []*changes.Subscription // Sorted by table
	all    *changes.Subscription
}

// Run executes a scenario against a fresh in-memory database and returns
// the result. Expectation failures are recorded in the result; the error
// return is reserved for scenarios that could not be run at all.
//
// Execution flow:
//  1. Open a private in-memory database
//  2. Subscribe to the watched tables
//  3. Resolve every table in Migrations
//  4. Run each step, then settle and record its notifications
func Run(ctx context.Context, s *Scenario, opts ...RunOption) (*Result, error) {
	r := &runner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		result: NewResult(),
	}
	for _, opt := range opts {
		opt(r)
	}

	db, err := database.OpenInMemory(ctx, database.NewRegistry(), database.Options{
		DebugPrintEveryQuery:          s.Options.Verbose,
		DebugPrintEveryReportedChange: s.Options.Verbose,
		SendLegacyChangeNotifications: s.Options.LegacyNotifications,
		Logger:                        r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close(context.WithoutCancel(ctx))
	r.db = db

	watch := slices.Clone(s.Watch)
	sort.Strings(watch)
	for _, table := range slices.Compact(watch) {
		r.subs = append(r.subs, db.Subscribe(table))
	}
	if s.Options.LegacyNotifications {
		r.all = db.SubscribeAll()
	}

	tables := make([]string, 0, len(s.Migrations))
	for table := range s.Migrations {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		idx := len(r.result.Trace)
		r.result.Trace = append(r.result.Trace, Event{Step: "setup", Kind: KindResolve, SQL: table})
		m := database.Migrations{Table: table, Steps: s.Migrations[table]}
		if err := db.Resolve(ctx, table, m, nil); err != nil {
			return nil, fmt.Errorf("migrations[%s]: %w", table, err)
		}
		if err := r.collect(ctx, idx); err != nil {
			return nil, err
		}
	}

	for i := range s.Steps {
		idx := len(r.result.Trace)
		if err := r.runStep(ctx, db, strconv.Itoa(i+1), &s.Steps[i]); err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := r.collect(ctx, idx); err != nil {
			return nil, err
		}
		r.logger.Debug("scenario step completed", "scenario", s.Name, "step", i+1)
	}

	return r.result, nil
}

// collect waits for the notifications of the step just run and attaches
// them to its event.
func (r *runner) collect(ctx context.Context, idx int) error {
	if err := r.db.Settle(ctx); err != nil {
		return fmt.Errorf("settle notifications: %w", err)
	}
	for _, sub := range r.subs {
		r.result.Trace[idx].Changes = append(r.result.Trace[idx].Changes, drain(sub)...)
	}
	if r.all != nil {
		r.result.Trace[idx].Legacy = drain(r.all)
	}
	return nil
}

// drain reads every buffered change without blocking.
func drain(sub *changes.Subscription) []Notification {
	var out []Notification
	for {
		select {
		case c, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, notificationOf(c))
		default:
			return out
		}
	}
}

// runStep executes one step and checks its expectations. It returns the
// step's error only when that error was not expected, which aborts an
// enclosing transaction.
func (r *runner) runStep(ctx context.Context, t target, path string, step *Step) error {
	idx := len(r.result.Trace)
	kind := step.Kind()
	r.result.Trace = append(r.result.Trace, Event{Step: path, Name: step.Name, Kind: kind})

	var (
		rows      []value.Row
		committed *bool
		err       error
	)
	switch kind {
	case KindExec:
		r.result.Trace[idx].SQL = step.Exec
		err = t.Execute(ctx, step.Exec)

	case KindQuery:
		r.result.Trace[idx].SQL = step.Query
		if len(step.Named) > 0 {
			rows, err = t.QueryNamed(ctx, step.Query, step.Named)
		} else {
			rows, err = t.Query(ctx, step.Query, step.Args...)
		}

	case KindWrite:
		w := step.Write
		r.result.Trace[idx].SQL = w.SQL
		var keys []value.Value
		keys, err = value.FromNativeSlice(w.Keys)
		if err == nil {
			rows, err = t.WriteKeyed(ctx, w.Table, keys, w.SQL, w.Args...)
		}

	case KindTransaction:
		var ok bool
		ok, err = t.CancellableTransaction(ctx, func(ctx context.Context, tx *core.Core) (bool, error) {
			for i := range step.Transaction.Steps {
				inner := fmt.Sprintf("%s.%d", path, i+1)
				if err := r.runStep(ctx, tx, inner, &step.Transaction.Steps[i]); err != nil {
					return false, err
				}
			}
			return !step.Transaction.Cancel, nil
		})
		committed = &ok
	}

	ev := &r.result.Trace[idx]
	ev.Rows = rows
	ev.Committed = committed
	if err != nil {
		ev.Error = errorCode(err)
	}

	return r.check(path, step.Expect, rows, committed, err)
}

// check compares a step's outcome against its expectations.
func (r *runner) check(path string, e *Expect, rows []value.Row, committed *bool, err error) error {
	if e != nil && e.Error != "" {
		switch {
		case err == nil:
			r.result.AddError(fmt.Sprintf("step %s: expected error %s, got success", path, e.Error))
		case !core.IsCode(err, core.ErrorCode(e.Error)):
			r.result.AddError(fmt.Sprintf("step %s: expected error %s, got %s", path, e.Error, errorCode(err)))
		}
		return nil
	}

	if err != nil {
		r.result.AddError(fmt.Sprintf("step %s: unexpected error: %v", path, err))
		return err
	}
	if e == nil {
		return nil
	}

	if e.Rows != nil && len(rows) != *e.Rows {
		r.result.AddError(fmt.Sprintf("step %s: expected %d rows, got %d", path, *e.Rows, len(rows)))
	}
	if e.First != nil {
		if len(rows) == 0 {
			r.result.AddError(fmt.Sprintf("step %s: expected a first row, got none", path))
		} else if msg := matchRow(rows[0], e.First); msg != "" {
			r.result.AddError(fmt.Sprintf("step %s: %s", path, msg))
		}
	}
	if e.Committed != nil && committed != nil && *e.Committed != *committed {
		r.result.AddError(fmt.Sprintf("step %s: expected committed=%t, got %t", path, *e.Committed, *committed))
	}
	return nil
}

// matchRow checks that every expected column is present in row with an
// equal value. Numbers compare numerically, so 2 matches 2.0.
func matchRow(row value.Row, expected map[string]any) string {
	columns := make([]string, 0, len(expected))
	for c := range expected {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	for _, c := range columns {
		want, err := value.FromNative(expected[c])
		if err != nil {
			return fmt.Sprintf("column %q: %v", c, err)
		}
		got, ok := row.Get(c)
		if !ok {
			return fmt.Sprintf("column %q missing from result", c)
		}
		if want.Kind() != got.Kind() && !(isNumber(want) && isNumber(got)) {
			return fmt.Sprintf("column %q: expected %s, got %s", c, value.Literal(want), value.Literal(got))
		}
		if value.Compare(want, got) != 0 {
			return fmt.Sprintf("column %q: expected %s, got %s", c, value.Literal(want), value.Literal(got))
		}
	}
	return ""
}

func isNumber(v value.Value) bool {
	k := v.Kind()
	return k == value.KindInteger || k == value.KindReal
}

// errorCode renders err for the trace.
func errorCode(err error) string {
	var e *core.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	var ce *value.ConversionError
	if errors.As(err, &ce) {
		return string(core.ErrCodeBindFailure)
	}
	return "ERROR"
}
