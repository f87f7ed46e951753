package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/litewatch/internal/metrics"
	"github.com/roach88/litewatch/internal/value"
)

// ownerKey marks contexts handed to actions running on an Executor's worker.
type ownerKey struct{}

// Executor serializes every operation against one Core.
//
// Operations are queued in FIFO order and run to completion one at a time
// on a single worker goroutine, so no two statements ever interleave on the
// connection. An operation whose context ends before it starts is skipped
// and the caller gets the context error. Once the worker has started an
// operation the caller waits for its real outcome, even if its context
// ends meanwhile, so a committed transaction is never reported as failed.
//
// Thread-safety model:
//   - all exported methods: safe from any goroutine
//   - Transaction actions: run on the worker and must use the *Core they are
//     given. Calling back into the same Executor from an action returns
//     ErrCodeReentrant instead of deadlocking, provided the action passes
//     along the context it received.
type Executor struct {
	core   *Core
	queue  *opQueue
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
	stopped   chan struct{}
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used for operation failures.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor takes ownership of c and starts the worker goroutine.
func NewExecutor(c *Core, opts ...ExecutorOption) *Executor {
	e := &Executor{
		core:    c,
		queue:   newOpQueue(),
		logger:  c.logger,
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.run()
	return e
}

// Execute runs multi-statement SQL without arguments.
func (e *Executor) Execute(ctx context.Context, sqlText string) error {
	e.mustBeWritable("execute")
	return e.submit(ctx, "execute", func(ctx context.Context, c *Core) error {
		return c.Execute(ctx, sqlText)
	})
}

// Query runs one statement with positional arguments.
func (e *Executor) Query(ctx context.Context, sqlText string, args ...any) ([]value.Row, error) {
	var rows []value.Row
	err := e.submit(ctx, "query", func(ctx context.Context, c *Core) error {
		var err error
		rows, err = c.Query(ctx, sqlText, args...)
		return err
	})
	return rows, err
}

// QueryNamed runs one statement with named arguments.
func (e *Executor) QueryNamed(ctx context.Context, sqlText string, args map[string]any) ([]value.Row, error) {
	var rows []value.Row
	err := e.submit(ctx, "query", func(ctx context.Context, c *Core) error {
		var err error
		rows, err = c.QueryNamed(ctx, sqlText, args)
		return err
	})
	return rows, err
}

// WriteKeyed runs a write and reports keys as the changed primary keys of table.
func (e *Executor) WriteKeyed(ctx context.Context, table string, keys []value.Value, sqlText string, args ...any) ([]value.Row, error) {
	e.mustBeWritable("write")
	var rows []value.Row
	err := e.submit(ctx, "write", func(ctx context.Context, c *Core) error {
		var err error
		rows, err = c.WriteKeyed(ctx, table, keys, sqlText, args...)
		return err
	})
	return rows, err
}

// Transaction runs action with exclusive use of the Core inside a savepoint.
func (e *Executor) Transaction(ctx context.Context, action func(ctx context.Context, tx *Core) error) error {
	e.mustBeWritable("transaction")
	return e.submit(ctx, "transaction", func(ctx context.Context, c *Core) error {
		return c.Transaction(ctx, action)
	})
}

// CancellableTransaction runs action inside a savepoint and commits only
// when it returns true.
func (e *Executor) CancellableTransaction(ctx context.Context, action func(ctx context.Context, tx *Core) (bool, error)) (bool, error) {
	e.mustBeWritable("transaction")
	var committed bool
	err := e.submit(ctx, "transaction", func(ctx context.Context, c *Core) error {
		var err error
		committed, err = c.CancellableTransaction(ctx, action)
		return err
	})
	return committed, err
}

// mustBeWritable panics on writes to a read-only database that is still
// open. After Close has begun, writes fail with ErrCodeClosed instead.
func (e *Executor) mustBeWritable(op string) {
	if !e.queue.Closed() {
		e.core.mustBeWritable(op)
	}
}

// SetSink replaces the Core's ChangeSink. Safe from any goroutine.
func (e *Executor) SetSink(s ChangeSink) {
	e.core.SetSink(s)
}

// ReadOnly reports whether the underlying Core is read-only.
func (e *Executor) ReadOnly() bool {
	return e.core.readOnly
}

// Close runs after every operation already queued, closes the Core and
// stops the worker. Operations submitted afterwards fail with
// ErrCodeClosed. If ctx ends first, Close returns its error and the
// shutdown carries on; later calls return the real close result.
func (e *Executor) Close(ctx context.Context) error {
	if owner, _ := ctx.Value(ownerKey{}).(*Executor); owner == e {
		return &Error{Code: ErrCodeReentrant, Op: "close"}
	}

	e.closeOnce.Do(func() {
		op := &operation{
			name: "close",
			ctx:  context.WithoutCancel(ctx),
			run: func(_ context.Context, c *Core) error {
				// Read only after stopped closes.
				e.closeErr = c.Close()
				return e.closeErr
			},
			done:     make(chan error, 1),
			enqueued: time.Now(),
		}
		if e.queue.Enqueue(op) {
			e.queue.Close()
		}
	})

	select {
	case <-e.stopped:
		return e.closeErr
	case <-ctx.Done():
		if e.Stopped() {
			return e.closeErr
		}
		return ctx.Err()
	}
}

// Stopped reports whether Close has finished: every queued operation ran
// and the Core is closed.
func (e *Executor) Stopped() bool {
	select {
	case <-e.stopped:
		return true
	default:
		return false
	}
}

// submit queues run and waits for its result.
func (e *Executor) submit(ctx context.Context, name string, run func(ctx context.Context, c *Core) error) error {
	if owner, _ := ctx.Value(ownerKey{}).(*Executor); owner == e {
		return &Error{Code: ErrCodeReentrant, Op: name}
	}

	op := &operation{
		name:     name,
		ctx:      ctx,
		run:      run,
		done:     make(chan error, 1),
		enqueued: time.Now(),
	}
	if !e.queue.Enqueue(op) {
		return closedError(name)
	}

	select {
	case err := <-op.done:
		return err
	case <-ctx.Done():
		if op.claim() {
			return ctx.Err()
		}
		// Already running; its outcome, not the cancellation, is the result.
		return <-op.done
	}
}

// run is the worker loop. All Core access happens on this goroutine.
func (e *Executor) run() {
	defer close(e.stopped)

	for {
		if op, ok := e.queue.TryDequeue(); ok {
			e.process(op)
			continue
		}
		if e.queue.Drained() {
			return
		}
		<-e.queue.Wait()
	}
}

// process runs one operation and reports its outcome.
func (e *Executor) process(op *operation) {
	if !op.claim() {
		return
	}
	metrics.QueueWaitDuration.Observe(time.Since(op.enqueued).Seconds())

	if err := op.ctx.Err(); err != nil {
		op.done <- err
		return
	}

	start := time.Now()
	err := op.run(context.WithValue(op.ctx, ownerKey{}, e), e.core)
	metrics.OperationDuration.WithLabelValues(op.name).Observe(time.Since(start).Seconds())

	status := metrics.Ok
	if err != nil {
		status = metrics.Fail
		e.logger.Debug("operation failed", "op", op.name, "error", err)
	}
	metrics.OperationsTotal.WithLabelValues(op.name, status).Inc()

	op.done <- err
}
