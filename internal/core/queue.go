package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// operation is one unit of work queued for the Executor's worker.
type operation struct {
	name     string
	ctx      context.Context
	run      func(ctx context.Context, c *Core) error
	done     chan error // Buffered, size 1
	enqueued time.Time

	// claimed is won either by the worker, which then runs the operation
	// to completion, or by a caller that gives up waiting, in which case
	// the worker skips it.
	claimed atomic.Bool
}

// claim reports whether the caller won the operation.
func (op *operation) claim() bool {
	return op.claimed.CompareAndSwap(false, true)
}

// opQueue is a thread-safe, unbounded FIFO of operations.
//
// Callers enqueue from any goroutine; the Executor's single worker dequeues.
// The signal channel lets the worker wait without polling and wakes it when
// the queue closes.
type opQueue struct {
	mu     sync.Mutex
	ops    []*operation
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newOpQueue() *opQueue {
	return &opQueue{
		ops:    make([]*operation, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds op to the back of the queue.
// Returns false if the queue is closed.
func (q *opQueue) Enqueue(op *operation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.ops = append(q.ops, op)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front operation without blocking.
func (q *opQueue) TryDequeue() (*operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 {
		return nil, false
	}

	op := q.ops[0]
	// Clear the slot so the backing array does not pin finished operations.
	q.ops[0] = nil
	if len(q.ops) == 1 {
		q.ops = q.ops[:0]
	} else {
		q.ops = q.ops[1:]
	}

	return op, true
}

// Wait returns a channel that fires when operations may be available, and
// fires forever once the queue is closed.
func (q *opQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued operations.
func (q *opQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Closed reports whether Close has been called.
func (q *opQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Drained reports whether the queue is closed and empty.
func (q *opQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.ops) == 0
}

// Close rejects further Enqueue calls. Queued operations remain and can
// still be dequeued.
func (q *opQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
