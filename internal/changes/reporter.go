package changes

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/roach88/litewatch/internal/metrics"
	"github.com/roach88/litewatch/internal/value"
)

// DefaultBufferSize is the per-subscription channel capacity.
const DefaultBufferSize = 64

// Change is one coalesced notification for one table.
//
// Exactly one of WholeTable or Keys is meaningful: WholeTable means an
// unknown set of rows changed; otherwise Keys lists every primary key
// changed during the window, deduplicated and in SQLite sort order.
type Change struct {
	Table      string
	Keys       []value.Value
	WholeTable bool
}

// Options configures a Reporter.
type Options struct {
	// Logger receives change logging. Defaults to slog.Default().
	Logger *slog.Logger

	// Verbose logs every reported change and every dispatched notification
	// at Info level instead of Debug.
	Verbose bool

	// Legacy additionally publishes every Change to SubscribeAll subscribers.
	Legacy bool

	// BufferSize is the per-subscription channel capacity.
	// Defaults to DefaultBufferSize.
	BufferSize int
}

// tableChange is the accumulated state for one table within a window.
// A nil keys map means the whole table changed.
type tableChange struct {
	keys map[value.Value]struct{}
}

func (tc *tableChange) whole() bool {
	return tc.keys == nil
}

// Reporter coalesces raw write reports into at most one notification per
// table per transaction window.
//
// Writes are accumulated while any window is open. When the last open window
// ends, a single flush is scheduled on the dispatcher goroutine, which swaps
// out the accumulator and publishes outside the lock. All notifications are
// published from that one goroutine, so subscribers observe a consistent
// order.
//
// Thread-safety: all methods are safe for concurrent use.
type Reporter struct {
	logger     *slog.Logger
	verbose    bool
	legacy     bool
	bufferSize int

	mu             sync.Mutex
	pending        map[string]*tableChange
	open           map[int64]struct{}
	ignored        map[string]int // Reference-counted suppressions
	flushScheduled bool
	closed         bool
	topics         map[string]*topic
	all            *topic

	signal chan struct{} // Buffered, size 1; coalesces flush requests
	settle chan chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// New creates a Reporter and starts its dispatcher goroutine.
// Call Close to stop it.
func New(opts Options) *Reporter {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	r := &Reporter{
		logger:     logger,
		verbose:    opts.Verbose,
		legacy:     opts.Legacy,
		bufferSize: bufferSize,
		pending:    make(map[string]*tableChange),
		open:       make(map[int64]struct{}),
		ignored:    make(map[string]int),
		topics:     make(map[string]*topic),
		all:        newTopic(),
		signal:     make(chan struct{}, 1),
		settle:     make(chan chan struct{}),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go r.run()
	return r
}

// ReportChange records a change to table. A nil or Null key marks the whole
// table changed, which supersedes any keys already recorded for it in the
// current window.
//
// Reports for a table currently under IgnoreWritesToTable are dropped.
func (r *Reporter) ReportChange(table string, key value.Value) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.ignored[table] > 0 {
		return
	}

	tc, ok := r.pending[table]
	switch {
	case value.IsNull(key):
		r.pending[table] = &tableChange{}
	case !ok:
		r.pending[table] = &tableChange{keys: map[value.Value]struct{}{key: {}}}
	case !tc.whole():
		tc.keys[key] = struct{}{}
	}

	r.logChange("change reported", "table", table, "key", value.Literal(key))

	if len(r.open) == 0 {
		r.scheduleFlushLocked()
	}
}

// ReportKeys records several keys for table. An empty keys slice marks the
// whole table changed.
func (r *Reporter) ReportKeys(table string, keys []value.Value) {
	if len(keys) == 0 {
		r.ReportChange(table, nil)
		return
	}
	for _, k := range keys {
		r.ReportChange(table, k)
	}
}

// BeginTransaction opens the window id.
func (r *Reporter) BeginTransaction(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[id] = struct{}{}
}

// EndTransaction closes the window id. When no window remains open and
// changes are pending, one flush is scheduled.
func (r *Reporter) EndTransaction(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.open, id)
	if len(r.open) == 0 && len(r.pending) > 0 {
		r.scheduleFlushLocked()
	}
}

// IgnoreWritesToTable suppresses reports for table until a matching
// StopIgnoringWrites. Suppressions are counted, so overlapping callers
// (including callers suppressing the same table) each lift only their own.
func (r *Reporter) IgnoreWritesToTable(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ignored[table]++
}

// StopIgnoringWrites lifts one suppression of table.
func (r *Reporter) StopIgnoringWrites(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.ignored[table]; n > 1 {
		r.ignored[table] = n - 1
	} else {
		delete(r.ignored, table)
	}
}

// Subscribe returns a subscription to changes of table.
// After Close, the returned subscription's channel is already closed.
func (r *Reporter) Subscribe(table string) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.topics[table]
	if !ok {
		t = newTopic()
		r.topics[table] = t
	}
	s := t.subscribe(r.bufferSize)
	if r.closed {
		s.Cancel()
	}
	return s
}

// SubscribeAll returns a subscription to changes of every table. It only
// receives notifications when the Reporter was created with Legacy set.
func (r *Reporter) SubscribeAll() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.all.subscribe(r.bufferSize)
	if r.closed {
		s.Cancel()
	}
	return s
}

// Pending reports whether changes are waiting to be flushed.
func (r *Reporter) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending) > 0
}

// Settle blocks until every change reported outside an open window has
// been handed to its subscribers. Changes inside a window that is still
// open stay pending. After Close, Settle returns immediately.
func (r *Reporter) Settle(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case r.settle <- ack:
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the dispatcher after one last flush and closes every
// subscription. Changes still inside an open window are discarded, and a
// subscriber whose buffer is full misses whatever the dispatcher was
// waiting to hand it. Close never waits on a subscriber.
// Safe to call more than once.
func (r *Reporter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	r.mu.Unlock()

	close(r.quit)
	<-r.done

	r.mu.Lock()
	topics := make([]*topic, 0, len(r.topics)+1)
	for _, t := range r.topics {
		topics = append(topics, t)
	}
	topics = append(topics, r.all)
	r.mu.Unlock()

	for _, t := range topics {
		t.cancelAll()
	}
}

// scheduleFlushLocked requests a flush unless one is already pending.
// Caller must hold r.mu.
func (r *Reporter) scheduleFlushLocked() {
	if r.flushScheduled {
		return
	}
	r.flushScheduled = true
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// run is the dispatcher loop. Every publish happens on this goroutine.
func (r *Reporter) run() {
	defer close(r.done)
	for {
		select {
		case <-r.quit:
			r.flush()
			return
		case <-r.signal:
			r.flush()
		case ack := <-r.settle:
			r.flush()
			close(ack)
		}
	}
}

// flush swaps out the accumulator and publishes one Change per table.
//
// The scheduled flag is cleared at swap time, under the lock, so a report
// that arrives while this flush is publishing schedules its own flush
// instead of being stranded.
func (r *Reporter) flush() {
	r.mu.Lock()
	r.flushScheduled = false
	if len(r.open) > 0 || len(r.pending) == 0 {
		// A window reopened after scheduling; its EndTransaction reschedules.
		r.mu.Unlock()
		return
	}
	pending := r.pending
	r.pending = make(map[string]*tableChange)

	tables := make([]string, 0, len(pending))
	for table := range pending {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	targets := make([]*topic, len(tables))
	for i, table := range tables {
		targets[i] = r.topics[table]
	}
	r.mu.Unlock()

	metrics.ChangeFlushesTotal.Inc()

	for i, table := range tables {
		c := pending[table].change(table)
		r.logChange("change dispatched", "table", table, "whole_table", c.WholeTable, "keys", len(c.Keys))
		metrics.ChangeNotificationsTotal.Inc()

		if targets[i] != nil {
			targets[i].publish(c, r.quit)
		}
		if r.legacy {
			r.all.publish(c, r.quit)
		}
	}
}

func (tc *tableChange) change(table string) Change {
	if tc.whole() {
		return Change{Table: table, WholeTable: true}
	}
	keys := make([]value.Value, 0, len(tc.keys))
	for k := range tc.keys {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, value.Compare)
	return Change{Table: table, Keys: keys}
}

func (r *Reporter) logChange(msg string, args ...any) {
	if r.verbose {
		r.logger.Info(msg, args...)
		return
	}
	r.logger.Debug(msg, args...)
}
