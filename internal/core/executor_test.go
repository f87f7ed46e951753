package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/litewatch/internal/testutil"
	"github.com/roach88/litewatch/internal/value"
)

func TestExecutor_BasicOperations(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Execute(ctx, testSchema))
	_, err := e.Query(ctx, "INSERT INTO items (id, name) VALUES (?, ?)", 1, "one")
	require.NoError(t, err)
	_, err = e.QueryNamed(ctx, "INSERT INTO items (id, name) VALUES (:id, :name)", map[string]any{"id": 2, "name": "two"})
	require.NoError(t, err)
	_, err = e.WriteKeyed(ctx, "items", []value.Value{value.Integer(3)}, "INSERT INTO items (id, name) VALUES (?, ?)", 3, "three")
	require.NoError(t, err)

	rows, err := e.Query(ctx, "SELECT name FROM items ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, value.Text("three"), rows[2].Values[0])
	assert.False(t, e.ReadOnly())
}

func TestExecutor_Transaction(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, testSchema))

	err := e.Transaction(ctx, func(ctx context.Context, tx *Core) error {
		_, err := tx.Query(ctx, "INSERT INTO items (name) VALUES (?)", "a")
		return err
	})
	require.NoError(t, err)

	committed, err := e.CancellableTransaction(ctx, func(ctx context.Context, tx *Core) (bool, error) {
		_, err := tx.Query(ctx, "INSERT INTO items (name) VALUES (?)", "b")
		return false, err
	})
	require.NoError(t, err)
	assert.False(t, committed)

	rows, err := e.Query(ctx, "SELECT COUNT(*) FROM items")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(1), rows[0].Values[0])
}

func TestExecutor_FIFOOrder(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, "CREATE TABLE log (seq INTEGER)"))

	// Hold the worker so every insert below queues up behind it.
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Transaction(ctx, func(context.Context, *Core) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Query(ctx, "INSERT INTO log (seq) VALUES (?)", i)
			assert.NoError(t, err)
		}(i)
		// Enqueue order is only deterministic if each submit lands before the next starts.
		waitForQueueLen(t, e, i+1)
	}
	close(release)
	wg.Wait()

	rows, err := e.Query(ctx, "SELECT seq FROM log ORDER BY rowid")
	require.NoError(t, err)
	require.Len(t, rows, n)
	for i, r := range rows {
		assert.Equal(t, value.Integer(int64(i)), r.Values[0])
	}
}

func waitForQueueLen(t *testing.T, e *Executor, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for e.queue.Len() < n {
		if time.Now().After(deadline) {
			t.Fatalf("queue never reached %d operations", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecutor_ConcurrentCallersSerialized(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, "CREATE TABLE counter (n INTEGER); INSERT INTO counter VALUES (0)"))

	const goroutines, perGoroutine = 8, 25
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				// Read-modify-write is only safe because transactions never interleave.
				err := e.Transaction(ctx, func(ctx context.Context, tx *Core) error {
					rows, err := tx.Query(ctx, "SELECT n FROM counter")
					if err != nil {
						return err
					}
					n, _ := value.Int(rows[0].Values[0])
					_, err = tx.Query(ctx, "UPDATE counter SET n = ?", n+1)
					return err
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	rows, err := e.Query(ctx, "SELECT n FROM counter")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(goroutines*perGoroutine), rows[0].Values[0])
}

func TestExecutor_ReentrantCallFails(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()

	var inner error
	err := e.Transaction(ctx, func(ctx context.Context, tx *Core) error {
		_, inner = e.Query(ctx, "SELECT 1")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, IsCode(inner, ErrCodeReentrant), "got %v", inner)

	err = e.Transaction(ctx, func(ctx context.Context, tx *Core) error {
		return e.Close(ctx)
	})
	assert.True(t, IsCode(err, ErrCodeReentrant), "got %v", err)

	// The executor is still usable afterwards.
	_, err = e.Query(ctx, "SELECT 1")
	assert.NoError(t, err)
}

func TestExecutor_ErrorsPassThrough(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()

	_, err := e.Query(ctx, "SELEKT")
	assert.True(t, IsCode(err, ErrCodePrepareFailure))

	boom := errors.New("boom")
	err = e.Transaction(ctx, func(context.Context, *Core) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_CancelledContextSkipsOperation(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, testSchema))

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Transaction(ctx, func(context.Context, *Core) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	cctx, cancel := context.WithCancel(ctx)
	result := make(chan error, 1)
	go func() {
		_, err := e.Query(cctx, "INSERT INTO items (name) VALUES (?)", "skipped")
		result <- err
	}()
	waitForQueueLen(t, e, 1)
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(release)
	rows, err := e.Query(ctx, "SELECT COUNT(*) FROM items")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(0), rows[0].Values[0], "cancelled operation must not run")
}

func TestExecutor_CancelAfterStartReturnsOutcome(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, testSchema))

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	err := e.Transaction(cctx, func(ctx context.Context, tx *Core) error {
		if _, err := tx.Query(ctx, "INSERT INTO items (name) VALUES (?)", "kept"); err != nil {
			return err
		}
		cancel()
		return nil
	})
	require.NoError(t, err, "the transaction committed, so the caller must not see a failure")

	rows, err := e.Query(ctx, "SELECT COUNT(*) FROM items")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(1), rows[0].Values[0])
}

func TestExecutor_CloseWithCancelledContextKeepsClosing(t *testing.T) {
	c, err := Open(context.Background(), Config{Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	e := NewExecutor(c)
	ctx := context.Background()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Transaction(ctx, func(context.Context, *Core) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, e.Close(cctx), context.Canceled)
	assert.False(t, e.Stopped())

	close(release)
	require.NoError(t, e.Close(ctx))
	assert.True(t, e.Stopped())
	assert.True(t, c.Closed())
}

func TestExecutor_CloseRunsQueuedOperationsFirst(t *testing.T) {
	c, err := Open(context.Background(), Config{Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	e := NewExecutor(c, WithLogger(testutil.DiscardLogger()))
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, testSchema))

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = e.Transaction(ctx, func(context.Context, *Core) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	queued := make(chan error, 1)
	go func() {
		_, err := e.Query(ctx, "INSERT INTO items (name) VALUES (?)", "queued")
		queued <- err
	}()
	waitForQueueLen(t, e, 1)

	closed := make(chan error, 1)
	go func() { closed <- e.Close(ctx) }()
	waitForQueueLen(t, e, 2)
	close(release)

	require.NoError(t, <-queued, "operation queued before Close must run")
	require.NoError(t, <-closed)

	_, err = e.Query(ctx, "SELECT 1")
	assert.True(t, IsClosed(err), "got %v", err)
	assert.True(t, IsClosed(e.Execute(ctx, "SELECT 1")))
}

func TestExecutor_CloseIdempotent(t *testing.T) {
	e := createTestExecutor(t, nil)
	ctx := context.Background()

	require.NoError(t, e.Close(ctx))
	require.NoError(t, e.Close(ctx))

	err := e.Transaction(ctx, func(context.Context, *Core) error {
		t.Fatal("action must not run after Close")
		return nil
	})
	assert.True(t, IsClosed(err))
}

func TestExecutor_CloseConcurrent(t *testing.T) {
	e := createTestExecutor(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Close(context.Background()))
		}()
	}
	wg.Wait()
}

func TestExecutor_ReadOnlyPanicsInCaller(t *testing.T) {
	path := t.TempDir() + "/ro.db"
	rw, err := Open(context.Background(), Config{Path: path, Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, rw.Execute(context.Background(), "CREATE TABLE t (x); PRAGMA journal_mode = DELETE"))
	require.NoError(t, rw.Close())

	c, err := Open(context.Background(), Config{Path: path, ReadOnly: true, Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	e := NewExecutor(c)
	defer e.Close(context.Background())
	ctx := context.Background()

	assert.True(t, e.ReadOnly())
	assert.Panics(t, func() { _ = e.Execute(ctx, "DELETE FROM t") })
	assert.Panics(t, func() { _, _ = e.WriteKeyed(ctx, "t", nil, "DELETE FROM t") })
	assert.Panics(t, func() {
		_ = e.Transaction(ctx, func(context.Context, *Core) error { return nil })
	})
	assert.Panics(t, func() {
		_, _ = e.CancellableTransaction(ctx, func(context.Context, *Core) (bool, error) { return true, nil })
	})

	// The worker is unaffected by the caller's panic.
	rows, err := e.Query(ctx, "SELECT COUNT(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, value.Integer(0), rows[0].Values[0])
}

func TestExecutor_ReadOnlyClosedWritesFailClosed(t *testing.T) {
	path := t.TempDir() + "/ro.db"
	rw, err := Open(context.Background(), Config{Path: path, Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	require.NoError(t, rw.Execute(context.Background(), "CREATE TABLE t (x); PRAGMA journal_mode = DELETE"))
	require.NoError(t, rw.Close())

	c, err := Open(context.Background(), Config{Path: path, ReadOnly: true, Logger: testutil.DiscardLogger()})
	require.NoError(t, err)
	e := NewExecutor(c)
	ctx := context.Background()
	require.NoError(t, e.Close(ctx))

	assert.True(t, IsClosed(e.Execute(ctx, "DELETE FROM t")))
	_, err = e.WriteKeyed(ctx, "t", nil, "DELETE FROM t")
	assert.True(t, IsClosed(err))
	assert.True(t, IsClosed(e.Transaction(ctx, func(context.Context, *Core) error { return nil })))
	_, err = e.CancellableTransaction(ctx, func(context.Context, *Core) (bool, error) { return true, nil })
	assert.True(t, IsClosed(err))
}

func TestExecutor_SinkSeesOneWindowPerOperation(t *testing.T) {
	sink := &testutil.RecordingSink{}
	e := createTestExecutor(t, sink)
	ctx := context.Background()
	require.NoError(t, e.Execute(ctx, testSchema))
	sink.Reset()

	for i := 0; i < 3; i++ {
		_, err := e.Query(ctx, "INSERT INTO items (name) VALUES (?)", fmt.Sprintf("n%d", i))
		require.NoError(t, err)
	}

	assert.Equal(t, []string{
		"begin 2", "report items *", "end 2",
		"begin 3", "report items *", "end 3",
		"begin 4", "report items *", "end 4",
	}, sink.Events())
}
