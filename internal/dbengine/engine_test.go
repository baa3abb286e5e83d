package dbengine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	e := New(TestConfig(path))
	require.NoError(t, e.Initialize(context.Background()))
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// S1: happy read after write.
func TestQueryAfterExecute(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Execute(ctx, "INSERT INTO sessions (tabs, timestamp, version) VALUES (?, ?, ?)", []any{"t", 42, "1.0"}, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.Changes)

	rows, err := e.Query(ctx, "SELECT timestamp FROM sessions WHERE tabs = ?", []any{"t"}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.EqualValues(t, 42, rows[0]["timestamp"])
}

// S2: concurrent writes complete in enqueue order. Ten goroutines run
// concurrently but take turns calling Execute in index order via a baton
// channel, so the assertion on completion order is deterministic while
// dispatch still goes through the queue's real concurrent-callers path.
func TestExecuteSerializesInEnqueueOrder(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	batons := make([]chan struct{}, 10)
	for i := range batons {
		batons[i] = make(chan struct{})
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-batons[i]
			_, err := e.Execute(ctx, "INSERT INTO sessions (tabs, timestamp, version) VALUES (?, ?, ?)",
				[]any{fmt.Sprintf("t-%d", i), i + 1, "1.0"}, 0)
			require.NoError(t, err)
			if i+1 < len(batons) {
				close(batons[i+1])
			}
		}(i)
	}
	close(batons[0])
	wg.Wait()

	rows, err := e.Query(ctx, "SELECT tabs FROM sessions ORDER BY id", nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 10)
	for i, row := range rows {
		require.Equal(t, fmt.Sprintf("t-%d", i), row["tabs"])
	}
}

// S3: graceful read before initialize returns empty, not an error.
func TestGracefulDegradationReadBeforeInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := TestConfig(path)
	cfg.GracefulDegradation = true
	e := New(cfg)
	t.Cleanup(func() { _ = e.Close() })

	rows, err := e.Query(context.Background(), "SELECT 1", nil, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
	require.False(t, e.IsReady())
}

func TestInitializeFailsWhenDBDirCannotBeCreated(t *testing.T) {
	// blocker is a regular file; using it as a path component forces
	// os.MkdirAll to fail regardless of the test process's privileges, so
	// Initialize itself surfaces the underlying error rather than ever
	// reaching a ready state.
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, writeFile(blocker, "not a directory"))

	e := New(TestConfig(filepath.Join(blocker, "sub", "test.db")))
	t.Cleanup(func() { _ = e.Close() })

	require.Error(t, e.Initialize(context.Background()))
}

// query/execute issued against an engine nobody has called Initialize on
// yet must fail with ErrNotInitialized rather than silently initializing it
// first — see spec §4.4.
func TestQueryFailsNotInitializedWithoutGracefulDegradation(t *testing.T) {
	e := New(TestConfig(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { _ = e.Close() })
	require.False(t, e.cfg.GracefulDegradation)

	_, err := e.Query(context.Background(), "SELECT 1", nil, 0)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestExecuteFailsNotInitializedWithoutGracefulDegradation(t *testing.T) {
	e := New(TestConfig(filepath.Join(t.TempDir(), "test.db")))
	t.Cleanup(func() { _ = e.Close() })
	require.False(t, e.cfg.GracefulDegradation)

	_, err := e.Execute(context.Background(), "INSERT INTO sessions (tabs, timestamp, version) VALUES (?, ?, ?)", []any{"t", 1, "1.0"}, 0)
	require.ErrorIs(t, err, ErrNotInitialized)
}

// P5: a syntax error leaves the connection healthy.
func TestSyntaxErrorLeavesConnectionHealthy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, "INSERT INTO sessions (tabs VALUES (1)", nil, 0)
	require.Error(t, err)
	require.True(t, e.CheckHealth(ctx))
}

// P10: verify_indices reports nothing missing right after initialize.
func TestVerifyIndicesFreshEngine(t *testing.T) {
	e := newTestEngine(t)
	missing, existing, err := e.VerifyIndices(context.Background())
	require.NoError(t, err)
	require.Empty(t, missing)
	require.NotEmpty(t, existing)
}

// S7: reconnect preserves data and empties the statement cache.
func TestReconnectPreservesDataAndClearsCache(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, e.Batch(ctx, []Statement{
		{SQL: "CREATE TABLE x (v TEXT)"},
		{SQL: "INSERT INTO x (v) VALUES (?)", Params: []any{"hello"}},
	}, 0))

	// Populate the cache so we can observe it getting cleared.
	_, err := e.Query(ctx, "SELECT v FROM x", nil, 0)
	require.NoError(t, err)
	require.Greater(t, e.cache.size(), 0)

	require.NoError(t, e.Reconnect(ctx))
	require.Equal(t, 0, e.cache.size())

	rows, err := e.Query(ctx, "SELECT v FROM x", nil, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "hello", rows[0]["v"])
}

func TestCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	require.True(t, e.IsClosed())
}

func TestTransactionRollsBackOnError(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.Exec(ctx, "INSERT INTO sessions (tabs, timestamp, version) VALUES (?, ?, ?)", "t", 1, "1.0"); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	}, 0)
	require.Error(t, err)

	rows, err := e.Query(ctx, "SELECT COUNT(*) AS n FROM sessions", nil, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, rows[0]["n"])
}

func TestResetLeavesOtherTablesAlone(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Execute(ctx, "INSERT INTO sessions (tabs, timestamp, version) VALUES (?, ?, ?)", []any{"t", 1, "1.0"}, 0)
	require.NoError(t, err)
	_, err = e.Execute(ctx, "INSERT INTO settings (key, value) VALUES (?, ?)", []any{"k", "v"}, 0)
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx))

	rows, err := e.Query(ctx, "SELECT COUNT(*) AS n FROM sessions", nil, 0)
	require.NoError(t, err)
	require.EqualValues(t, 0, rows[0]["n"])

	rows, err = e.Query(ctx, "SELECT COUNT(*) AS n FROM settings", nil, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, rows[0]["n"])
}

// TestMaxConcurrentReadsBoundsInFlightQueries asserts that a configured
// read limit is actually enforced: with a limit of 1, a second concurrent
// Query call cannot start running until the first releases its slot.
func TestMaxConcurrentReadsBoundsInFlightQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	cfg := TestConfig(path)
	cfg.MaxConcurrentReads = 1
	e := New(cfg)
	require.NoError(t, e.Initialize(context.Background()))
	t.Cleanup(func() { _ = e.Close() })

	ctx := context.Background()
	release := make(chan struct{})
	entered := make(chan struct{})

	go func() {
		_, _ = QueryAs(ctx, e, "SELECT 1", nil, time.Second, func(rows *sql.Rows) (int, error) {
			close(entered)
			<-release
			return 0, nil
		})
	}()
	<-entered

	blockedCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err := e.Query(blockedCtx, "SELECT 1", nil, 50*time.Millisecond)
	require.Error(t, err)

	close(release)
}

func TestWaitForReadyTimesOutOnUninitializedEngine(t *testing.T) {
	e := New(TestConfig(filepath.Join(t.TempDir(), "never.db")))
	t.Cleanup(func() { _ = e.Close() })

	err := e.WaitForReady(context.Background(), 20*time.Millisecond)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, "wait_for_ready", timeoutErr.Operation)
}
