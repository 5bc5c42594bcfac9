package executor

import (
	"context"
	"database/sql/driver"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joao-brasil/websqlite3/internal/config"
	"github.com/joao-brasil/websqlite3/internal/pool"
	"github.com/joao-brasil/websqlite3/internal/queue"
	"github.com/joao-brasil/websqlite3/internal/werrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSetup(t *testing.T) (*pool.Pool, *queue.PriorityQueue) {
	t.Helper()
	cfg := &config.Config{
		Connection: config.ConnectionConfig{
			Database: filepath.Join(t.TempDir(), "test.db"),
			Timeout:  2 * time.Second,
		},
		Pool: config.PoolConfig{
			MinSize:           1,
			MaxSize:           2,
			ConnectionTimeout: time.Second,
		},
	}
	p, err := pool.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, queue.New(0)
}

func TestExecutorDispatchesAndCompletes(t *testing.T) {
	p, q := testSetup(t)
	ex := New(p, q, 2)
	defer ex.Close()

	req := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		_, err := conn.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
		return "ok", err
	})
	require.NoError(t, ex.Submit(req))

	value, err := req.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestExecutorRunsHighestPriorityFirst(t *testing.T) {
	p, q := testSetup(t)
	ex := New(p, q, 1)
	defer ex.Close()

	var mu sync.Mutex
	var order []string

	block := make(chan struct{})
	blocker := queue.NewRequest(queue.KindExecute, queue.PriorityLow, func(ctx context.Context, conn *pool.Connection) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, ex.Submit(blocker))
	time.Sleep(20 * time.Millisecond) // let the single worker pick up blocker first

	record := func(tag string, priority queue.Priority) *queue.Request {
		return queue.NewRequest(queue.KindExecute, priority, func(ctx context.Context, conn *pool.Connection) (any, error) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
			return nil, nil
		})
	}

	low := record("low", queue.PriorityLow)
	high := record("high", queue.PriorityCritical)

	require.NoError(t, ex.Submit(low))
	require.NoError(t, ex.Submit(high))
	close(block)

	_, err := low.Result(context.Background())
	require.NoError(t, err)
	_, err = high.Result(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low"}, order)
}

func TestExecutorMarksConnectionUnhealthyOnConnectionLevelFailure(t *testing.T) {
	p, q := testSetup(t)
	ex := New(p, q, 1)
	defer ex.Close()

	var captured *pool.Connection
	req := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		captured = conn
		return nil, werrors.Wrap(werrors.KindQuery, "exec", driver.ErrBadConn)
	})
	require.NoError(t, ex.Submit(req))

	_, err := req.Result(context.Background())
	require.Error(t, err)

	// dispatch marks the connection unhealthy before releasing it, and
	// Release discards unhealthy connections instead of returning them
	// to the idle set.
	require.NotNil(t, captured)
	assert.False(t, captured.Healthy())
}

func TestExecutorStatsTracksCompletionCounts(t *testing.T) {
	p, q := testSetup(t)
	ex := New(p, q, 2)
	defer ex.Close()

	ok := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		return "ok", nil
	})
	require.NoError(t, ex.Submit(ok))
	_, err := ok.Result(context.Background())
	require.NoError(t, err)

	failing := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		return nil, werrors.New(werrors.KindQuery, "boom")
	})
	require.NoError(t, ex.Submit(failing))
	_, err = failing.Result(context.Background())
	require.Error(t, err)

	stats := ex.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.GreaterOrEqual(t, stats.TotalExecuted, uint64(1))
	assert.GreaterOrEqual(t, stats.TotalFailed, uint64(1))
}

func TestExecutorFailsAlreadyExpiredDeadlineWithoutAcquiring(t *testing.T) {
	p, q := testSetup(t)
	ex := New(p, q, 1)
	defer ex.Close()

	req := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		t.Fatal("Run should not be called for an already-expired deadline")
		return nil, nil
	})
	req.Deadline = time.Now().Add(-time.Second)
	require.NoError(t, ex.Submit(req))

	_, err := req.Result(context.Background())
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindTimeout))
}

func TestExecutorCloseDrainsQueuedRequests(t *testing.T) {
	p, q := testSetup(t)
	ex := New(p, q, 1)

	// Fill the only worker with a blocked request so the next one sits
	// in the queue until Close drains it.
	block := make(chan struct{})
	blocker := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		<-block
		return nil, nil
	})
	require.NoError(t, ex.Submit(blocker))
	time.Sleep(20 * time.Millisecond)

	queued := queue.NewRequest(queue.KindExecute, queue.PriorityNormal, func(ctx context.Context, conn *pool.Connection) (any, error) {
		return nil, nil
	})
	require.NoError(t, ex.Submit(queued))

	closeDone := make(chan struct{})
	go func() {
		ex.Close()
		close(closeDone)
	}()

	_, err := queued.Result(context.Background())
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindShutdown))

	close(block)
	<-closeDone
}
