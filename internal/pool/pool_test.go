package pool

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joao-brasil/websqlite3/internal/config"
	"github.com/joao-brasil/websqlite3/internal/werrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, opts ...func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Connection: config.ConnectionConfig{
			Database: filepath.Join(t.TempDir(), "test.db"),
			Timeout:  2 * time.Second,
		},
		Pool: config.PoolConfig{
			MinSize:           1,
			MaxSize:           2,
			ConnectionTimeout: 200 * time.Millisecond,
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func TestNewWarmsMinSize(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	stats := p.Stats()
	assert.Equal(t, 1, stats.Available)
	assert.Equal(t, 0, stats.InUse)
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ConnStateActive, conn.State())

	stats := p.Stats()
	assert.Equal(t, 1, stats.InUse)

	p.Release(conn, true)
	stats = p.Stats()
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, 1, stats.Available)
}

func TestAcquireGrowsBeyondMinSizeUpToMax(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, c1.ID(), c2.ID())

	stats := p.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, 2, stats.InUse)

	p.Release(c1, true)
	p.Release(c2, true)
}

func TestAcquireBlocksAtMaxSizeThenTimesOut(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindPoolExhausted))

	p.Release(c1, true)
	p.Release(c2, true)
}

func TestAcquireUnblocksWhenConnectionReleased(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Pool.ConnectionTimeout = 2 * time.Second
	})
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer p.Close()

	c1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	c2, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var waiterConn *Connection
	var waiterErr error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		waiterConn, waiterErr = p.Acquire(context.Background())
	}()

	time.Sleep(30 * time.Millisecond)
	p.Release(c1, true)
	wg.Wait()

	require.NoError(t, waiterErr)
	require.NotNil(t, waiterConn)
	p.Release(waiterConn, true)
	p.Release(c2, true)
}

func TestAcquireFailsImmediatelyOnExpiredDeadline(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	statsBefore := p.Stats()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindTimeout))

	statsAfter := p.Stats()
	assert.Equal(t, statsBefore, statsAfter)
}

func TestReleaseDiscardsUnhealthyConnection(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.MarkUnhealthy()
	p.Release(conn, true)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Available)
}

func TestReleaseDiscardsOnRecycleByUseCount(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Pool.MaxQueries = 1
	})
	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(conn, true)

	stats := p.Stats()
	assert.Equal(t, 0, stats.Available)
}

func TestStatsTracksCreatedAndClosedTotals(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, uint64(1), p.Stats().CreatedTotal) // warm min_size connection

	conn, err := p.Acquire(context.Background())
	require.NoError(t, err)
	conn.MarkUnhealthy()
	p.Release(conn, true)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.CreatedTotal)
	assert.Equal(t, uint64(1), stats.ClosedTotal)
}

func TestCloseRejectsFurtherAcquire(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, werrors.Is(err, werrors.KindShutdown))
}

func TestHealthCheckRemovesDeadIdleConnections(t *testing.T) {
	p, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer p.Close()

	p.mu.Lock()
	for _, c := range p.idle {
		c.db.Close()
	}
	p.mu.Unlock()

	p.HealthCheck()

	stats := p.Stats()
	assert.Equal(t, 0, stats.Available)
}
