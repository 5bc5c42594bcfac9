package pool

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/websqlite3/internal/config"
	"github.com/joao-brasil/websqlite3/internal/metrics"
	"github.com/joao-brasil/websqlite3/internal/werrors"
	_ "github.com/mattn/go-sqlite3"
)

// Pool manages a bounded set of Connections to a single embedded SQLite
// database. It provides acquire/release semantics with configurable
// min/max size, a warm pool of idle connections, stale-connection
// eviction, and health checking.
type Pool struct {
	mu sync.Mutex

	cfg *config.Config

	// idle holds connections available for reuse, most-recently-used
	// last (LIFO pop for cache warmth).
	idle []*Connection

	// active tracks connections currently checked out, keyed by id.
	active map[uint64]*Connection

	// nextID is an atomic counter assigning unique connection ids.
	nextID atomic.Uint64

	closed bool

	// waiters is a channel-based queue for callers blocked on Acquire
	// when the pool is at max_size. Each waiter supplies a channel that
	// receives the connection handed to it.
	waiters []chan *Connection

	// pendingCreations counts cold-create slots reserved under p.mu but
	// not yet added to active: createConn runs unlocked (it does I/O),
	// so the reservation is what keeps two concurrent cold acquires from
	// both observing headroom and jointly overshooting max_size.
	pendingCreations int

	stopCh chan struct{}
	wg     sync.WaitGroup

	createdTotal atomic.Uint64
	closedTotal  atomic.Uint64
}

// New creates a Pool against the given config and eagerly opens
// min_size connections (the warm pool).
func New(ctx context.Context, cfg *config.Config) (*Pool, error) {
	p := &Pool{
		cfg:    cfg,
		idle:   make([]*Connection, 0, cfg.Pool.MaxSize),
		active: make(map[uint64]*Connection),
		stopCh: make(chan struct{}),
	}

	for i := 0; i < cfg.Pool.MinSize; i++ {
		conn, err := p.createConn(ctx)
		if err != nil {
			log.Printf("[pool] WARNING: failed to create warm connection %d/%d: %v",
				i+1, cfg.Pool.MinSize, err)
			continue
		}
		p.idle = append(p.idle, conn)
	}

	p.updateMetrics()
	log.Printf("[pool] initialized: %d idle, max=%d", len(p.idle), cfg.Pool.MaxSize)

	p.wg.Add(1)
	go p.maintenanceLoop()

	return p, nil
}

// Acquire obtains a Connection from the pool. If none is available and
// the pool is at max_size, the caller blocks until one is released,
// connection_timeout elapses (PoolExhausted), or ctx is done (Timeout).
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	start := time.Now()

	if deadline, ok := ctx.Deadline(); ok && !deadline.After(start) {
		metrics.ConnectionsTotal.WithLabelValues("timeout").Inc()
		return nil, werrors.New(werrors.KindTimeout, "deadline already passed at pool acquire")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, werrors.New(werrors.KindShutdown, "pool is closed")
	}

	if conn := p.popIdle(); conn != nil {
		p.active[conn.id] = conn
		conn.markAcquired()
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues("acquired").Inc()
		return conn, nil
	}

	total := len(p.idle) + len(p.active) + p.pendingCreations
	if total < p.cfg.Pool.MaxSize {
		p.pendingCreations++
		p.mu.Unlock()

		conn, err := p.createConn(ctx)

		p.mu.Lock()
		p.pendingCreations--
		if err != nil {
			p.mu.Unlock()
			metrics.ConnectionErrors.WithLabelValues("create_failed").Inc()
			return nil, werrors.Wrap(werrors.KindConnection, "creating connection", err)
		}
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			p.closedTotal.Add(1)
			return nil, werrors.New(werrors.KindShutdown, "pool is closed")
		}
		conn.markAcquired()
		p.active[conn.id] = conn
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues("acquired").Inc()
		return conn, nil
	}

	// Pool is full — enqueue as a waiter.
	waiterCh := make(chan *Connection, 1)
	p.waiters = append(p.waiters, waiterCh)
	metrics.QueueLength.WithLabelValues("pool_waiters").Set(float64(len(p.waiters)))
	p.mu.Unlock()

	timeout := p.cfg.Pool.ConnectionTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case conn := <-waiterCh:
		if conn == nil {
			metrics.ConnectionsTotal.WithLabelValues("queue_error").Inc()
			return nil, werrors.New(werrors.KindShutdown, "pool closed while waiting for a connection")
		}
		metrics.QueueWaitDuration.Observe(time.Since(start).Seconds())
		metrics.ConnectionsTotal.WithLabelValues("acquired").Inc()
		return conn, nil

	case <-timer.C:
		p.removeWaiter(waiterCh)
		metrics.ConnectionsTotal.WithLabelValues("timeout").Inc()
		metrics.QueueWaitDuration.Observe(time.Since(start).Seconds())
		return nil, werrors.New(werrors.KindPoolExhausted,
			fmt.Sprintf("no connection available within %v", timeout))

	case <-ctx.Done():
		p.removeWaiter(waiterCh)
		metrics.ConnectionsTotal.WithLabelValues("cancelled").Inc()
		return nil, werrors.Wrap(werrors.KindTimeout, "acquire cancelled", ctx.Err())
	}
}

// Release returns a connection to the pool. ok indicates whether the
// caller's work on the connection completed without a connection-level
// failure; recycle criteria (age, use count, health) are re-checked
// regardless.
func (p *Pool) Release(conn *Connection, ok bool) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// Pool.Close already closed every connection it owned (idle or
		// active) and counted it; a caller releasing one of those after
		// the fact must not count it again.
		if conn.State() != ConnStateClosed {
			conn.Close()
			p.closedTotal.Add(1)
		}
		return
	}
	delete(p.active, conn.id)
	p.mu.Unlock()

	if !ok || !conn.Healthy() || p.shouldRecycle(conn) {
		conn.Close()
		p.closedTotal.Add(1)
		p.mu.Lock()
		p.updateMetrics()
		p.mu.Unlock()
		metrics.ConnectionsTotal.WithLabelValues("released_discarded").Inc()
		return
	}

	conn.markIdle()

	p.mu.Lock()
	if len(p.waiters) > 0 {
		waiterCh := p.waiters[0]
		p.waiters = p.waiters[1:]
		metrics.QueueLength.WithLabelValues("pool_waiters").Set(float64(len(p.waiters)))
		conn.markAcquired()
		p.active[conn.id] = conn
		p.updateMetrics()
		p.mu.Unlock()
		waiterCh <- conn
		metrics.ConnectionsTotal.WithLabelValues("released").Inc()
		return
	}

	p.idle = append(p.idle, conn)
	p.updateMetrics()
	p.mu.Unlock()
	metrics.ConnectionsTotal.WithLabelValues("released").Inc()
}

// Discard removes a connection from the pool permanently, e.g. after an
// error that leaves the connection's state unknown.
func (p *Pool) Discard(conn *Connection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	delete(p.active, conn.id)
	p.updateMetrics()
	p.mu.Unlock()
	conn.Close()
	p.closedTotal.Add(1)
	metrics.ConnectionErrors.WithLabelValues("discarded").Inc()
}

// Close shuts the pool down: in-flight waiters are cancelled, and every
// connection (idle or active) is closed.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)

	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil

	for _, c := range p.idle {
		c.Close()
		p.closedTotal.Add(1)
	}
	p.idle = nil

	for _, c := range p.active {
		c.Close()
		p.closedTotal.Add(1)
	}
	p.active = nil

	p.mu.Unlock()

	p.wg.Wait()

	log.Println("[pool] closed")
	return nil
}

// Stats is a point-in-time snapshot of pool counters, matching the
// pool sub-object of the stats() shape (spec.md §6).
type Stats struct {
	Size         int
	InUse        int
	Available    int
	Max          int
	Waiters      int
	CreatedTotal uint64
	ClosedTotal  uint64
}

// Stats returns the current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:         len(p.idle) + len(p.active),
		InUse:        len(p.active),
		Available:    len(p.idle),
		Max:          p.cfg.Pool.MaxSize,
		Waiters:      len(p.waiters),
		CreatedTotal: p.createdTotal.Load(),
		ClosedTotal:  p.closedTotal.Load(),
	}
}

// ── internal helpers ────────────────────────────────────────────────────

func (p *Pool) createConn(ctx context.Context) (*Connection, error) {
	id := p.nextID.Add(1)

	db, err := sql.Open("sqlite3", p.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One *sql.DB per logical connection: SQLite serializes writers
	// internally, and the pool — not database/sql — owns the bound on
	// concurrent handles.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, p.cfg.Connection.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	p.createdTotal.Add(1)
	return newConnection(id, db), nil
}

// popIdle removes and returns the most-recently-used idle connection,
// skipping (and closing) any that have gone stale. Returns nil if none
// are available.
func (p *Pool) popIdle() *Connection {
	for len(p.idle) > 0 {
		n := len(p.idle) - 1
		conn := p.idle[n]
		p.idle = p.idle[:n]

		if p.isStale(conn) {
			conn.Close()
			p.closedTotal.Add(1)
			continue
		}
		return conn
	}
	return nil
}

// isStale applies the idle-time half of the recycle check. Must be
// called while holding p.mu (popIdle's caller already does).
func (p *Pool) isStale(conn *Connection) bool {
	if p.cfg.Pool.MaxIdleTime <= 0 {
		return false
	}
	total := len(p.idle) + 1 + len(p.active) // +1: conn already popped
	if total <= p.cfg.Pool.MinSize {
		return false
	}
	return conn.idleDuration() > p.cfg.Pool.MaxIdleTime
}

// shouldRecycle applies the full recycle check from spec.md §4.2: age,
// use count, and health. Idle-time eviction is handled by popIdle and
// evictStale, which alone know whether the pool is above min_size.
func (p *Pool) shouldRecycle(conn *Connection) bool {
	if p.cfg.Pool.PoolRecycle > 0 && conn.age() >= p.cfg.Pool.PoolRecycle {
		return true
	}
	if p.cfg.Pool.MaxQueries > 0 && conn.uses() >= uint64(p.cfg.Pool.MaxQueries) {
		return true
	}
	if !conn.Healthy() {
		return true
	}
	return false
}

func (p *Pool) removeWaiter(ch chan *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			metrics.QueueLength.WithLabelValues("pool_waiters").Set(float64(len(p.waiters)))
			break
		}
	}
}

func (p *Pool) updateMetrics() {
	metrics.ConnectionsActive.Set(float64(len(p.active)))
	metrics.ConnectionsIdle.Set(float64(len(p.idle)))
	metrics.ConnectionsMax.Set(float64(p.cfg.Pool.MaxSize))
}

// maintenanceLoop runs periodic idle-sweep and min_size replenishment.
func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.HealthCheck()
			p.evictStale()
			p.ensureMinSize()
		}
	}
}

// evictStale removes idle connections that have exceeded max_idle_time,
// never going below min_size.
func (p *Pool) evictStale() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Pool.MaxIdleTime <= 0 {
		return
	}

	minSize := p.cfg.Pool.MinSize
	total := len(p.idle) + len(p.active)
	remaining := make([]*Connection, 0, len(p.idle))
	evicted := 0

	for _, conn := range p.idle {
		if total-evicted > minSize && conn.idleDuration() > p.cfg.Pool.MaxIdleTime {
			conn.Close()
			p.closedTotal.Add(1)
			evicted++
			continue
		}
		remaining = append(remaining, conn)
	}
	p.idle = remaining

	if evicted > 0 {
		log.Printf("[pool] evicted %d stale connections", evicted)
		p.updateMetrics()
	}
}

// ensureMinSize tops idle connections back up to min_size.
func (p *Pool) ensureMinSize() {
	p.mu.Lock()
	deficit := p.cfg.Pool.MinSize - len(p.idle)
	total := len(p.idle) + len(p.active) + p.pendingCreations
	headroom := p.cfg.Pool.MaxSize - total
	if deficit > headroom {
		deficit = headroom
	}
	if deficit > 0 {
		p.pendingCreations += deficit
	}
	p.mu.Unlock()

	if deficit <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	created := 0
	for i := 0; i < deficit; i++ {
		conn, err := p.createConn(ctx)
		if err != nil {
			log.Printf("[pool] failed to create min_size connection: %v", err)
			break
		}
		p.mu.Lock()
		p.pendingCreations--
		if p.closed {
			p.mu.Unlock()
			conn.Close()
			p.closedTotal.Add(1)
			continue
		}
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
		created++
	}

	p.mu.Lock()
	p.pendingCreations -= deficit - created
	if p.pendingCreations < 0 {
		p.pendingCreations = 0
	}
	p.mu.Unlock()

	if created > 0 {
		p.mu.Lock()
		p.updateMetrics()
		p.mu.Unlock()
		log.Printf("[pool] replenished %d idle connections", created)
	}
}
