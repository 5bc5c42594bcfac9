// Package websqlite3 is a concurrent, priority-scheduled access layer
// in front of a single embedded SQLite database: a bounded connection
// pool, a priority-ordered request executor, and caller-controlled
// transaction scoping.
package websqlite3

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/joao-brasil/websqlite3/internal/config"
	"github.com/joao-brasil/websqlite3/internal/executor"
	"github.com/joao-brasil/websqlite3/internal/health"
	"github.com/joao-brasil/websqlite3/internal/pool"
	"github.com/joao-brasil/websqlite3/internal/queue"
	"github.com/joao-brasil/websqlite3/internal/werrors"
)

type clientState int

const (
	stateUninitialized clientState = iota
	stateConnected
	stateClosed
)

// Client is the single entry point for applications: it owns the
// pool, the priority queue, and the executor workers, and exposes
// execute/fetch operations plus transaction scoping.
type Client struct {
	mu    sync.Mutex
	cfg   *config.Config
	state clientState

	pool  *pool.Pool
	queue *queue.PriorityQueue
	exec  *executor.Executor
}

// NewClient builds a Client from an already-loaded, validated Config.
// It does no I/O until Connect is called.
func NewClient(cfg *config.Config) *Client {
	return &Client{cfg: cfg}
}

// Open loads and validates a YAML config file, then returns a Client
// ready for Connect.
func Open(path string) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindConfiguration, "loading config", err)
	}
	return NewClient(cfg), nil
}

// Connect opens the connection pool, priority queue, and executor
// workers. Calling Connect more than once is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateConnected {
		return nil
	}
	if c.state == stateClosed {
		return werrors.New(werrors.KindShutdown, "client already closed")
	}

	p, err := pool.New(ctx, c.cfg)
	if err != nil {
		return werrors.Wrap(werrors.KindConnection, "opening pool", err)
	}

	// Worker count defaults to pool.max_size (spec.md §9, Open Question
	// 3): there is no value in more workers than the pool can hand
	// connections to.
	q := queue.New(0)
	ex := executor.New(p, q, c.cfg.Pool.MaxSize)

	c.pool = p
	c.queue = q
	c.exec = ex
	c.state = stateConnected

	log.Println("[client] connected")
	return nil
}

// Close stops the executor, drains the queue, and closes every pooled
// connection. Calling Close more than once is a no-op.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state != stateConnected {
		c.state = stateClosed
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	ex, p := c.exec, c.pool
	c.mu.Unlock()

	ex.Close()
	err := p.Close()
	log.Println("[client] closed")
	return err
}

func (c *Client) ready() error {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case stateUninitialized:
		return werrors.New(werrors.KindTransaction, "client is not connected")
	case stateClosed:
		return werrors.New(werrors.KindShutdown, "client is closed")
	default:
		return nil
	}
}

// echoSQL logs query when pool.echo is enabled (spec.md §6 config schema:
// "echo: bool (default false) # log each SQL"), matching the teacher's
// per-bucket SQL echo logging.
func (c *Client) echoSQL(kind queue.Kind, query string) {
	if c.cfg.Pool.Echo {
		log.Printf("[client] echo %s: %s", kind, query)
	}
}

// NoTimeout means a request has no per-request deadline of its own and
// relies solely on its ctx. It is distinct from a timeout of zero:
// spec.md §8 defines timeout=0 as a deadline that has already expired,
// so passing 0 yields an immediate TimeoutError rather than waiting
// forever.
const NoTimeout time.Duration = -1

func (c *Client) submit(ctx context.Context, kind queue.Kind, priority Priority, timeout time.Duration, run func(ctx context.Context, conn *pool.Connection) (any, error)) (any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	if timeout == 0 {
		return nil, werrors.New(werrors.KindTimeout, "deadline already expired")
	}

	req := queue.NewRequest(kind, priority, run)
	if timeout > 0 {
		req.Deadline = time.Now().Add(timeout)
	}

	if err := c.exec.Submit(req); err != nil {
		return nil, err
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return req.Result(waitCtx)
}

// Execute runs a write statement (INSERT/UPDATE/DELETE/DDL) at the
// given priority, returning the number of rows affected and the last
// insert id. timeout == 0 yields an immediate TimeoutError without
// acquiring a connection (spec.md §8); use NoTimeout for no per-request
// deadline beyond ctx.
func (c *Client) Execute(ctx context.Context, query string, args []any, priority Priority, timeout time.Duration) (ExecResult, error) {
	c.echoSQL(queue.KindExecute, query)
	value, err := c.submit(ctx, queue.KindExecute, priority, timeout, func(ctx context.Context, conn *pool.Connection) (any, error) {
		res, err := conn.DB().ExecContext(ctx, query, args...)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindQuery, "execute", err)
		}
		rowsAffected, _ := res.RowsAffected()
		lastInsertID, _ := res.LastInsertId()
		return ExecResult{RowsAffected: rowsAffected, LastInsertID: lastInsertID}, nil
	})
	if err != nil {
		return ExecResult{}, err
	}
	return value.(ExecResult), nil
}

// ExecuteMany runs query once per entry in argsList inside a single
// dispatched request, in order.
func (c *Client) ExecuteMany(ctx context.Context, query string, argsList [][]any, priority Priority, timeout time.Duration) error {
	c.echoSQL(queue.KindExecuteMany, query)
	_, err := c.submit(ctx, queue.KindExecuteMany, priority, timeout, func(ctx context.Context, conn *pool.Connection) (any, error) {
		for _, args := range argsList {
			if _, err := conn.DB().ExecContext(ctx, query, args...); err != nil {
				return nil, werrors.Wrap(werrors.KindQuery, "execute_many", err)
			}
		}
		return nil, nil
	})
	return err
}

// FetchOne runs query and returns at most one row, and whether a row
// was found.
func (c *Client) FetchOne(ctx context.Context, query string, args []any, priority Priority, timeout time.Duration) (Row, bool, error) {
	c.echoSQL(queue.KindFetchOne, query)
	value, err := c.submit(ctx, queue.KindFetchOne, priority, timeout, func(ctx context.Context, conn *pool.Connection) (any, error) {
		rows, err := conn.DB().QueryContext(ctx, query, args...)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindQuery, "fetch_one", err)
		}
		row, found, err := firstRowFromSQL(rows)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindQuery, "fetch_one", err)
		}
		return fetchOneResult{row: row, found: found}, nil
	})
	if err != nil {
		return Row{}, false, err
	}
	r := value.(fetchOneResult)
	return r.row, r.found, nil
}

// FetchAll runs query and returns every matching row.
func (c *Client) FetchAll(ctx context.Context, query string, args []any, priority Priority, timeout time.Duration) ([]Row, error) {
	c.echoSQL(queue.KindFetchAll, query)
	value, err := c.submit(ctx, queue.KindFetchAll, priority, timeout, func(ctx context.Context, conn *pool.Connection) (any, error) {
		rows, err := conn.DB().QueryContext(ctx, query, args...)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindQuery, "fetch_all", err)
		}
		out, err := rowsFromSQL(rows)
		if err != nil {
			return nil, werrors.Wrap(werrors.KindQuery, "fetch_all", err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]Row), nil
}

// ExecResult reports the outcome of a write statement.
type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

type fetchOneResult struct {
	row   Row
	found bool
}

// Stats is a point-in-time snapshot matching the stats() shape from
// spec.md §6: pool and executor counters plus a redacted echo of the
// config the Client was built with.
type Stats struct {
	Initialized bool
	Pool        pool.Stats
	Executor    executor.Stats
	Config      config.Config
}

// Stats returns the current pool, executor, and config snapshot.
// Callable only once Connect has succeeded.
func (c *Client) Stats() (Stats, error) {
	if err := c.ready(); err != nil {
		return Stats{}, err
	}
	return Stats{
		Initialized: true,
		Pool:        c.pool.Stats(),
		Executor:    c.exec.Stats(),
		Config:      *c.cfg,
	}, nil
}

// HealthChecker returns a health checker bound to this Client's pool,
// for wiring into an HTTP server (see cmd/websqlite3ctl). Only valid
// once Connect has succeeded.
func (c *Client) HealthChecker() (*health.Checker, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	return health.NewChecker(c.cfg, c.pool), nil
}

// RawConn is a connection handed directly to a caller via Conn,
// bypassing the queue, executor, and any BEGIN/COMMIT framing. The
// caller must call Release exactly once.
type RawConn struct {
	client *Client
	conn   *pool.Connection
}

// DB returns the underlying *sql.DB for direct driver calls.
func (r *RawConn) DB() *sql.DB { return r.conn.DB() }

// Release returns the connection to the pool. ok should be false if
// the caller hit a connection-level failure.
func (r *RawConn) Release(ok bool) {
	if !ok {
		r.conn.MarkUnhealthy()
	}
	r.conn.Unpin()
	r.client.pool.Release(r.conn, ok)
}

// Conn acquires a connection directly from the pool, bypassing the
// priority queue entirely. Useful for bulk loads or driver-specific
// calls the execute/fetch helpers don't expose.
func (c *Client) Conn(ctx context.Context) (*RawConn, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn.Pin(pool.PinRaw)
	return &RawConn{client: c, conn: conn}, nil
}
