// Package txscope implements transaction scoping: pinning a single
// Connection outside the normal pool/executor flow for the duration of
// a caller-controlled transaction.
package txscope

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/joao-brasil/websqlite3/internal/metrics"
	"github.com/joao-brasil/websqlite3/internal/pool"
	"github.com/joao-brasil/websqlite3/internal/werrors"
)

// Scope holds one Connection pinned for the lifetime of a transaction.
// It bypasses the executor and priority queue entirely: once begun, a
// transaction's statements run directly against the pinned connection
// in the order the caller issues them.
type Scope struct {
	pool *pool.Pool
	conn *pool.Connection
	done bool
	echo bool
}

// Begin acquires a connection from p, pins it, and issues BEGIN with
// the given isolation mode ("" uses SQLite's default deferred
// transaction). echo mirrors pool.echo (spec.md §6): when true, every
// statement run through the returned Scope is logged.
func Begin(ctx context.Context, p *pool.Pool, isolationLevel string, echo bool) (*Scope, error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	conn.Pin(pool.PinTransaction)

	stmt := "BEGIN"
	switch isolationLevel {
	case "", "DEFERRED":
		stmt = "BEGIN DEFERRED"
	case "IMMEDIATE":
		stmt = "BEGIN IMMEDIATE"
	case "EXCLUSIVE":
		stmt = "BEGIN EXCLUSIVE"
	default:
		conn.Unpin()
		p.Release(conn, true)
		return nil, werrors.New(werrors.KindTransaction, fmt.Sprintf("unknown isolation level %q", isolationLevel))
	}

	if _, err := conn.DB().ExecContext(ctx, stmt); err != nil {
		conn.Unpin()
		p.Release(conn, !werrors.IsConnectionLevel(err))
		return nil, werrors.Wrap(werrors.KindTransaction, "BEGIN failed", err)
	}

	if echo {
		log.Printf("[txscope] echo begin: %s", stmt)
	}
	return &Scope{pool: p, conn: conn, echo: echo}, nil
}

// Conn returns the pinned connection, for direct driver access outside
// the execute/fetch helpers below.
func (s *Scope) Conn() *pool.Connection { return s.conn }

// Execute runs a write statement against the pinned connection.
func (s *Scope) Execute(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.done {
		return nil, werrors.New(werrors.KindTransaction, "transaction already finished")
	}
	if s.echo {
		log.Printf("[txscope] echo execute: %s", query)
	}
	res, err := s.conn.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindQuery, "execute", err)
	}
	return res, nil
}

// ExecuteMany runs query once per entry in argsList, in order, within
// the same transaction.
func (s *Scope) ExecuteMany(ctx context.Context, query string, argsList [][]any) error {
	if s.done {
		return werrors.New(werrors.KindTransaction, "transaction already finished")
	}
	if s.echo {
		log.Printf("[txscope] echo execute_many: %s", query)
	}
	for _, args := range argsList {
		if _, err := s.conn.DB().ExecContext(ctx, query, args...); err != nil {
			return werrors.Wrap(werrors.KindQuery, "execute_many", err)
		}
	}
	return nil
}

// Query runs a read query against the pinned connection, returning the
// raw *sql.Rows for the caller to scan (via row.go helpers at the root
// package level).
func (s *Scope) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.done {
		return nil, werrors.New(werrors.KindTransaction, "transaction already finished")
	}
	if s.echo {
		log.Printf("[txscope] echo query: %s", query)
	}
	rows, err := s.conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindQuery, "query", err)
	}
	return rows, nil
}

// Commit commits the transaction and releases the pinned connection.
// On failure the connection is marked unhealthy and discarded, since
// the transaction's final state is unknown.
func (s *Scope) Commit(ctx context.Context) error {
	return s.finish(ctx, "COMMIT")
}

// Rollback rolls the transaction back and releases the pinned
// connection.
func (s *Scope) Rollback(ctx context.Context) error {
	return s.finish(ctx, "ROLLBACK")
}

func (s *Scope) finish(ctx context.Context, stmt string) error {
	if s.done {
		return werrors.New(werrors.KindTransaction, "transaction already finished")
	}
	s.done = true

	if s.echo {
		log.Printf("[txscope] echo %s", stmt)
	}

	dur := s.conn.Unpin()
	metrics.PinningDuration.WithLabelValues(string(pool.PinTransaction)).Observe(dur.Seconds())

	_, err := s.conn.DB().ExecContext(ctx, stmt)
	if err != nil {
		s.conn.MarkUnhealthy()
		s.pool.Release(s.conn, false)
		return werrors.Wrap(werrors.KindTransaction, stmt+" failed", err)
	}

	s.pool.Release(s.conn, true)
	return nil
}
