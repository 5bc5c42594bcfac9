package websqlite3

import (
	"context"

	"github.com/joao-brasil/websqlite3/internal/txscope"
	"github.com/joao-brasil/websqlite3/internal/werrors"
)

// Tx is a caller-controlled transaction: a single Connection pinned
// for the transaction's lifetime, bypassing the priority queue and
// executor entirely. Statements run in the order the caller issues
// them.
type Tx struct {
	scope *txscope.Scope
}

// Begin acquires a connection and issues BEGIN with the configured
// isolation level (connection.isolation_level, spec.md §9 Open
// Question 4). The caller must call Commit or Rollback exactly once.
func (c *Client) Begin(ctx context.Context) (*Tx, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	scope, err := txscope.Begin(ctx, c.pool, c.cfg.Connection.IsolationLevel, c.cfg.Pool.Echo)
	if err != nil {
		return nil, err
	}
	return &Tx{scope: scope}, nil
}

// WithTransaction runs fn within a transaction, committing on a nil
// return and rolling back otherwise (including on panic, which is
// re-raised after rollback).
func (c *Client) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return werrors.Wrap(werrors.KindTransaction, "rollback after error: "+err.Error(), rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Execute runs a write statement within the transaction.
func (tx *Tx) Execute(ctx context.Context, query string, args ...any) (ExecResult, error) {
	res, err := tx.scope.Execute(ctx, query, args...)
	if err != nil {
		return ExecResult{}, err
	}
	rowsAffected, _ := res.RowsAffected()
	lastInsertID, _ := res.LastInsertId()
	return ExecResult{RowsAffected: rowsAffected, LastInsertID: lastInsertID}, nil
}

// ExecuteMany runs query once per entry in argsList within the
// transaction, in order.
func (tx *Tx) ExecuteMany(ctx context.Context, query string, argsList [][]any) error {
	return tx.scope.ExecuteMany(ctx, query, argsList)
}

// FetchOne runs query within the transaction and returns at most one
// row, and whether a row was found.
func (tx *Tx) FetchOne(ctx context.Context, query string, args ...any) (Row, bool, error) {
	rows, err := tx.scope.Query(ctx, query, args...)
	if err != nil {
		return Row{}, false, err
	}
	return firstRowFromSQL(rows)
}

// FetchAll runs query within the transaction and returns every
// matching row.
func (tx *Tx) FetchAll(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := tx.scope.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rowsFromSQL(rows)
}

// Commit commits the transaction and releases its pinned connection.
func (tx *Tx) Commit(ctx context.Context) error {
	return tx.scope.Commit(ctx)
}

// Rollback rolls the transaction back and releases its pinned
// connection.
func (tx *Tx) Rollback(ctx context.Context) error {
	return tx.scope.Rollback(ctx)
}
