// Package werrors defines the fixed error taxonomy shared by the pool,
// queue, executor, and client packages. Each Kind has a single recovery
// policy, documented alongside the Kind constants.
package werrors

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
)

// Kind classifies an Error into one of the eight kinds below, each with
// its own recovery policy.
type Kind int

const (
	// KindConfiguration covers bad config files, bad field types, and
	// min_size > max_size. Raised at load or Connect; never retried.
	KindConfiguration Kind = iota
	// KindConnection covers the driver failing to open a new handle.
	// The attempt does not count toward pool size.
	KindConnection
	// KindPoolExhausted covers connection_timeout elapsing with no free
	// slot. Not automatically retried.
	KindPoolExhausted
	// KindQuery covers the driver raising a SQL error. The connection is
	// kept if the driver reports it still usable, else discarded.
	KindQuery
	// KindTimeout covers a deadline exceeded at queue wait, pool
	// acquisition, or driver execution.
	KindTimeout
	// KindTransaction covers BEGIN/COMMIT/ROLLBACK failure or use of an
	// uninitialized Client.
	KindTransaction
	// KindShutdown covers submission after Close, or operations racing
	// a Close in progress.
	KindShutdown
	// KindQueueFull covers a bounded queue's circuit breaker rejecting a
	// submission outright (an implementer MAY add; see spec.md §4.4).
	KindQueueFull
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindConnection:
		return "ConnectionError"
	case KindPoolExhausted:
		return "PoolExhaustedError"
	case KindQuery:
		return "QueryError"
	case KindTimeout:
		return "TimeoutError"
	case KindTransaction:
		return "TransactionError"
	case KindShutdown:
		return "Shutdown"
	case KindQueueFull:
		return "QueueFull"
	default:
		return "WebSQLite3Error"
	}
}

// Error is the single error type returned across package boundaries. It
// carries a Kind for programmatic classification (see Is / the Kind
// helpers below) and wraps the underlying cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether err is a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	we, ok := err.(*Error)
	return ok && we.Kind == kind
}

// IsConnectionLevel reports whether err indicates the underlying
// database/sql connection itself is no longer usable, as opposed to an
// ordinary SQL-level failure (constraint violation, syntax error). The
// executor uses this to decide whether to mark a Connection unhealthy
// before releasing it back to the pool.
func IsConnectionLevel(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}
