// Package pool provides the bounded connection pool for a single embedded
// SQLite database: acquire/release semantics, a warm min_size floor,
// idle/age/use-count recycling, and health checking.
package pool

import (
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PinReason describes why a Connection is pinned (held outside the
// normal acquire/release cycle, not returnable to the idle set).
type PinReason string

const (
	PinNone        PinReason = ""
	PinTransaction PinReason = "transaction"
	PinPrepared    PinReason = "prepared"
	PinBulkLoad    PinReason = "bulk_load"
	// PinRaw marks a connection handed directly to a caller via
	// Client.Conn, bypassing the queue/executor and any BEGIN/COMMIT
	// framing. The caller owns release.
	PinRaw PinReason = "raw"
)

// ConnState represents a Connection's lifecycle state within the pool.
type ConnState int

const (
	ConnStateIdle   ConnState = iota // Available in the pool
	ConnStateActive                  // Acquired by a caller
	ConnStateClosed                  // Removed from the pool
)

// Connection wraps a *sql.DB pinned to exactly one physical SQLite
// connection, carrying the metadata the Pool needs to make lifecycle
// decisions: identity, timestamps, use count, health, and pin state.
type Connection struct {
	mu sync.Mutex

	db *sql.DB

	// id is a unique, monotonically increasing identifier within the
	// process. uuid is a globally unique tag for cross-log correlation.
	id   uint64
	uuid string

	state     ConnState
	healthy   bool
	pinReason PinReason
	pinnedAt  time.Time

	createdAt       time.Time
	lastUsedAt      time.Time
	lastHealthCheck time.Time

	// useCount tracks how many times this connection has been acquired,
	// counted across all Request kinds (spec.md §9, Open Question 2).
	useCount uint64
}

func newConnection(id uint64, db *sql.DB) *Connection {
	now := time.Now()
	return &Connection{
		db:              db,
		id:              id,
		uuid:            uuid.NewString(),
		state:           ConnStateIdle,
		healthy:         true,
		createdAt:       now,
		lastUsedAt:      now,
		lastHealthCheck: now,
	}
}

// DB returns the underlying *sql.DB, usable for direct driver calls
// (execute/executemany/fetchone/fetchall/begin/commit/rollback).
func (c *Connection) DB() *sql.DB { return c.db }

// ID returns the connection's process-unique numeric identifier.
func (c *Connection) ID() uint64 { return c.id }

// UUID returns the connection's globally unique correlation tag.
func (c *Connection) UUID() string { return c.uuid }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Healthy reports whether the connection is still considered usable.
func (c *Connection) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// MarkUnhealthy flags the connection so the Pool discards it on release
// instead of returning it to the idle set. Set by the executor when the
// driver reports a connection-level failure, not a plain SQL error.
func (c *Connection) MarkUnhealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthy = false
}

// IsPinned reports whether the connection is currently pinned.
func (c *Connection) IsPinned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinReason != PinNone
}

// PinReason returns the current pin reason, or PinNone.
func (c *Connection) PinReason() PinReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pinReason
}

// Pin marks the connection as pinned for the given reason.
func (c *Connection) Pin(reason PinReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinReason == PinNone {
		c.pinnedAt = time.Now()
	}
	c.pinReason = reason
}

// Unpin clears the pin reason and returns how long the connection was
// pinned.
func (c *Connection) Unpin() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var dur time.Duration
	if c.pinReason != PinNone {
		dur = time.Since(c.pinnedAt)
	}
	c.pinReason = PinNone
	c.pinnedAt = time.Time{}
	return dur
}

func (c *Connection) markAcquired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateActive
	c.lastUsedAt = time.Now()
	c.useCount++
}

func (c *Connection) markIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateIdle
	c.lastUsedAt = time.Now()
}

func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = ConnStateClosed
}

// age returns how long ago the connection was created.
func (c *Connection) age() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.createdAt)
}

// idleDuration returns how long the connection has been idle.
func (c *Connection) idleDuration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsedAt)
}

// uses returns the current use count.
func (c *Connection) uses() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useCount
}

// Close closes the underlying database handle.
func (c *Connection) Close() error {
	c.markClosed()
	return c.db.Close()
}
