// Package store is the durable state layer: the call event log, the
// dispatch and launch-job queues, calls, utterances, tool executions,
// and the read-only tool catalog. All cross-process coordination goes
// through these tables.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection; the caller creates and closes the pool.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors shared by the stores. HTTP layers translate these to
// status codes in one place per server.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDispatchUnavailable indicates the dispatch exists but is not
	// pending (already claimed, or swept to expired).
	ErrDispatchUnavailable = errors.New("dispatch unavailable")

	// ErrDispatchExpired indicates the dispatch is still pending but
	// past its expiry.
	ErrDispatchExpired = errors.New("dispatch expired")
)

// NotifyChannel is the pg_notify channel carrying event envelopes so
// pollers can wake early. Polling remains authoritative.
const NotifyChannel = "vocero_events"

// Store executes all SQL against the shared pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store using an existing pgxpool.Pool. The caller owns
// the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("store.New: pool is required")
	}
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
