// Package store provides the data access layer for the jobs table. All
// queries run on *pgxpool.Pool directly; every mutating operation is a single
// conditional UPDATE so that claim and ownership semantics hold without any
// application-side locking.
package store

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// Store is the central data access object. Callers should use the job
// methods rather than the pool directly.
type Store struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

// New creates a Store backed by pool. The stdlib-wrapped *sql.DB shares the
// same pool; it exists for golang-migrate and raw test queries.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		db:   stdlib.OpenDBFromPool(pool),
	}
}

// Pool returns the underlying pgxpool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// DB returns the stdlib-wrapped *sql.DB.
func (s *Store) DB() *sql.DB { return s.db }
