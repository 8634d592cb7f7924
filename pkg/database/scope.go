package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Scope is a pooled connection reserved for one request or job.
type Scope struct {
	Conn *pgxpool.Conn
}

// Close releases the connection back to the pool.
func (s *Scope) Close() {
	if s.Conn == nil {
		return
	}
	s.Conn.Release()
	s.Conn = nil
}

// Acquire reserves a connection. The returned Scope MUST be closed with
// defer scope.Close().
func (db *DB) Acquire(ctx context.Context) (*Scope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Scope{Conn: conn}, nil
}

// WithScope runs fn with a scoped connection stored in its context.
// Used by background work (startup seeding) outside the HTTP middleware.
func (db *DB) WithScope(ctx context.Context, fn func(ctx context.Context) error) error {
	scope, err := db.Acquire(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()

	return fn(SetScope(ctx, scope))
}
