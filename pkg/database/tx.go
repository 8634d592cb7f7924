package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxManager runs a function inside a transaction carried by its context.
// Repositories called with that context join the transaction. A nested
// WithinTx runs inside a savepoint, so its failure rolls back only its own
// work while the outer transaction continues.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ TxManager = (*DB)(nil)

// WithinTx begins a transaction on the scoped connection (or a savepoint if
// one is already active), runs fn, and commits if fn returns nil.
// Any error or panic rolls back.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	var tx pgx.Tx
	if outer, ok := GetTx(ctx); ok {
		tx, err = outer.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to create savepoint: %w", err)
		}
	} else if scope, ok := GetScope(ctx); ok {
		tx, err = scope.Conn.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
	} else {
		tx, err = db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback(ctx) //nolint:errcheck // best-effort after failure
		}
	}()

	if err := fn(setTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}
