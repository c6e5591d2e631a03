package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

// DBTxKey carries an open transaction through a request context. Repositories
// pick it up via TxFromContext so a service can group several repository
// calls into one atomic unit without the repositories knowing about it.
const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the transaction from context, or nil if none.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// WithTxContext returns a child context carrying tx.
func WithTxContext(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// Runner executes functions inside a database transaction. Domain services
// depend on the narrow TxRunner interfaces they declare; Runner is the pgx
// implementation.
type Runner struct {
	pool *pgxpool.Pool
}

// NewRunner creates a Runner backed by pool.
func NewRunner(pool *pgxpool.Pool) *Runner {
	return &Runner{pool: pool}
}

// WithTx begins a transaction, stores it in the context, runs fn, and commits
// on success or rolls back on error. If the context already carries a
// transaction, fn runs inside it (no nested transactions).
func (r *Runner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(WithTxContext(ctx, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
