package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx operations shared by pools, connections,
// and transactions. Repositories run against a Querier so the same code
// serves standalone calls and multi-statement transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner runs a function inside a single transaction. The message
// pipeline commits claim, feedback, aggregates, and marker atomically
// through this.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(q Querier) error) error
}

// RunInTx implements TxRunner on the pool. The transaction is rolled
// back when fn returns an error or panics.
func (db *DB) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

var _ TxRunner = (*DB)(nil)
