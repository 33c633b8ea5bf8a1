package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Postgres SQLSTATE codes mapped at the repository boundary.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
)

// WithTx executes fn within a transaction using the RepeatableRead isolation level. The
// domain mutation and its audit entry share this transaction; any error rolls both back.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, pgx.RepeatableRead, fn)
}

// WithReadCommittedTx is used by sweeps whose conditional updates must observe rows
// committed by concurrent callers instead of failing with a serialization error.
func WithReadCommittedTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withTx(ctx, pool, pgx.ReadCommitted, fn)
}

func withTx(ctx context.Context, pool *pgxpool.Pool, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	if pool == nil {
		return shared.StoreError("platform/db: begin tx", errors.New("pool not initialised"))
	}
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return shared.StoreError("platform/db: begin tx", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return shared.StoreError("platform/db: tx", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return shared.StoreError("platform/db: commit tx", err)
	}

	return nil
}

// IsNoRows reports whether err is pgx.ErrNoRows.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// HasCode reports whether err is a Postgres error with the given SQLSTATE.
func HasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
