package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/officina-erp/officina-erp/internal/shared"
)

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level. The callback error aborts the transaction; serialization
// losers surface as Conflict so callers can re-read and retry.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return mapTxError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapTxError(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// mapTxError converts PostgreSQL serialization failures into the Conflict
// sentinel; every other error passes through unchanged.
func mapTxError(err error) error {
	if IsSerializationFailure(err) {
		return fmt.Errorf("platform/db: transaction lost a concurrent race (%v): %w", err, shared.ErrConflict)
	}
	return err
}

// IsSerializationFailure reports whether err is a PostgreSQL serialization
// failure or deadlock (SQLSTATE 40001, 40P01). Under RepeatableRead the
// loser of two concurrent writers on the same rows receives one of these.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505), optionally restricted to a named constraint.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
