package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/officina-erp/officina-erp/internal/shared"
)

func TestMapTxErrorSerializationFailure(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "40001", Message: "could not serialize access due to concurrent update"}
	wrapped := fmt.Errorf("refresh invoice status: %w", pgErr)

	err := mapTxError(wrapped)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestMapTxErrorDeadlock(t *testing.T) {
	err := mapTxError(&pgconn.PgError{Code: "40P01", Message: "deadlock detected"})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestMapTxErrorPassesOthersThrough(t *testing.T) {
	sentinel := errors.New("boom")
	require.Same(t, sentinel, mapTxError(sentinel))

	unique := &pgconn.PgError{Code: "23505", ConstraintName: "invoices_active_work_order_idx"}
	require.NotErrorIs(t, mapTxError(unique), shared.ErrConflict)
	require.True(t, IsUniqueViolation(unique, "invoices_active_work_order_idx"))
}

func TestIsSerializationFailure(t *testing.T) {
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsSerializationFailure(&pgconn.PgError{Code: "40P01"}))
	require.False(t, IsSerializationFailure(&pgconn.PgError{Code: "23505"}))
	require.False(t, IsSerializationFailure(errors.New("plain")))
}
