package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/BradenHooton/sessioncore/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// MapPostgresError translates driver errors into the model sentinels the
// services branch on. Unique violations on accounts surface as ErrConflict
// so signup can re-check which identifier was taken.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", models.ErrConflict, pgErr.ConstraintName)
	case "23503": // foreign_key_violation, e.g. history for a deleted account
		return fmt.Errorf("%w: %s", models.ErrNotFound, pgErr.ConstraintName)
	case "23502", "23514": // not_null_violation, check_violation
		return fmt.Errorf("%w: %s", models.ErrBadRequest, pgErr.ColumnName+pgErr.ConstraintName)
	}
	return err
}

// WithTransaction runs fn in a transaction, committing when fn returns nil.
func (db *DB) WithTransaction(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return err
}
