package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

// WithTx runs fn inside a transaction. The transaction commits only when fn
// returns nil; errors and panics roll it back.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("WithTx: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return Classify(err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("WithTx: commit: %w", Classify(err))
	}
	return nil
}

// Classify maps Postgres error codes onto domain errors. Constraint
// violations become *domain.IntegrityError; serialization failures and
// deadlocks become domain.ErrConflict so callers can retry.
func Classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	code := string(pqErr.Code)
	switch {
	case code == pgerrcode.SerializationFailure, code == pgerrcode.DeadlockDetected:
		return fmt.Errorf("%w: %v", domain.ErrConflict, err)
	case code == pgerrcode.UniqueViolation:
		return err
	case pgerrcode.IsIntegrityConstraintViolation(code), code == pgerrcode.RaiseException:
		return &domain.IntegrityError{Op: pqErr.Table + "/" + pqErr.Constraint, Err: err}
	}
	return err
}

// IsUniqueViolation reports whether err is a duplicate key error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation
}
