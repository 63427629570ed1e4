package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const accountColumns = `id, available_balance, escrow_balance, version, created_at, updated_at`

type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

// Ensure creates a zero-balance account for id if none exists and reports
// whether it did.
func (r *AccountRepository) Ensure(ctx context.Context, tx *sql.Tx, id uuid.UUID) (bool, error) {
	var created uuid.UUID
	err := tx.QueryRowContext(ctx,
		`INSERT INTO accounts (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`, id,
	).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("Ensure: %w", err)
	}
	return true, nil
}

func (r *AccountRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id,
	)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return a, nil
}

// UpdateBalances writes both balances and bumps the version. The row must
// still be at acct.Version.
func (r *AccountRepository) UpdateBalances(ctx context.Context, tx *sql.Tx, acct *domain.Account) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE accounts
		SET available_balance = $1, escrow_balance = $2, version = version + 1, updated_at = now()
		WHERE id = $3 AND version = $4`,
		acct.AvailableBalance, acct.EscrowBalance, acct.ID, acct.Version,
	)
	if err != nil {
		return fmt.Errorf("UpdateBalances: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateBalances: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateBalances: %w", domain.ErrVersionConflict)
	}
	acct.Version++
	return nil
}

func scanAccount(s scanner) (*domain.Account, error) {
	var a domain.Account
	err := s.Scan(
		&a.ID, &a.AvailableBalance, &a.EscrowBalance,
		&a.Version, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
