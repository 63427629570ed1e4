package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

type MintAllowanceRepository struct {
	db *sql.DB
}

func NewMintAllowanceRepository(db *sql.DB) *MintAllowanceRepository {
	return &MintAllowanceRepository{db: db}
}

// GetForUpdate locks the admin's allowance row, creating it with the given
// caps on first use.
func (r *MintAllowanceRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, defaults domain.MintAllowance) (*domain.MintAllowance, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO mint_allowances (admin_id, daily_limit, monthly_limit, day, month)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (admin_id) DO NOTHING`,
		defaults.AdminID, defaults.DailyLimit, defaults.MonthlyLimit, pgDate(defaults.Day), pgDate(defaults.Month),
	)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: insert: %w", Classify(err))
	}

	var a domain.MintAllowance
	err = tx.QueryRowContext(ctx,
		`SELECT admin_id, daily_limit, monthly_limit, daily_used, monthly_used, day, month, updated_at
		FROM mint_allowances WHERE admin_id = $1 FOR UPDATE`, defaults.AdminID,
	).Scan(&a.AdminID, &a.DailyLimit, &a.MonthlyLimit, &a.DailyUsed, &a.MonthlyUsed, &a.Day, &a.Month, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	a.Day, a.Month = a.Day.UTC(), a.Month.UTC()
	return &a, nil
}

func (r *MintAllowanceRepository) Save(ctx context.Context, tx *sql.Tx, a *domain.MintAllowance) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE mint_allowances
		SET daily_used = $1, monthly_used = $2, day = $3, month = $4, updated_at = $5
		WHERE admin_id = $6`,
		a.DailyUsed, a.MonthlyUsed, pgDate(a.Day), pgDate(a.Month), a.UpdatedAt, a.AdminID,
	)
	if err != nil {
		return fmt.Errorf("Save: %w", Classify(err))
	}
	return nil
}


// pgDate sends a calendar date as text so the session time zone cannot
// shift it.
func pgDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
