package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const ledgerColumns = `id, account_id, kind, amount, order_id, description,
	available_after, escrow_after, created_at`

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) Create(ctx context.Context, tx *sql.Tx, entry *domain.LedgerEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (
			id, account_id, kind, amount, order_id, description,
			available_after, escrow_after, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AccountID, entry.Kind, entry.Amount, entry.OrderID,
		entry.Description, entry.AvailableAfter, entry.EscrowAfter, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`, accountID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: count: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: %w", err)
	}
	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("GetByAccountID: %w", err)
	}
	return entries, total, nil
}

func (r *LedgerRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE order_id = $1 ORDER BY created_at, id`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("GetByOrderID: %w", err)
	}
	entries, err := collectLedgerEntries(rows)
	if err != nil {
		return nil, fmt.Errorf("GetByOrderID: %w", err)
	}
	return entries, nil
}

// EscrowHeldForOrder replays the escrow effect of the account's entries for
// one order. Callers hold the account lock.
func (r *LedgerRepository) EscrowHeldForOrder(ctx context.Context, tx *sql.Tx, accountID, orderID uuid.UUID) (decimal.Decimal, error) {
	var held decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE kind
			WHEN 'escrow_hold' THEN amount
			WHEN 'escrow_release' THEN amount
			WHEN 'escrow_refund' THEN -amount
			ELSE 0 END), 0)
		FROM ledger_entries WHERE account_id = $1 AND order_id = $2`,
		accountID, orderID,
	).Scan(&held)
	if err != nil {
		return decimal.Zero, fmt.Errorf("EscrowHeldForOrder: %w", err)
	}
	return held, nil
}

// Totals sums every stored balance and every mint.
func (r *LedgerRepository) Totals(ctx context.Context) (*domain.LedgerTotals, error) {
	var t domain.LedgerTotals
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(available_balance), 0), COALESCE(SUM(escrow_balance), 0), COUNT(*)
		FROM accounts`,
	).Scan(&t.Available, &t.Escrow, &t.Accounts)
	if err != nil {
		return nil, fmt.Errorf("Totals: accounts: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount) FILTER (WHERE kind = 'mint'), 0), COUNT(*)
		FROM ledger_entries`,
	).Scan(&t.Minted, &t.Entries)
	if err != nil {
		return nil, fmt.Errorf("Totals: entries: %w", err)
	}
	return &t, nil
}

// Drift returns accounts whose stored balances differ from the replay of
// their ledger entries.
func (r *LedgerRepository) Drift(ctx context.Context) ([]domain.BalanceDrift, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH derived AS (
			SELECT account_id,
				SUM(CASE kind
					WHEN 'escrow_hold' THEN -amount
					WHEN 'escrow_release' THEN 0
					WHEN 'wallet_creation' THEN 0
					ELSE amount END) AS available,
				SUM(CASE kind
					WHEN 'escrow_hold' THEN amount
					WHEN 'escrow_release' THEN amount
					WHEN 'escrow_refund' THEN -amount
					ELSE 0 END) AS escrow
			FROM ledger_entries GROUP BY account_id
		)
		SELECT a.id, a.available_balance, a.escrow_balance,
			COALESCE(d.available, 0), COALESCE(d.escrow, 0)
		FROM accounts a LEFT JOIN derived d ON d.account_id = a.id
		WHERE a.available_balance <> COALESCE(d.available, 0)
			OR a.escrow_balance <> COALESCE(d.escrow, 0)
		ORDER BY a.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("Drift: %w", err)
	}
	defer rows.Close()

	var drift []domain.BalanceDrift
	for rows.Next() {
		var d domain.BalanceDrift
		if err := rows.Scan(&d.AccountID, &d.StoredAvailable, &d.StoredEscrow, &d.DerivedAvailable, &d.DerivedEscrow); err != nil {
			return nil, fmt.Errorf("Drift: scan: %w", err)
		}
		drift = append(drift, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Drift: rows: %w", err)
	}
	return drift, nil
}

func collectLedgerEntries(rows *sql.Rows) ([]domain.LedgerEntry, error) {
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return entries, nil
}

func scanLedgerEntry(s scanner) (*domain.LedgerEntry, error) {
	var e domain.LedgerEntry
	var description sql.NullString
	err := s.Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.OrderID, &description,
		&e.AvailableAfter, &e.EscrowAfter, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Description = description.String
	return &e, nil
}
