package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedFunds mints amount into a fresh or existing account through the same
// entries the ledger writes, so audits stay balanced.
func SeedFunds(t *testing.T, db *sql.DB, accountID uuid.UUID, amount string) {
	t.Helper()

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("seed funds: begin: %v", err)
	}
	defer tx.Rollback()

	var created bool
	err = tx.QueryRow(
		`WITH ins AS (
			INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING RETURNING id
		) SELECT EXISTS (SELECT 1 FROM ins)`, accountID,
	).Scan(&created)
	if err != nil {
		t.Fatalf("seed funds: ensure account %s: %v", accountID, err)
	}
	if created {
		_, err = tx.Exec(
			`INSERT INTO ledger_entries (id, account_id, kind, amount, description, available_after, escrow_after)
			VALUES ($1, $2, 'wallet_creation', 0, 'wallet created', 0, 0)`,
			uuid.New(), accountID,
		)
		if err != nil {
			t.Fatalf("seed funds: wallet creation entry: %v", err)
		}
	}

	var available, escrow decimal.Decimal
	err = tx.QueryRow(
		`UPDATE accounts SET available_balance = available_balance + $1, version = version + 1
		WHERE id = $2 RETURNING available_balance, escrow_balance`,
		Dec(amount), accountID,
	).Scan(&available, &escrow)
	if err != nil {
		t.Fatalf("seed funds: credit %s: %v", accountID, err)
	}

	_, err = tx.Exec(
		`INSERT INTO ledger_entries (id, account_id, kind, amount, description, available_after, escrow_after)
		VALUES ($1, $2, 'mint', $3, 'test funding', $4, $5)`,
		uuid.New(), accountID, Dec(amount), available, escrow,
	)
	if err != nil {
		t.Fatalf("seed funds: mint entry: %v", err)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("seed funds: commit: %v", err)
	}
}

// SeedUser returns a new account id funded with amount ("0" leaves the
// account uncreated).
func SeedUser(t *testing.T, db *sql.DB, amount string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if !Dec(amount).IsZero() {
		SeedFunds(t, db, id, amount)
	}
	return id
}

// SeedAcceptedOrder inserts an accepted order row without touching balances.
// Use it for ledger tests that place the holds themselves.
func SeedAcceptedOrder(t *testing.T, db *sql.DB, clientID, providerID uuid.UUID, value, contestationFee string) *domain.Order {
	t.Helper()

	for _, id := range []uuid.UUID{clientID, providerID} {
		if _, err := db.Exec(`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id); err != nil {
			t.Fatalf("seed order: ensure account %s: %v", id, err)
		}
	}

	now := time.Now().UTC()
	o := &domain.Order{
		ID:         uuid.New(),
		ClientID:   clientID,
		ProviderID: &providerID,
		Title:      "test order",
		Value:      Dec(value),
		Status:     domain.OrderStatusAccepted,
		Fees: domain.FeeSnapshot{
			PlatformFeePct:          Dec("5"),
			ContestationFee:         Dec(contestationFee),
			CancellationFeePct:      Dec("10"),
			ConfirmationWindowHours: 36,
		},
		AcceptedAt: &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	_, err := db.Exec(
		`INSERT INTO orders (
			id, client_id, provider_id, title, value, status, platform_fee_pct, contestation_fee,
			cancellation_fee_pct, confirmation_window_hours, accepted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.ClientID, o.ProviderID, o.Title, o.Value, o.Status, o.Fees.PlatformFeePct,
		o.Fees.ContestationFee, o.Fees.CancellationFeePct, o.Fees.ConfirmationWindowHours,
		o.AcceptedAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		t.Fatalf("seed accepted order: %v", err)
	}
	return o
}

// Balances returns an account's stored available and escrow balances, or
// zeros when the account does not exist.
func Balances(t *testing.T, db *sql.DB, accountID uuid.UUID) (available, escrow decimal.Decimal) {
	t.Helper()

	err := db.QueryRow(
		`SELECT available_balance, escrow_balance FROM accounts WHERE id = $1`, accountID,
	).Scan(&available, &escrow)
	if err == sql.ErrNoRows {
		return decimal.Zero, decimal.Zero
	}
	if err != nil {
		t.Fatalf("get balances %s: %v", accountID, err)
	}
	return available, escrow
}

func CountLedgerEntries(t *testing.T, db *sql.DB, orderID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM ledger_entries WHERE order_id = $1`, orderID).Scan(&count)
	if err != nil {
		t.Fatalf("count ledger entries for order %s: %v", orderID, err)
	}
	return count
}

// AssertConserved fails the test if total balances differ from total mints.
func AssertConserved(t *testing.T, db *sql.DB) {
	t.Helper()

	var total, minted decimal.Decimal
	if err := db.QueryRow(`SELECT COALESCE(SUM(available_balance + escrow_balance), 0) FROM accounts`).Scan(&total); err != nil {
		t.Fatalf("sum balances: %v", err)
	}
	if err := db.QueryRow(`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE kind = 'mint'`).Scan(&minted); err != nil {
		t.Fatalf("sum mints: %v", err)
	}
	if !total.Equal(minted) {
		t.Fatalf("conservation violated: balances %s, minted %s", total, minted)
	}
}
