package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }

// Balance returns an account's balances. Accounts that have never been used
// read as zero.
func (e *Engine) Balance(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	acct, err := e.accounts.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return &domain.Account{ID: id}, nil
		}
		return nil, fmt.Errorf("Balance: %w", err)
	}
	return acct, nil
}

func (e *Engine) History(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	entries, total, err := e.entries.GetByAccountID(ctx, id, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("History: %w", err)
	}
	return entries, total, nil
}

func (e *Engine) OrderEntries(ctx context.Context, orderID uuid.UUID) ([]domain.LedgerEntry, error) {
	entries, err := e.entries.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("OrderEntries: %w", err)
	}
	return entries, nil
}

// AuditReport is the result of a full ledger consistency check.
type AuditReport struct {
	Totals     domain.LedgerTotals
	Drift      []domain.BalanceDrift
	Conserved  bool
	Consistent bool
}

func (r *AuditReport) OK() bool { return r.Conserved && r.Consistent }

// Audit checks that total supply equals everything ever minted and that
// every stored balance equals the replay of its entries.
func (e *Engine) Audit(ctx context.Context) (*AuditReport, error) {
	totals, err := e.entries.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("Audit: %w", err)
	}
	drift, err := e.entries.Drift(ctx)
	if err != nil {
		return nil, fmt.Errorf("Audit: %w", err)
	}

	report := &AuditReport{
		Totals:     *totals,
		Drift:      drift,
		Conserved:  totals.Available.Add(totals.Escrow).Equal(totals.Minted),
		Consistent: len(drift) == 0,
	}
	if !report.OK() {
		e.metrics.LedgerOperation("audit", errors.New("audit failed"))
	}
	return report, nil
}
