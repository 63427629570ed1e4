package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

// Credit adds amount to an account's available balance. It does not balance
// on its own; callers compose it with a matching Debit in the same Tx.
func (t *Tx) Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.LedgerEntry, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return nil, fmt.Errorf("Credit: %w", err)
	}
	plan := Plan{Op: "credit"}
	plan.add(accountLeg(accountID, partyOf(accountID), domain.EntryKindCredit, amount, description))
	return t.single(ctx, plan)
}

// Debit removes amount from an account's available balance. See Credit.
func (t *Tx) Debit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal, description string) (*domain.LedgerEntry, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return nil, fmt.Errorf("Debit: %w", err)
	}
	plan := Plan{Op: "debit"}
	plan.add(accountLeg(accountID, partyOf(accountID), domain.EntryKindDebit, amount.Neg(), description))
	return t.single(ctx, plan)
}

// HoldToEscrow moves amount from available to escrow on one account, tagged
// with the order it secures.
func (t *Tx) HoldToEscrow(ctx context.Context, accountID uuid.UUID, who domain.Party, amount decimal.Decimal, orderID uuid.UUID, description string) (*domain.LedgerEntry, error) {
	if err := domain.ValidateAmount("amount", amount); err != nil {
		return nil, fmt.Errorf("HoldToEscrow: %w", err)
	}
	plan := Plan{Op: "escrow_hold", Conserving: true, Settlement: Settlement{OrderID: orderID}}
	plan.add(Leg{
		AccountID:   accountID,
		Party:       who,
		Kind:        domain.EntryKindEscrowHold,
		Amount:      amount,
		OrderID:     &orderID,
		Description: description,
	})
	return t.single(ctx, plan)
}

func (t *Tx) single(ctx context.Context, plan Plan) (*domain.LedgerEntry, error) {
	s, err := t.Apply(ctx, plan)
	if err != nil {
		return nil, err
	}
	entry := s.Entries[len(s.Entries)-1]
	return &entry, nil
}

// HoldOrder places both escrow holds for an order. Either both holds are
// written or neither is.
func (t *Tx) HoldOrder(ctx context.Context, terms EscrowTerms) (*Settlement, error) {
	plan, err := PlanHold(terms)
	if err != nil {
		return nil, fmt.Errorf("HoldOrder: %w", err)
	}
	created, err := t.lockAccounts(ctx, accountIDs(plan.Legs))
	if err != nil {
		return nil, fmt.Errorf("HoldOrder: %w", err)
	}
	s := plan.Settlement
	s.Entries = created
	for _, l := range plan.Legs {
		entry, err := t.HoldToEscrow(ctx, l.AccountID, l.Party, l.Amount, terms.OrderID, l.Description)
		if err != nil {
			return nil, fmt.Errorf("HoldOrder: %w", err)
		}
		s.Entries = append(s.Entries, *entry)
	}
	return &s, nil
}

func (t *Tx) ReleaseFromEscrow(ctx context.Context, terms EscrowTerms, feePct decimal.Decimal) (*Settlement, error) {
	plan, err := PlanRelease(terms, feePct)
	if err != nil {
		return nil, fmt.Errorf("ReleaseFromEscrow: %w", err)
	}
	return t.Apply(ctx, plan)
}

func (t *Tx) RefundFromEscrow(ctx context.Context, terms EscrowTerms) (*Settlement, error) {
	plan, err := PlanRefund(terms)
	if err != nil {
		return nil, fmt.Errorf("RefundFromEscrow: %w", err)
	}
	return t.Apply(ctx, plan)
}

func (t *Tx) ResolveDisputeCustomSplit(ctx context.Context, terms EscrowTerms, clientPct, providerPct, feePct decimal.Decimal) (*Settlement, error) {
	plan, err := PlanSplit(terms, clientPct, providerPct, feePct)
	if err != nil {
		return nil, fmt.Errorf("ResolveDisputeCustomSplit: %w", err)
	}
	return t.Apply(ctx, plan)
}

func (t *Tx) SettleCancellation(ctx context.Context, terms EscrowTerms, cancelledBy domain.Party, feePct decimal.Decimal) (*Settlement, error) {
	plan, err := PlanCancellation(terms, cancelledBy, feePct)
	if err != nil {
		return nil, fmt.Errorf("SettleCancellation: %w", err)
	}
	return t.Apply(ctx, plan)
}

// Transfer debits one wallet and credits another inside the caller's
// transaction.
func (t *Tx) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, description string) (*Settlement, error) {
	plan, err := PlanTransfer(from, to, amount, description)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	created, err := t.lockAccounts(ctx, accountIDs(plan.Legs))
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	debit, err := t.Debit(ctx, from, amount, description)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	credit, err := t.Credit(ctx, to, amount, description)
	if err != nil {
		return nil, fmt.Errorf("Transfer: %w", err)
	}
	return &Settlement{Entries: append(created, *debit, *credit)}, nil
}

// Mint adds new supply to the system account.
func (t *Tx) Mint(ctx context.Context, amount decimal.Decimal, description string) (*Settlement, error) {
	plan, err := PlanMint(amount, description)
	if err != nil {
		return nil, fmt.Errorf("Mint: %w", err)
	}
	return t.Apply(ctx, plan)
}

// lockAccounts creates missing accounts and takes their row locks in id
// order before a multi-step operation applies its legs one at a time.
// It returns the wallet_creation entries it wrote.
func (t *Tx) lockAccounts(ctx context.Context, ids []uuid.UUID) ([]domain.LedgerEntry, error) {
	created, err := t.ensureAccounts(ctx, ids)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LedgerEntry, 0, len(created))
	now := t.e.now()
	for _, id := range created {
		entry, err := newEntry(id, domain.EntryKindWalletCreation, decimal.Zero, nil, "wallet created", decimal.Zero, decimal.Zero, now)
		if err != nil {
			return nil, err
		}
		if err := t.e.entries.Create(ctx, t.tx, &entry); err != nil {
			return nil, fmt.Errorf("write entry: %w", repository.Classify(err))
		}
		entries = append(entries, entry)
	}
	if _, err := lockAccountsInOrder(ctx, t.tx, t.e.accounts, ids); err != nil {
		return nil, err
	}
	return entries, nil
}

// EnsureAccount creates the account lazily if it does not exist yet,
// recording a zero-amount wallet_creation entry.
func (t *Tx) EnsureAccount(ctx context.Context, id uuid.UUID) error {
	created, err := t.e.accounts.Ensure(ctx, t.tx, id)
	if err != nil {
		return fmt.Errorf("EnsureAccount: %w", err)
	}
	if !created {
		return nil
	}
	entry, err := newEntry(id, domain.EntryKindWalletCreation, decimal.Zero, nil, "wallet created", decimal.Zero, decimal.Zero, t.e.now())
	if err != nil {
		return fmt.Errorf("EnsureAccount: %w", err)
	}
	if err := t.e.entries.Create(ctx, t.tx, &entry); err != nil {
		return fmt.Errorf("EnsureAccount: %w", err)
	}
	return nil
}

// Available returns the last committed available balance without locking.
// It serves early, friendly checks; Apply enforces the real limit under lock.
// Missing accounts read as zero.
func (t *Tx) Available(ctx context.Context, id uuid.UUID) (decimal.Decimal, error) {
	acct, err := t.e.accounts.GetByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("Available: %w", err)
	}
	return acct.AvailableBalance, nil
}

// CheckHold reports whether both parties can currently cover the holds an
// order needs. The client is checked first.
func (t *Tx) CheckHold(ctx context.Context, terms EscrowTerms) error {
	checks := []struct {
		who      domain.Party
		id       uuid.UUID
		required decimal.Decimal
	}{
		{domain.PartyClient, terms.ClientID, terms.clientHold()},
		{domain.PartyProvider, terms.ProviderID, terms.ContestationFee},
	}
	for _, c := range checks {
		if !c.required.IsPositive() {
			continue
		}
		available, err := t.Available(ctx, c.id)
		if err != nil {
			return fmt.Errorf("CheckHold: %w", err)
		}
		if available.LessThan(c.required) {
			return &domain.InsufficientFundsError{
				Who: c.who, AccountID: c.id, Balance: domain.BalanceAvailable,
				Required: c.required, Available: available,
			}
		}
	}
	return nil
}

func (e *Engine) Transfer(ctx context.Context, from, to uuid.UUID, amount decimal.Decimal, description string) (*Settlement, error) {
	return e.run(ctx, "transfer", func(t *Tx) (*Settlement, error) {
		return t.Transfer(ctx, from, to, amount, description)
	})
}

// Issue sells tokens from the platform account to a user.
func (e *Engine) Issue(ctx context.Context, to uuid.UUID, amount decimal.Decimal) (*Settlement, error) {
	return e.Transfer(ctx, domain.SystemAccountID, to, amount, "tokens issued by platform")
}

// Redeem returns a user's tokens to the platform account.
func (e *Engine) Redeem(ctx context.Context, from uuid.UUID, amount decimal.Decimal) (*Settlement, error) {
	return e.Transfer(ctx, from, domain.SystemAccountID, amount, "tokens redeemed to platform")
}

func (e *Engine) HoldOrder(ctx context.Context, terms EscrowTerms) (*Settlement, error) {
	return e.run(ctx, "escrow_hold", func(t *Tx) (*Settlement, error) {
		return t.HoldOrder(ctx, terms)
	})
}

func (e *Engine) ReleaseFromEscrow(ctx context.Context, terms EscrowTerms, feePct decimal.Decimal) (*Settlement, error) {
	return e.run(ctx, "escrow_release", func(t *Tx) (*Settlement, error) {
		return t.ReleaseFromEscrow(ctx, terms, feePct)
	})
}

func (e *Engine) RefundFromEscrow(ctx context.Context, terms EscrowTerms) (*Settlement, error) {
	return e.run(ctx, "escrow_refund", func(t *Tx) (*Settlement, error) {
		return t.RefundFromEscrow(ctx, terms)
	})
}

func (e *Engine) ResolveDisputeCustomSplit(ctx context.Context, terms EscrowTerms, clientPct, providerPct, feePct decimal.Decimal) (*Settlement, error) {
	return e.run(ctx, "dispute_split", func(t *Tx) (*Settlement, error) {
		return t.ResolveDisputeCustomSplit(ctx, terms, clientPct, providerPct, feePct)
	})
}
