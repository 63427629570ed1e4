package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindWalletCreation EntryKind = "wallet_creation"
	EntryKindMint           EntryKind = "mint"
	EntryKindCredit         EntryKind = "credit"
	EntryKindDebit          EntryKind = "debit"
	EntryKindEscrowHold     EntryKind = "escrow_hold"
	EntryKindEscrowRelease  EntryKind = "escrow_release"
	EntryKindEscrowRefund   EntryKind = "escrow_refund"
	EntryKindDisputeSplit   EntryKind = "dispute_split"
	EntryKindPlatformFee    EntryKind = "platform_fee"
)

var entryKinds = map[EntryKind]struct{}{
	EntryKindWalletCreation: {},
	EntryKindMint:           {},
	EntryKindCredit:         {},
	EntryKindDebit:          {},
	EntryKindEscrowHold:     {},
	EntryKindEscrowRelease:  {},
	EntryKindEscrowRefund:   {},
	EntryKindDisputeSplit:   {},
	EntryKindPlatformFee:    {},
}

func (k EntryKind) Valid() bool {
	_, ok := entryKinds[k]
	return ok
}

// Effect returns how an entry of this kind with the given signed amount moves
// the owning account's available and escrow balances. It is the only place the
// sign convention is defined; balances are always the fold of Effect over the
// account's entries.
//
//	escrow_hold    amount > 0   available -a, escrow +a
//	escrow_release amount < 0   escrow +a (value leaves the account)
//	escrow_refund  amount > 0   escrow -a, available +a
//	wallet_creation amount = 0  no effect
//	everything else             available +a
func (k EntryKind) Effect(amount decimal.Decimal) (available, escrow decimal.Decimal) {
	switch k {
	case EntryKindWalletCreation:
		return decimal.Zero, decimal.Zero
	case EntryKindEscrowHold:
		return amount.Neg(), amount
	case EntryKindEscrowRelease:
		return decimal.Zero, amount
	case EntryKindEscrowRefund:
		return amount, amount.Neg()
	default:
		return amount, decimal.Zero
	}
}

// CheckSign verifies that amount has the sign this kind requires.
func (k EntryKind) CheckSign(amount decimal.Decimal) error {
	var ok bool
	switch k {
	case EntryKindWalletCreation:
		ok = amount.IsZero()
	case EntryKindDebit, EntryKindEscrowRelease:
		ok = amount.IsNegative()
	case EntryKindMint, EntryKindCredit, EntryKindEscrowHold, EntryKindEscrowRefund,
		EntryKindDisputeSplit, EntryKindPlatformFee:
		ok = amount.IsPositive()
	default:
		return fmt.Errorf("unknown entry kind %q", k)
	}
	if !ok {
		return fmt.Errorf("amount %s has the wrong sign for %s", amount, k)
	}
	return nil
}

type LedgerEntry struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Kind           EntryKind
	Amount         decimal.Decimal
	OrderID        *uuid.UUID
	Description    string
	AvailableAfter decimal.Decimal
	EscrowAfter    decimal.Decimal
	CreatedAt      time.Time
}

// LedgerTotals summarises the whole ledger for conservation checks.
type LedgerTotals struct {
	Available decimal.Decimal
	Escrow    decimal.Decimal
	Minted    decimal.Decimal
	Accounts  int
	Entries   int
}

// BalanceDrift is an account whose stored balances differ from the replay of
// its entries.
type BalanceDrift struct {
	AccountID        uuid.UUID
	StoredAvailable  decimal.Decimal
	StoredEscrow     decimal.Decimal
	DerivedAvailable decimal.Decimal
	DerivedEscrow    decimal.Decimal
}
