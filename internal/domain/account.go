package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemAccountID is the platform's own wallet. It receives platform fees and
// the platform's half of cancellation fees, and is the counterparty of Issue
// and Redeem.
var SystemAccountID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Account is a user's wallet. Its id equals the owning user's id.
type Account struct {
	ID               uuid.UUID
	AvailableBalance decimal.Decimal
	EscrowBalance    decimal.Decimal
	Version          int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (a *Account) TotalBalance() decimal.Decimal {
	return a.AvailableBalance.Add(a.EscrowBalance)
}

func (a *Account) IsSystem() bool {
	return a.ID == SystemAccountID
}
