package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusAvailable            OrderStatus = "available"
	OrderStatusAccepted             OrderStatus = "accepted"
	OrderStatusInProgress           OrderStatus = "in_progress"
	OrderStatusAwaitingConfirmation OrderStatus = "awaiting_confirmation"
	OrderStatusCompleted            OrderStatus = "completed"
	OrderStatusDisputed             OrderStatus = "disputed"
	OrderStatusCancelled            OrderStatus = "cancelled"
	OrderStatusResolved             OrderStatus = "resolved"
)

// FeeSnapshot is the fee configuration captured on an order when it is
// created. Later changes to the live schedule never affect existing orders.
type FeeSnapshot struct {
	PlatformFeePct          decimal.Decimal
	ContestationFee         decimal.Decimal
	CancellationFeePct      decimal.Decimal
	ConfirmationWindowHours int
}

type Order struct {
	ID          uuid.UUID
	ClientID    uuid.UUID
	ProviderID  *uuid.UUID
	InviteID    *uuid.UUID
	Title       string
	Description string
	Value       decimal.Decimal
	Status      OrderStatus
	Fees        FeeSnapshot

	ServiceDeadline      *time.Time
	AcceptedAt           *time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	ConfirmationDeadline *time.Time
	ConfirmedAt          *time.Time
	AutoConfirmed        bool
	PlatformFee          decimal.NullDecimal

	DisputeOpenedBy   *uuid.UUID
	DisputeReason     *string
	DisputeEvidence   []string
	DisputeOpenedAt   *time.Time
	DisputedFrom      *OrderStatus
	DisputeResolution *string
	DisputeNotes      *string
	DisputeResolvedBy *uuid.UUID
	DisputeResolvedAt *time.Time

	CancelledBy        *uuid.UUID
	CancellationReason *string
	CancellationFee    decimal.NullDecimal
	CancelledAt        *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EscrowHeld is the total amount this order locks in escrow once accepted.
func (o *Order) EscrowHeld() decimal.Decimal {
	return o.Value.Add(o.Fees.ContestationFee.Mul(decimal.NewFromInt(2)))
}

func (o *Order) IsClient(id uuid.UUID) bool { return o.ClientID == id }

func (o *Order) IsProvider(id uuid.UUID) bool {
	return o.ProviderID != nil && *o.ProviderID == id
}

// IsParty reports whether id is the order's client or provider.
func (o *Order) IsParty(id uuid.UUID) bool { return o.IsClient(id) || o.IsProvider(id) }

// HasEscrow reports whether value and contestation holds are currently in
// escrow for this order.
func (o *Order) HasEscrow() bool {
	switch o.Status {
	case OrderStatusAccepted, OrderStatusInProgress, OrderStatusAwaitingConfirmation:
		return true
	case OrderStatusDisputed:
		return o.DisputedFrom == nil || *o.DisputedFrom != OrderStatusCompleted
	}
	return false
}

// DisputeOutcome is the admin's decision on a disputed order.
type DisputeOutcome string

const (
	DisputeFavorClient   DisputeOutcome = "favor_client"
	DisputeFavorProvider DisputeOutcome = "favor_provider"
	DisputeSplit         DisputeOutcome = "split"
)

func (o DisputeOutcome) Valid() bool {
	switch o {
	case DisputeFavorClient, DisputeFavorProvider, DisputeSplit:
		return true
	}
	return false
}

// DisputeDecision carries a resolution. The split percentages are used only
// for DisputeSplit and must sum to 100 together with FeePct.
type DisputeDecision struct {
	Outcome     DisputeOutcome
	ClientPct   decimal.Decimal
	ProviderPct decimal.Decimal
	FeePct      decimal.Decimal
	Notes       string
}
