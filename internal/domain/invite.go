package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InviteStatus string

const (
	InviteStatusPending   InviteStatus = "pending"
	InviteStatusAccepted  InviteStatus = "accepted"
	InviteStatusConverted InviteStatus = "converted"
	InviteStatusRejected  InviteStatus = "rejected"
	InviteStatusExpired   InviteStatus = "expired"
)

// IsOpen reports whether the invite can still be accepted, negotiated or
// rejected.
func (s InviteStatus) IsOpen() bool {
	return s == InviteStatusPending || s == InviteStatusAccepted
}

// Invite is a directed offer from a client to a specific provider. It turns
// into an Order once both sides have accepted.
type Invite struct {
	ID                 uuid.UUID
	ClientID           uuid.UUID
	ProviderID         uuid.UUID
	Title              string
	Description        string
	OriginalValue      decimal.Decimal
	CurrentValue       decimal.Decimal
	DeliveryDate       *time.Time
	ExpiresAt          time.Time
	ClientAccepted     bool
	ClientAcceptedAt   *time.Time
	ProviderAccepted   bool
	ProviderAcceptedAt *time.Time
	ActiveProposalID   *uuid.UUID
	Status             InviteStatus
	OrderID            *uuid.UUID
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (i *Invite) BothAccepted() bool { return i.ClientAccepted && i.ProviderAccepted }

func (i *Invite) IsExpired(now time.Time) bool { return !now.Before(i.ExpiresAt) }

// SideOf returns which side of the invite id is on.
func (i *Invite) SideOf(id uuid.UUID) (Party, bool) {
	switch id {
	case i.ClientID:
		return PartyClient, true
	case i.ProviderID:
		return PartyProvider, true
	}
	return "", false
}

type ProposalStatus string

const (
	ProposalStatusPending   ProposalStatus = "pending"
	ProposalStatusAccepted  ProposalStatus = "accepted"
	ProposalStatusRejected  ProposalStatus = "rejected"
	ProposalStatusCancelled ProposalStatus = "cancelled"
)

// Proposal is a provider's counter-offer on an invite's value.
type Proposal struct {
	ID            uuid.UUID
	InviteID      uuid.UUID
	ProviderID    uuid.UUID
	OriginalValue decimal.Decimal
	ProposedValue decimal.Decimal
	Justification string
	Status        ProposalStatus
	CreatedAt     time.Time
	RespondedAt   *time.Time
}
