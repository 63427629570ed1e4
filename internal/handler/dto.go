package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
)

func money(d decimal.Decimal) string { return domain.FormatMoney(d) }

func nullMoney(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := money(d.Decimal)
	return &s
}

type feesDTO struct {
	PlatformFeePct          string `json:"platform_fee_pct"`
	ContestationFee         string `json:"contestation_fee"`
	CancellationFeePct      string `json:"cancellation_fee_pct"`
	ConfirmationWindowHours int    `json:"confirmation_window_hours"`
}

type disputeDTO struct {
	OpenedBy   *uuid.UUID `json:"opened_by"`
	Reason     *string    `json:"reason"`
	Evidence   []string   `json:"evidence"`
	OpenedAt   *time.Time `json:"opened_at"`
	From       *string    `json:"disputed_from"`
	Resolution *string    `json:"resolution,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

type cancellationDTO struct {
	CancelledBy *uuid.UUID `json:"cancelled_by"`
	Reason      *string    `json:"reason"`
	Fee         *string    `json:"fee"`
	CancelledAt *time.Time `json:"cancelled_at"`
}

type orderDTO struct {
	ID                   uuid.UUID        `json:"id"`
	ClientID             uuid.UUID        `json:"client_id"`
	ProviderID           *uuid.UUID       `json:"provider_id"`
	InviteID             *uuid.UUID       `json:"invite_id,omitempty"`
	Title                string           `json:"title"`
	Description          string           `json:"description"`
	Value                string           `json:"value"`
	Status               string           `json:"status"`
	Fees                 feesDTO          `json:"fees"`
	ServiceDeadline      *time.Time       `json:"service_deadline,omitempty"`
	AcceptedAt           *time.Time       `json:"accepted_at,omitempty"`
	StartedAt            *time.Time       `json:"started_at,omitempty"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	ConfirmationDeadline *time.Time       `json:"confirmation_deadline,omitempty"`
	ConfirmedAt          *time.Time       `json:"confirmed_at,omitempty"`
	AutoConfirmed        bool             `json:"auto_confirmed"`
	PlatformFee          *string          `json:"platform_fee"`
	Dispute              *disputeDTO      `json:"dispute,omitempty"`
	Cancellation         *cancellationDTO `json:"cancellation,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func toOrderDTO(o *domain.Order) orderDTO {
	dto := orderDTO{
		ID:          o.ID,
		ClientID:    o.ClientID,
		ProviderID:  o.ProviderID,
		InviteID:    o.InviteID,
		Title:       o.Title,
		Description: o.Description,
		Value:       money(o.Value),
		Status:      string(o.Status),
		Fees: feesDTO{
			PlatformFeePct:          o.Fees.PlatformFeePct.String(),
			ContestationFee:         money(o.Fees.ContestationFee),
			CancellationFeePct:      o.Fees.CancellationFeePct.String(),
			ConfirmationWindowHours: o.Fees.ConfirmationWindowHours,
		},
		ServiceDeadline:      o.ServiceDeadline,
		AcceptedAt:           o.AcceptedAt,
		StartedAt:            o.StartedAt,
		CompletedAt:          o.CompletedAt,
		ConfirmationDeadline: o.ConfirmationDeadline,
		ConfirmedAt:          o.ConfirmedAt,
		AutoConfirmed:        o.AutoConfirmed,
		PlatformFee:          nullMoney(o.PlatformFee),
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
	if o.DisputeOpenedAt != nil {
		d := &disputeDTO{
			OpenedBy:   o.DisputeOpenedBy,
			Reason:     o.DisputeReason,
			Evidence:   o.DisputeEvidence,
			OpenedAt:   o.DisputeOpenedAt,
			Resolution: o.DisputeResolution,
			Notes:      o.DisputeNotes,
			ResolvedBy: o.DisputeResolvedBy,
			ResolvedAt: o.DisputeResolvedAt,
		}
		if o.DisputedFrom != nil {
			from := string(*o.DisputedFrom)
			d.From = &from
		}
		dto.Dispute = d
	}
	if o.CancelledAt != nil {
		dto.Cancellation = &cancellationDTO{
			CancelledBy: o.CancelledBy,
			Reason:      o.CancellationReason,
			Fee:         nullMoney(o.CancellationFee),
			CancelledAt: o.CancelledAt,
		}
	}
	return dto
}

func toOrderDTOs(orders []domain.Order) []orderDTO {
	dtos := make([]orderDTO, len(orders))
	for i := range orders {
		dtos[i] = toOrderDTO(&orders[i])
	}
	return dtos
}

type settlementDTO struct {
	ProviderPayout       string `json:"provider_payout"`
	ClientRefund         string `json:"client_refund"`
	PlatformFee          string `json:"platform_fee"`
	ContestationReturned string `json:"contestation_returned"`
	CancellationFee      string `json:"cancellation_fee"`
	Compensation         string `json:"compensation"`
}

func toSettlementDTO(s *ledger.Settlement) *settlementDTO {
	if s == nil {
		return nil
	}
	return &settlementDTO{
		ProviderPayout:       money(s.ProviderPayout),
		ClientRefund:         money(s.ClientRefund),
		PlatformFee:          money(s.PlatformFee),
		ContestationReturned: money(s.ContestationReturned),
		CancellationFee:      money(s.CancellationFee),
		Compensation:         money(s.Compensation),
	}
}

type transitionDTO struct {
	Order      orderDTO       `json:"order"`
	From       string         `json:"from"`
	Settlement *settlementDTO `json:"settlement,omitempty"`
}

type accountDTO struct {
	ID               uuid.UUID `json:"id"`
	AvailableBalance string    `json:"available_balance"`
	EscrowBalance    string    `json:"escrow_balance"`
	TotalBalance     string    `json:"total_balance"`
}

func toAccountDTO(a *domain.Account) accountDTO {
	return accountDTO{
		ID:               a.ID,
		AvailableBalance: money(a.AvailableBalance),
		EscrowBalance:    money(a.EscrowBalance),
		TotalBalance:     money(a.TotalBalance()),
	}
}

type ledgerEntryDTO struct {
	ID             uuid.UUID  `json:"id"`
	Kind           string     `json:"kind"`
	Amount         string     `json:"amount"`
	OrderID        *uuid.UUID `json:"order_id,omitempty"`
	Description    string     `json:"description"`
	AvailableAfter string     `json:"available_after"`
	EscrowAfter    string     `json:"escrow_after"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toLedgerEntryDTOs(entries []domain.LedgerEntry) []ledgerEntryDTO {
	dtos := make([]ledgerEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = ledgerEntryDTO{
			ID:             e.ID,
			Kind:           string(e.Kind),
			Amount:         money(e.Amount),
			OrderID:        e.OrderID,
			Description:    e.Description,
			AvailableAfter: money(e.AvailableAfter),
			EscrowAfter:    money(e.EscrowAfter),
			CreatedAt:      e.CreatedAt,
		}
	}
	return dtos
}

type inviteDTO struct {
	ID               uuid.UUID  `json:"id"`
	ClientID         uuid.UUID  `json:"client_id"`
	ProviderID       uuid.UUID  `json:"provider_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	OriginalValue    string     `json:"original_value"`
	CurrentValue     string     `json:"current_value"`
	DeliveryDate     *time.Time `json:"delivery_date,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	ClientAccepted   bool       `json:"client_accepted"`
	ProviderAccepted bool       `json:"provider_accepted"`
	ActiveProposalID *uuid.UUID `json:"active_proposal_id"`
	Status           string     `json:"status"`
	OrderID          *uuid.UUID `json:"order_id"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toInviteDTO(inv *domain.Invite) inviteDTO {
	return inviteDTO{
		ID:               inv.ID,
		ClientID:         inv.ClientID,
		ProviderID:       inv.ProviderID,
		Title:            inv.Title,
		Description:      inv.Description,
		OriginalValue:    money(inv.OriginalValue),
		CurrentValue:     money(inv.CurrentValue),
		DeliveryDate:     inv.DeliveryDate,
		ExpiresAt:        inv.ExpiresAt,
		ClientAccepted:   inv.ClientAccepted,
		ProviderAccepted: inv.ProviderAccepted,
		ActiveProposalID: inv.ActiveProposalID,
		Status:           string(inv.Status),
		OrderID:          inv.OrderID,
		CreatedAt:        inv.CreatedAt,
	}
}

type proposalDTO struct {
	ID            uuid.UUID  `json:"id"`
	InviteID      uuid.UUID  `json:"invite_id"`
	OriginalValue string     `json:"original_value"`
	ProposedValue string     `json:"proposed_value"`
	Justification string     `json:"justification"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	RespondedAt   *time.Time `json:"responded_at,omitempty"`
}

func toProposalDTO(p *domain.Proposal) proposalDTO {
	return proposalDTO{
		ID:            p.ID,
		InviteID:      p.InviteID,
		OriginalValue: money(p.OriginalValue),
		ProposedValue: money(p.ProposedValue),
		Justification: p.Justification,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
		RespondedAt:   p.RespondedAt,
	}
}
