package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/service"
)

type treasuryService interface {
	Balance(ctx context.Context, actor domain.Actor, accountID uuid.UUID) (*domain.Account, error)
	Mint(ctx context.Context, actor domain.Actor, amount decimal.Decimal, reason string) (*ledger.Settlement, error)
	Issue(ctx context.Context, actor domain.Actor, to uuid.UUID, amount decimal.Decimal) (*ledger.Settlement, error)
	Audit(ctx context.Context, actor domain.Actor) (*ledger.AuditReport, error)
}

type sweepRunner interface {
	Sweep(ctx context.Context) service.SweepReport
}

type notificationLog interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.NotificationEvent, error)
}

type AdminHandler struct {
	treasury      treasuryService
	sweeper       sweepRunner
	notifications notificationLog
}

func NewAdminHandler(treasury treasuryService, sweeper sweepRunner, notifications notificationLog) *AdminHandler {
	return &AdminHandler{treasury: treasury, sweeper: sweeper, notifications: notifications}
}

type mintRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type issueRequest struct {
	To     uuid.UUID       `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

type driftDTO struct {
	AccountID        uuid.UUID `json:"account_id"`
	StoredAvailable  string    `json:"stored_available"`
	StoredEscrow     string    `json:"stored_escrow"`
	DerivedAvailable string    `json:"derived_available"`
	DerivedEscrow    string    `json:"derived_escrow"`
}

type auditDTO struct {
	OK         bool       `json:"ok"`
	Conserved  bool       `json:"conserved"`
	Consistent bool       `json:"consistent"`
	Available  string     `json:"total_available"`
	Escrow     string     `json:"total_escrow"`
	Minted     string     `json:"total_minted"`
	Accounts   int        `json:"accounts"`
	Entries    int        `json:"entries"`
	Drift      []driftDTO `json:"drift"`
}

func toAuditDTO(r *ledger.AuditReport) auditDTO {
	drift := make([]driftDTO, len(r.Drift))
	for i, d := range r.Drift {
		drift[i] = driftDTO{
			AccountID:        d.AccountID,
			StoredAvailable:  money(d.StoredAvailable),
			StoredEscrow:     money(d.StoredEscrow),
			DerivedAvailable: money(d.DerivedAvailable),
			DerivedEscrow:    money(d.DerivedEscrow),
		}
	}
	return auditDTO{
		OK:         r.OK(),
		Conserved:  r.Conserved,
		Consistent: r.Consistent,
		Available:  money(r.Totals.Available),
		Escrow:     money(r.Totals.Escrow),
		Minted:     money(r.Totals.Minted),
		Accounts:   r.Totals.Accounts,
		Entries:    r.Totals.Entries,
		Drift:      drift,
	}
}

type notificationDTO struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
	InviteID    *uuid.UUID      `json:"invite_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	LastAttempt *time.Time      `json:"last_attempt,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func amountFields(to uuid.UUID, amount decimal.Decimal) []FieldError {
	var fields []FieldError
	if to == uuid.Nil {
		fields = append(fields, FieldError{Field: "to", Message: "required"})
	}
	if !amount.IsPositive() {
		fields = append(fields, FieldError{Field: "amount", Message: "must be greater than 0"})
	}
	return fields
}

func (h *AdminHandler) Mint(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req mintRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	if !req.Amount.IsPositive() {
		RespondValidationError(w, []FieldError{{Field: "amount", Message: "must be greater than 0"}})
		return
	}

	s, err := h.treasury.Mint(r.Context(), actor, req.Amount, req.Reason)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, fmt.Sprintf("Minted %s into the platform wallet.", money(req.Amount)), toSettlementDTO(s))
}

func (h *AdminHandler) Issue(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req issueRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	if fields := amountFields(req.To, req.Amount); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	s, err := h.treasury.Issue(r.Context(), actor, req.To, req.Amount)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, fmt.Sprintf("Issued %s from the platform treasury.", money(req.Amount)), toSettlementDTO(s))
}

func (h *AdminHandler) Audit(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	report, err := h.treasury.Audit(r.Context(), actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusInternalServerError
	}
	RespondSuccess(w, status, toAuditDTO(report))
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	RespondSuccess(w, http.StatusOK, h.sweeper.Sweep(r.Context()))
}

func (h *AdminHandler) AccountBalance(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	id, appErr := idParam(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	acct, err := h.treasury.Balance(r.Context(), actor, id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toAccountDTO(acct))
}

func (h *AdminHandler) OrderNotifications(w http.ResponseWriter, r *http.Request) {
	id, appErr := idParam(r, "id")
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	events, err := h.notifications.ListByOrder(r.Context(), id)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	dtos := make([]notificationDTO, len(events))
	for i, e := range events {
		dtos[i] = notificationDTO{
			ID:          e.ID,
			Type:        string(e.Type),
			OrderID:     e.OrderID,
			InviteID:    e.InviteID,
			Payload:     e.Payload,
			Status:      string(e.Status),
			Attempts:    e.Attempts,
			LastAttempt: e.LastAttempt,
			CreatedAt:   e.CreatedAt,
		}
	}
	RespondSuccess(w, http.StatusOK, dtos)
}
