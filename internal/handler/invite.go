package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/acceptance"
)

type inviteService interface {
	Create(ctx context.Context, req acceptance.CreateRequest) (*domain.Invite, error)
	GetForActor(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Invite, error)
	ListForParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invite, error)
	Accept(ctx context.Context, id uuid.UUID, actor domain.Actor) (*acceptance.Result, error)
	RetryConversion(ctx context.Context, id uuid.UUID, actor domain.Actor) (*acceptance.Result, error)
	Reject(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Invite, error)
	Propose(ctx context.Context, id uuid.UUID, actor domain.Actor, value decimal.Decimal, justification string) (*domain.Proposal, error)
	ListProposals(ctx context.Context, id uuid.UUID, actor domain.Actor) ([]domain.Proposal, error)
	ApproveProposal(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Proposal, error)
	RejectProposal(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Proposal, error)
	CancelProposal(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Proposal, error)
}

type InviteHandler struct {
	invites inviteService
}

func NewInviteHandler(invites inviteService) *InviteHandler {
	return &InviteHandler{invites: invites}
}

type createInviteRequest struct {
	ProviderID   uuid.UUID       `json:"provider_id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Value        decimal.Decimal `json:"value"`
	DeliveryDate *time.Time      `json:"delivery_date"`
}

func (r createInviteRequest) Validate() []FieldError {
	var errs []FieldError
	if r.ProviderID == uuid.Nil {
		errs = append(errs, FieldError{Field: "provider_id", Message: "required"})
	}
	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, FieldError{Field: "title", Message: "required"})
	}
	if !r.Value.IsPositive() {
		errs = append(errs, FieldError{Field: "value", Message: "must be greater than 0"})
	}
	return errs
}

type proposeRequest struct {
	Value         decimal.Decimal `json:"value"`
	Justification string          `json:"justification"`
}

type acceptanceDTO struct {
	Invite inviteDTO `json:"invite"`
	Order  *orderDTO `json:"order"`
}

func (h *InviteHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req createInviteRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	inv, err := h.invites.Create(r.Context(), acceptance.CreateRequest{
		ClientID:     actor.ID,
		ProviderID:   req.ProviderID,
		Title:        req.Title,
		Description:  req.Description,
		Value:        req.Value,
		DeliveryDate: req.DeliveryDate,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("invite creation failed", "error", err)
		RespondDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/invites/%s", inv.ID))
	RespondMessage(w, http.StatusCreated, "Invite sent. It converts into an order once both sides accept.", toInviteDTO(inv))
}

func (h *InviteHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	inv, err := h.invites.GetForActor(r.Context(), id, actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toInviteDTO(inv))
}

func (h *InviteHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	limit, offset := pagination(r)

	invites, err := h.invites.ListForParty(r.Context(), actor.ID, limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	dtos := make([]inviteDTO, len(invites))
	for i := range invites {
		dtos[i] = toInviteDTO(&invites[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

type acceptanceFunc func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*acceptance.Result, error)

func (h *InviteHandler) acceptance(w http.ResponseWriter, r *http.Request, fn acceptanceFunc) {
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

	res, err := fn(r.Context(), id, actor)
	if err != nil {
		logging.FromContext(r.Context()).Warn("invite acceptance failed", "invite_id", id, "error", err)
		RespondDomainError(w, r, err)
		return
	}

	dto := acceptanceDTO{Invite: toInviteDTO(res.Invite)}
	if res.Order != nil {
		o := toOrderDTO(res.Order)
		dto.Order = &o
	}
	RespondMessage(w, http.StatusOK, res.Message, dto)
}

func (h *InviteHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.acceptance(w, r, h.invites.Accept)
}

func (h *InviteHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.acceptance(w, r, h.invites.RetryConversion)
}

func (h *InviteHandler) Reject(w http.ResponseWriter, r *http.Request) {
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

	inv, err := h.invites.Reject(r.Context(), id, actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, "Invite rejected.", toInviteDTO(inv))
}

func (h *InviteHandler) Propose(w http.ResponseWriter, r *http.Request) {
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

	var req proposeRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	p, err := h.invites.Propose(r.Context(), id, actor, req.Value, req.Justification)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusCreated,
		fmt.Sprintf("Proposed %s. Both parties need to accept again once the client responds.", money(p.ProposedValue)),
		toProposalDTO(p))
}

func (h *InviteHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
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

	proposals, err := h.invites.ListProposals(r.Context(), id, actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	dtos := make([]proposalDTO, len(proposals))
	for i := range proposals {
		dtos[i] = toProposalDTO(&proposals[i])
	}
	RespondSuccess(w, http.StatusOK, dtos)
}

type proposalFunc func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Proposal, error)

func (h *InviteHandler) respond(w http.ResponseWriter, r *http.Request, fn proposalFunc) {
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

	p, err := fn(r.Context(), id, actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, fmt.Sprintf("Proposal %s.", p.Status), toProposalDTO(p))
}

func (h *InviteHandler) ApproveProposal(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.invites.ApproveProposal)
}

func (h *InviteHandler) RejectProposal(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.invites.RejectProposal)
}

func (h *InviteHandler) CancelProposal(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.invites.CancelProposal)
}
