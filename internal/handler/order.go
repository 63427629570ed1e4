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
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
)

type orderService interface {
	Open(ctx context.Context, req lifecycle.OpenRequest) (*domain.Order, error)
	GetForActor(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Order, error)
	ListForParty(ctx context.Context, userID uuid.UUID, status *domain.OrderStatus, limit, offset int) ([]domain.Order, error)
	ListAvailable(ctx context.Context, limit, offset int) ([]domain.Order, error)
	Accept(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error)
	Start(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error)
	Confirm(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error)
	Cancel(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string) (*lifecycle.Outcome, error)
	OpenDispute(ctx context.Context, id uuid.UUID, actor domain.Actor, reason string, evidence []string) (*lifecycle.Outcome, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, actor domain.Actor, d domain.DisputeDecision) (*lifecycle.Outcome, error)
}

type OrderHandler struct {
	orders orderService
}

func NewOrderHandler(orders orderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

type openOrderRequest struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Value           decimal.Decimal `json:"value"`
	ServiceDeadline *time.Time      `json:"service_deadline"`
}

func (r openOrderRequest) Validate() []FieldError {
	var errs []FieldError
	if strings.TrimSpace(r.Title) == "" {
		errs = append(errs, FieldError{Field: "title", Message: "required"})
	}
	if !r.Value.IsPositive() {
		errs = append(errs, FieldError{Field: "value", Message: "must be greater than 0"})
	} else if !domain.HasMoneyPrecision(r.Value) {
		errs = append(errs, FieldError{Field: "value", Message: "must have at most 2 decimal places"})
	}
	return errs
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type openDisputeRequest struct {
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence"`
}

type resolveDisputeRequest struct {
	Outcome     string           `json:"outcome"`
	ClientPct   decimal.Decimal  `json:"client_pct"`
	ProviderPct decimal.Decimal  `json:"provider_pct"`
	FeePct      *decimal.Decimal `json:"fee_pct"`
	Notes       string           `json:"notes"`
}

// decision converts the request. An omitted fee_pct on a split takes
// whatever the two shares leave of 100.
func (r resolveDisputeRequest) decision() domain.DisputeDecision {
	d := domain.DisputeDecision{
		Outcome:     domain.DisputeOutcome(r.Outcome),
		ClientPct:   r.ClientPct,
		ProviderPct: r.ProviderPct,
		Notes:       r.Notes,
	}
	if r.FeePct != nil {
		d.FeePct = *r.FeePct
	} else if d.Outcome == domain.DisputeSplit {
		d.FeePct = decimal.NewFromInt(100).Sub(r.ClientPct).Sub(r.ProviderPct)
	}
	return d
}

func (h *OrderHandler) Open(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req openOrderRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	if fields := req.Validate(); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	o, err := h.orders.Open(r.Context(), lifecycle.OpenRequest{
		ClientID:        actor.ID,
		Title:           req.Title,
		Description:     req.Description,
		Value:           req.Value,
		ServiceDeadline: req.ServiceDeadline,
	})
	if err != nil {
		logging.FromContext(r.Context()).Warn("order creation failed", "error", err)
		RespondDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/orders/%s", o.ID))
	RespondMessage(w, http.StatusCreated, "Order published and open for providers.", toOrderDTO(o))
}

func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
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

	o, err := h.orders.GetForActor(r.Context(), id, actor)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTO(o))
}

// List returns the caller's orders, optionally filtered by ?status=.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, appErr := actorFrom(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	limit, offset := pagination(r)

	var status *domain.OrderStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}

	orders, err := h.orders.ListForParty(r.Context(), actor.ID, status, limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTOs(orders))
}

func (h *OrderHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	orders, err := h.orders.ListAvailable(r.Context(), limit, offset)
	if err != nil {
		RespondDomainError(w, r, err)
		return
	}
	RespondSuccess(w, http.StatusOK, toOrderDTOs(orders))
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error)

func (h *OrderHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
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

	out, err := fn(r.Context(), id, actor)
	if err != nil {
		logging.FromContext(r.Context()).Warn("order transition failed", "operation", op, "order_id", id, "error", err)
		RespondDomainError(w, r, err)
		return
	}
	RespondMessage(w, http.StatusOK, out.Message, transitionDTO{
		Order:      toOrderDTO(out.Order),
		From:       string(out.From),
		Settlement: toSettlementDTO(out.Settlement),
	})
}

func (h *OrderHandler) Accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "accept", h.orders.Accept)
}

func (h *OrderHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start", h.orders.Start)
}

func (h *OrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "complete", h.orders.MarkCompleted)
}

func (h *OrderHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "confirm", h.orders.Confirm)
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	h.transition(w, r, "cancel", func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error) {
		return h.orders.Cancel(ctx, id, actor, req.Reason)
	})
}

func (h *OrderHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req openDisputeRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	h.transition(w, r, "dispute", func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error) {
		return h.orders.OpenDispute(ctx, id, actor, req.Reason, req.Evidence)
	})
}

func (h *OrderHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveDisputeRequest
	if appErr := decodeBody(r, &req); appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}
	h.transition(w, r, "resolve_dispute", func(ctx context.Context, id uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error) {
		return h.orders.ResolveDispute(ctx, id, actor, req.decision())
	})
}
