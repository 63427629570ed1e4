// Package acceptance coordinates invites: directed offers that turn into an
// order once the client and the provider have both accepted.
package acceptance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/notify"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
)

type inviteRepo interface {
	Create(ctx context.Context, tx *sql.Tx, inv *domain.Invite) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invite, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Invite, error)
	Update(ctx context.Context, tx *sql.Tx, inv *domain.Invite) error
	ListForParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invite, error)
	ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type proposalRepo interface {
	Create(ctx context.Context, tx *sql.Tx, p *domain.Proposal) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Proposal, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Proposal, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, p *domain.Proposal) error
	ListByInvite(ctx context.Context, inviteID uuid.UUID) ([]domain.Proposal, error)
}

type orderLifecycle interface {
	OpenAndAcceptTx(ctx context.Context, tx *sql.Tx, req lifecycle.OpenRequest, providerID uuid.UUID) (*lifecycle.Outcome, error)
	Announce(ctx context.Context, out *lifecycle.Outcome)
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type Service struct {
	invites   inviteRepo
	proposals proposalRepo
	orders    orderLifecycle
	events    notify.Publisher
	db        *sql.DB
	metrics   *metrics.Metrics
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	invites inviteRepo,
	proposals proposalRepo,
	orders orderLifecycle,
	events notify.Publisher,
	db *sql.DB,
	m *metrics.Metrics,
	ttl time.Duration,
	opts ...Option,
) *Service {
	s := &Service{
		invites:   invites,
		proposals: proposals,
		orders:    orders,
		events:    events,
		db:        db,
		metrics:   m,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateRequest struct {
	ClientID     uuid.UUID
	ProviderID   uuid.UUID
	Title        string
	Description  string
	Value        decimal.Decimal
	DeliveryDate *time.Time
}

// Result is what an acceptance call reports. Order is set once the invite
// has converted.
type Result struct {
	Invite  *domain.Invite
	Order   *domain.Order
	Message string
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*domain.Invite, error) {
	if req.ClientID == uuid.Nil || req.ProviderID == uuid.Nil {
		return nil, fmt.Errorf("Create: %w", domain.NewValidationError(domain.ReasonInvalidInput, "client and provider are required"))
	}
	if req.ClientID == req.ProviderID {
		return nil, fmt.Errorf("Create: %w", domain.NewValidationError(domain.ReasonSelfDealing, "a client cannot invite themselves"))
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("Create: %w", domain.NewValidationError(domain.ReasonInvalidInput, "title is required"))
	}
	if err := domain.ValidateAmount("invite value", req.Value); err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	now := s.now()
	inv := &domain.Invite{
		ID:            uuid.New(),
		ClientID:      req.ClientID,
		ProviderID:    req.ProviderID,
		Title:         strings.TrimSpace(req.Title),
		Description:   req.Description,
		OriginalValue: req.Value,
		CurrentValue:  req.Value,
		DeliveryDate:  req.DeliveryDate,
		ExpiresAt:     now.Add(s.ttl),
		Status:        domain.InviteStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.invites.Create(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("Create: %w", err)
	}

	logging.FromContext(ctx).Info("invite created",
		"invite_id", inv.ID,
		"client_id", inv.ClientID,
		"provider_id", inv.ProviderID,
		"value", domain.FormatMoney(inv.CurrentValue),
	)
	s.publish(ctx, domain.NotificationInviteCreated, inv, "You have a new service invite.")
	return inv, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Invite, error) {
	inv, err := s.invites.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return inv, nil
}

// GetForActor hides invites from anyone who is not a party or an admin.
func (s *Service) GetForActor(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Invite, error) {
	inv, err := s.invites.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetForActor: %w", err)
	}
	if _, ok := inv.SideOf(actor.ID); !ok && !actor.IsAdmin() {
		return nil, fmt.Errorf("GetForActor: %w", domain.ErrNotFound)
	}
	return inv, nil
}

func (s *Service) ListForParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invite, error) {
	invites, err := s.invites.ListForParty(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListForParty: %w", err)
	}
	return invites, nil
}

// Accept records actor's acceptance. The flag is committed on its own; when
// it completes the pair, conversion runs in a second transaction. A failed
// conversion leaves both flags set so RetryConversion can finish it later.
func (s *Service) Accept(ctx context.Context, inviteID uuid.UUID, actor domain.Actor) (*Result, error) {
	var inv *domain.Invite
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = s.invites.GetForUpdate(ctx, tx, inviteID)
		if err != nil {
			return err
		}
		if inv.Status == domain.InviteStatusConverted {
			return nil
		}
		if err := s.checkOpen(inv); err != nil {
			return err
		}
		if inv.ActiveProposalID != nil {
			return domain.NewValidationError(domain.ReasonProposalPending, "a value proposal is pending on this invite")
		}

		side, ok := inv.SideOf(actor.ID)
		if !ok {
			return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the invited parties can accept")
		}
		now := s.now()
		switch side {
		case domain.PartyClient:
			if inv.ClientAccepted {
				return nil
			}
			inv.ClientAccepted = true
			inv.ClientAcceptedAt = &now
		case domain.PartyProvider:
			if inv.ProviderAccepted {
				return nil
			}
			inv.ProviderAccepted = true
			inv.ProviderAcceptedAt = &now
		}
		if inv.BothAccepted() {
			inv.Status = domain.InviteStatusAccepted
		}
		inv.UpdatedAt = now
		return s.invites.Update(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("Accept: %w", err)
	}

	if inv.Status == domain.InviteStatusConverted {
		return s.converted(ctx, inv)
	}

	logging.FromContext(ctx).Info("invite accepted",
		"invite_id", inv.ID,
		"actor_id", actor.ID,
		"client_accepted", inv.ClientAccepted,
		"provider_accepted", inv.ProviderAccepted,
	)
	if !inv.BothAccepted() {
		s.publish(ctx, domain.NotificationInviteAccepted, inv, "One side has accepted the invite.")
		return &Result{Invite: inv, Message: "Acceptance recorded. Waiting for the other party."}, nil
	}

	res, err := s.convert(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("Accept: %w", err)
	}
	return res, nil
}

// RetryConversion reattempts order creation for an invite both sides have
// accepted, typically after a party topped up their balance.
func (s *Service) RetryConversion(ctx context.Context, inviteID uuid.UUID, actor domain.Actor) (*Result, error) {
	inv, err := s.invites.GetByID(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("RetryConversion: %w", err)
	}
	if _, ok := inv.SideOf(actor.ID); !ok && !actor.IsAdmin() {
		return nil, fmt.Errorf("RetryConversion: %w", domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the invited parties can retry"))
	}
	if inv.Status == domain.InviteStatusConverted {
		return s.converted(ctx, inv)
	}
	if !inv.BothAccepted() {
		return nil, fmt.Errorf("RetryConversion: %w", domain.NewValidationError(domain.ReasonInvalidStatus, "both parties must accept before the invite converts"))
	}

	res, err := s.convert(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("RetryConversion: %w", err)
	}
	return res, nil
}

func (s *Service) convert(ctx context.Context, inviteID uuid.UUID) (*Result, error) {
	var (
		inv     *domain.Invite
		out     *lifecycle.Outcome
		already bool
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = s.invites.GetForUpdate(ctx, tx, inviteID)
		if err != nil {
			return err
		}
		if inv.Status == domain.InviteStatusConverted {
			already = true
			return nil
		}
		if err := s.checkOpen(inv); err != nil {
			return err
		}
		if !inv.BothAccepted() {
			return domain.NewValidationError(domain.ReasonInvalidStatus, "both parties must accept before the invite converts")
		}

		id := inv.ID
		out, err = s.orders.OpenAndAcceptTx(ctx, tx, lifecycle.OpenRequest{
			ClientID:        inv.ClientID,
			Title:           inv.Title,
			Description:     inv.Description,
			Value:           inv.CurrentValue,
			ServiceDeadline: inv.DeliveryDate,
			InviteID:        &id,
		}, inv.ProviderID)
		if err != nil {
			return err
		}

		orderID := out.Order.ID
		inv.Status = domain.InviteStatusConverted
		inv.OrderID = &orderID
		inv.UpdatedAt = s.now()
		return s.invites.Update(ctx, tx, inv)
	})
	if already {
		return s.converted(ctx, inv)
	}
	s.metrics.InviteConversion(err)
	if errors.Is(err, domain.ErrIntegrity) {
		logging.Integrity(ctx, "acceptance.convert", err)
		return nil, fmt.Errorf("convert: %w", err)
	}
	if err != nil {
		logging.FromContext(ctx).Warn("invite conversion failed",
			"invite_id", inviteID,
			"error", err,
		)
		return nil, fmt.Errorf("convert: %w", err)
	}

	s.orders.Announce(ctx, out)
	logging.FromContext(ctx).Info("invite converted",
		"invite_id", inv.ID,
		"order_id", out.Order.ID,
	)
	s.publish(ctx, domain.NotificationInviteConverted, inv, "Both parties accepted. The order has been created and funds are held in escrow.")
	return &Result{Invite: inv, Order: out.Order, Message: out.Message}, nil
}

func (s *Service) converted(ctx context.Context, inv *domain.Invite) (*Result, error) {
	o, err := s.orders.Get(ctx, *inv.OrderID)
	if err != nil {
		return nil, fmt.Errorf("converted: %w", err)
	}
	return &Result{Invite: inv, Order: o, Message: "Invite already converted into an order."}, nil
}

// checkOpen rejects invites that can no longer be acted on.
func (s *Service) checkOpen(inv *domain.Invite) error {
	if !inv.Status.IsOpen() {
		return domain.NewValidationError(domain.ReasonInviteClosed, fmt.Sprintf("invite is %s", inv.Status))
	}
	if inv.IsExpired(s.now()) {
		return domain.NewValidationError(domain.ReasonInviteExpired, "invite has expired")
	}
	return nil
}

// Reject closes the invite. Either party may reject while it is open.
func (s *Service) Reject(ctx context.Context, inviteID uuid.UUID, actor domain.Actor) (*domain.Invite, error) {
	var inv *domain.Invite
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = s.invites.GetForUpdate(ctx, tx, inviteID)
		if err != nil {
			return err
		}
		if _, ok := inv.SideOf(actor.ID); !ok {
			return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the invited parties can reject")
		}
		if !inv.Status.IsOpen() {
			return domain.NewValidationError(domain.ReasonInviteClosed, fmt.Sprintf("invite is %s", inv.Status))
		}
		if inv.ActiveProposalID != nil {
			if err := s.closeProposal(ctx, tx, *inv.ActiveProposalID, domain.ProposalStatusCancelled); err != nil {
				return err
			}
			inv.ActiveProposalID = nil
		}
		inv.Status = domain.InviteStatusRejected
		inv.UpdatedAt = s.now()
		return s.invites.Update(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("Reject: %w", err)
	}

	logging.FromContext(ctx).Info("invite rejected", "invite_id", inv.ID, "actor_id", actor.ID)
	s.publish(ctx, domain.NotificationInviteRejected, inv, "The invite was rejected.")
	return inv, nil
}

// ExpireDue marks open invites past their expiry as expired.
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	ids, err := s.invites.ExpireDue(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("ExpireDue: %w", err)
	}
	s.metrics.InvitesExpired(len(ids))
	if len(ids) > 0 {
		logging.FromContext(ctx).Info("invites expired", "count", len(ids))
	}
	return len(ids), nil
}

func (s *Service) publish(ctx context.Context, typ domain.NotificationType, inv *domain.Invite, message string) {
	if s.events == nil {
		return
	}
	id := inv.ID
	s.events.Publish(ctx, notify.Event{
		Type:       typ,
		OrderID:    inv.OrderID,
		InviteID:   &id,
		Parties:    []uuid.UUID{inv.ClientID, inv.ProviderID},
		Amounts:    notify.Money(map[string]decimal.Decimal{"value": inv.CurrentValue}),
		Message:    message,
		OccurredAt: inv.UpdatedAt,
	})
}
