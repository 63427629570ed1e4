// Package lifecycle drives orders through their status transitions. Each
// mutation locks the order row, validates the transition, moves money
// through the ledger and writes the new status in one transaction.
package lifecycle

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/notify"
	"github.com/josh-kwaku/escrow-marketplace/internal/orderstate"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

type orderRepo interface {
	Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error)
	Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error
	ListForParty(ctx context.Context, userID uuid.UUID, status *domain.OrderStatus, limit, offset int) ([]domain.Order, error)
	ListAvailable(ctx context.Context, limit, offset int) ([]domain.Order, error)
	DueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type feeSchedule interface {
	Capture() domain.FeeSnapshot
}

type Service struct {
	orders  orderRepo
	ledger  *ledger.Engine
	fees    feeSchedule
	events  notify.Publisher
	db      *sql.DB
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Service)

// WithClock replaces the wall clock. Tests use it to move past deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	orders orderRepo,
	engine *ledger.Engine,
	fees feeSchedule,
	events notify.Publisher,
	db *sql.DB,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	s := &Service{
		orders:  orders,
		ledger:  engine,
		fees:    fees,
		events:  events,
		db:      db,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome is what a committed lifecycle operation reports back to callers.
type Outcome struct {
	Order      *domain.Order
	From       domain.OrderStatus
	Settlement *ledger.Settlement
	Message    string

	event domain.NotificationType
}

type OpenRequest struct {
	ClientID        uuid.UUID
	Title           string
	Description     string
	Value           decimal.Decimal
	ServiceDeadline *time.Time
	InviteID        *uuid.UUID
}

func (r OpenRequest) validate() error {
	if r.ClientID == uuid.Nil {
		return domain.NewValidationError(domain.ReasonInvalidInput, "client is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		return domain.NewValidationError(domain.ReasonInvalidInput, "title is required")
	}
	return domain.ValidateAmount("order value", r.Value)
}

// Open publishes a new order in status available with the current fee
// schedule captured on it.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*domain.Order, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	var o *domain.Order
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		o, err = s.openTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}

	logging.FromContext(ctx).Info("order opened",
		"order_id", o.ID,
		"client_id", o.ClientID,
		"value", domain.FormatMoney(o.Value),
		"contestation_fee", domain.FormatMoney(o.Fees.ContestationFee),
	)
	return o, nil
}

func (s *Service) openTx(ctx context.Context, tx *sql.Tx, req OpenRequest) (*domain.Order, error) {
	if err := s.ledger.Bind(tx).EnsureAccount(ctx, req.ClientID); err != nil {
		return nil, fmt.Errorf("openTx: %w", err)
	}

	now := s.now()
	o := &domain.Order{
		ID:              uuid.New(),
		ClientID:        req.ClientID,
		InviteID:        req.InviteID,
		Title:           strings.TrimSpace(req.Title),
		Description:     req.Description,
		Value:           req.Value,
		Status:          domain.OrderStatusAvailable,
		Fees:            s.fees.Capture(),
		ServiceDeadline: req.ServiceDeadline,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.orders.Create(ctx, tx, o); err != nil {
		return nil, fmt.Errorf("openTx: %w", err)
	}
	return o, nil
}

// OpenAndAcceptTx creates an order and accepts it on behalf of providerID
// inside the caller's transaction. The caller publishes notifications after
// its own commit.
func (s *Service) OpenAndAcceptTx(ctx context.Context, tx *sql.Tx, req OpenRequest, providerID uuid.UUID) (*Outcome, error) {
	if err := req.validate(); err != nil {
		return nil, fmt.Errorf("OpenAndAcceptTx: %w", err)
	}
	o, err := s.openTx(ctx, tx, req)
	if err != nil {
		return nil, fmt.Errorf("OpenAndAcceptTx: %w", err)
	}
	out, err := s.applyTx(ctx, tx, o, s.acceptStep(domain.UserActor(providerID)))
	if err != nil {
		return nil, fmt.Errorf("OpenAndAcceptTx: %w", err)
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return o, nil
}

// GetForActor returns the order if actor may see it: its parties, admins,
// and anyone while it is still open for acceptance. Others get ErrNotFound.
func (s *Service) GetForActor(ctx context.Context, id uuid.UUID, actor domain.Actor) (*domain.Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetForActor: %w", err)
	}
	if actor.IsAdmin() || o.IsParty(actor.ID) || o.Status == domain.OrderStatusAvailable {
		return o, nil
	}
	return nil, fmt.Errorf("GetForActor: %w", domain.ErrNotFound)
}

func (s *Service) ListForParty(ctx context.Context, userID uuid.UUID, status *domain.OrderStatus, limit, offset int) ([]domain.Order, error) {
	if status != nil && !orderstate.IsKnown(*status) {
		return nil, fmt.Errorf("ListForParty: %w", domain.NewValidationError(domain.ReasonInvalidStatus, fmt.Sprintf("unknown order status %q", *status)))
	}
	orders, err := s.orders.ListForParty(ctx, userID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListForParty: %w", err)
	}
	return orders, nil
}

func (s *Service) ListAvailable(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	orders, err := s.orders.ListAvailable(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ListAvailable: %w", err)
	}
	return orders, nil
}

// DueForAutoConfirm lists awaiting_confirmation orders whose deadline is
// before now.
func (s *Service) DueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := s.orders.DueForAutoConfirm(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("DueForAutoConfirm: %w", err)
	}
	return ids, nil
}

// Now exposes the service clock so background jobs agree with validation.
func (s *Service) Now() time.Time { return s.now() }
