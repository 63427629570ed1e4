package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/service/lifecycle"
)

type orderConfirmer interface {
	DueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	Confirm(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*lifecycle.Outcome, error)
	Now() time.Time
}

// AutoConfirmSweeper releases escrow on orders whose client let the
// confirmation deadline pass.
type AutoConfirmSweeper struct {
	orders   orderConfirmer
	logger   *slog.Logger
	interval time.Duration
	batch    int
	metrics  *metrics.Metrics
}

func NewAutoConfirmSweeper(orders orderConfirmer, logger *slog.Logger, interval time.Duration, batch int, m *metrics.Metrics) *AutoConfirmSweeper {
	return &AutoConfirmSweeper{
		orders:   orders,
		logger:   logger,
		interval: interval,
		batch:    batch,
		metrics:  m,
	}
}

type SweepError struct {
	OrderID uuid.UUID `json:"order_id"`
	Error   string    `json:"error"`
}

type SweepReport struct {
	Processed int          `json:"processed"`
	Confirmed int          `json:"confirmed"`
	Skipped   int          `json:"skipped"`
	Errors    []SweepError `json:"errors"`
}

func (s *AutoConfirmSweeper) Start(ctx context.Context) {
	s.logger.Info("auto-confirm sweeper started", "interval", s.interval, "batch", s.batch)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("auto-confirm sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep confirms every order currently past its deadline, one transaction
// per order. A failure on one order does not stop the rest.
func (s *AutoConfirmSweeper) Sweep(ctx context.Context) SweepReport {
	report := SweepReport{Errors: []SweepError{}}

	ids, err := s.orders.DueForAutoConfirm(ctx, s.orders.Now(), s.batch)
	if err != nil {
		s.logger.Error("failed to list orders due for auto-confirmation", "error", err)
		return report
	}

	for _, id := range ids {
		report.Processed++
		_, err := s.orders.Confirm(ctx, id, domain.SweeperActor)
		switch {
		case err == nil:
			report.Confirmed++
		case skippable(err):
			report.Skipped++
			s.logger.Info("order no longer due for auto-confirmation", "order_id", id, "error", err)
		default:
			report.Errors = append(report.Errors, SweepError{OrderID: id, Error: err.Error()})
			s.logger.Error("failed to auto-confirm order", "order_id", id, "error", err)
		}
	}

	s.metrics.SweepCompleted(report.Confirmed, len(report.Errors))
	if report.Processed > 0 {
		s.logger.Info("auto-confirm sweep finished",
			"processed", report.Processed,
			"confirmed", report.Confirmed,
			"skipped", report.Skipped,
			"failed", len(report.Errors),
		)
	}
	return report
}

// skippable reports errors caused by the order moving on between listing
// and locking it.
func skippable(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	reason, ok := domain.ReasonOf(err)
	if !ok {
		return false
	}
	switch reason {
	case domain.ReasonInvalidTransition, domain.ReasonConfirmationNotDue:
		return true
	}
	return false
}

type inviteExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// InviteExpirer closes invites nobody acted on before their expiry.
type InviteExpirer struct {
	invites  inviteExpirer
	logger   *slog.Logger
	interval time.Duration
	batch    int
}

func NewInviteExpirer(invites inviteExpirer, logger *slog.Logger, interval time.Duration, batch int) *InviteExpirer {
	return &InviteExpirer{invites: invites, logger: logger, interval: interval, batch: batch}
}

func (e *InviteExpirer) Start(ctx context.Context) {
	e.logger.Info("invite expirer started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("invite expirer stopped")
			return
		case <-ticker.C:
			e.Expire(ctx)
		}
	}
}

// Expire runs one pass and returns how many invites it closed.
func (e *InviteExpirer) Expire(ctx context.Context) int {
	total := 0
	for {
		n, err := e.invites.ExpireDue(ctx, e.batch)
		if err != nil {
			e.logger.Error("failed to expire invites", "error", err)
			return total
		}
		total += n
		if n < e.batch {
			return total
		}
	}
}
