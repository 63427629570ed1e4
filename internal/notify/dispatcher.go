package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
)

const dispatchBatchSize = 20

type eventQueue interface {
	ClaimPending(ctx context.Context, limit int, retryAfter time.Duration) ([]domain.NotificationEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.NotificationStatus) error
}

type sender interface {
	Send(ctx context.Context, evt domain.NotificationEvent) error
}

// Dispatcher drains the outbox. Each claimed event is sent once per poll;
// events still failing after maxAttempts are marked failed.
type Dispatcher struct {
	events      eventQueue
	sender      sender
	logger      *slog.Logger
	interval    time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
}

func NewDispatcher(events eventQueue, s sender, logger *slog.Logger, interval time.Duration, maxAttempts int, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		events:      events,
		sender:      s,
		logger:      logger,
		interval:    interval,
		maxAttempts: maxAttempts,
		metrics:     m,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("notification dispatcher started", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopped")
			return
		case <-ticker.C:
			d.Poll(ctx)
		}
	}
}

// Poll delivers one batch and returns how many events were dispatched.
func (d *Dispatcher) Poll(ctx context.Context) int {
	ctx = logging.WithLogger(ctx, d.logger)

	events, err := d.events.ClaimPending(ctx, dispatchBatchSize, d.interval)
	if err != nil {
		d.logger.Error("failed to claim pending notifications", "error", err)
		return 0
	}

	dispatched := 0
	for _, evt := range events {
		if d.deliver(ctx, evt) {
			dispatched++
		}
	}
	return dispatched
}

func (d *Dispatcher) deliver(ctx context.Context, evt domain.NotificationEvent) bool {
	err := d.sender.Send(ctx, evt)
	d.metrics.Notification(err)

	if err == nil {
		if err := d.events.UpdateStatus(ctx, evt.ID, domain.NotificationStatusDispatched); err != nil {
			d.logger.Error("failed to mark notification dispatched", "event_id", evt.ID, "error", err)
		}
		return true
	}

	if evt.Attempts < d.maxAttempts {
		d.logger.Warn("notification delivery failed, will retry",
			"event_id", evt.ID,
			"attempt", evt.Attempts,
			"error", err,
		)
		return false
	}

	d.logger.Error("notification delivery failed permanently",
		"event_id", evt.ID,
		"type", evt.Type,
		"attempts", evt.Attempts,
		"error", err,
	)
	if err := d.events.UpdateStatus(ctx, evt.ID, domain.NotificationStatusFailed); err != nil {
		d.logger.Error("failed to mark notification failed", "event_id", evt.ID, "error", err)
	}
	return false
}
