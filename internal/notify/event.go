// Package notify records lifecycle events in an outbox table and delivers
// them to an external webhook. Recording happens after the business
// transaction commits, so a notification failure never undoes a transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
)

// Event is the structured payload handed to the notification collaborator.
// Amounts are rendered with two decimals.
type Event struct {
	Type       domain.NotificationType `json:"type"`
	OrderID    *uuid.UUID              `json:"order_id,omitempty"`
	InviteID   *uuid.UUID              `json:"invite_id,omitempty"`
	Parties    []uuid.UUID             `json:"parties"`
	Amounts    map[string]string       `json:"amounts,omitempty"`
	URL        string                  `json:"url,omitempty"`
	Message    string                  `json:"message,omitempty"`
	OccurredAt time.Time               `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

type eventStore interface {
	Create(ctx context.Context, event *domain.NotificationEvent) error
}

// Outbox stores events for the Dispatcher to deliver.
type Outbox struct {
	store   eventStore
	baseURL string
	metrics *metrics.Metrics
}

func NewOutbox(store eventStore, baseURL string, m *metrics.Metrics) *Outbox {
	return &Outbox{store: store, baseURL: baseURL, metrics: m}
}

// Publish records evt. Errors are logged and swallowed.
func (o *Outbox) Publish(ctx context.Context, evt Event) {
	log := logging.FromContext(ctx)

	if err := o.record(ctx, evt); err != nil {
		o.metrics.Notification(err)
		log.Warn("failed to record notification", "type", evt.Type, "error", err)
		return
	}
	log.Debug("notification recorded", "type", evt.Type)
}

func (o *Outbox) record(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.URL == "" {
		evt.URL = o.urlFor(evt)
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("record: marshal: %w", err)
	}

	row := &domain.NotificationEvent{
		ID:        uuid.New(),
		Type:      evt.Type,
		OrderID:   evt.OrderID,
		InviteID:  evt.InviteID,
		Payload:   payload,
		Status:    domain.NotificationStatusPending,
		CreatedAt: evt.OccurredAt,
	}
	if err := o.store.Create(ctx, row); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return nil
}

func (o *Outbox) urlFor(evt Event) string {
	if o.baseURL == "" {
		return ""
	}
	switch {
	case evt.OrderID != nil:
		return o.baseURL + "/api/v1/orders/" + evt.OrderID.String()
	case evt.InviteID != nil:
		return o.baseURL + "/api/v1/invites/" + evt.InviteID.String()
	}
	return ""
}

// Money renders named amounts with two decimals, skipping zeros.
func Money(named map[string]decimal.Decimal) map[string]string {
	out := make(map[string]string, len(named))
	for name, amount := range named {
		if amount.IsZero() {
			continue
		}
		out[name] = domain.FormatMoney(amount)
	}
	return out
}
