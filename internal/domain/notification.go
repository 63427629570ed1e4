package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationStatusPending    NotificationStatus = "pending"
	NotificationStatusDispatched NotificationStatus = "dispatched"
	NotificationStatusFailed     NotificationStatus = "failed"
)

type NotificationType string

const (
	NotificationOrderAccepted        NotificationType = "order.accepted"
	NotificationOrderStarted         NotificationType = "order.started"
	NotificationOrderAwaitingConfirm NotificationType = "order.awaiting_confirmation"
	NotificationOrderCompleted       NotificationType = "order.completed"
	NotificationOrderAutoConfirmed   NotificationType = "order.auto_confirmed"
	NotificationOrderCancelled       NotificationType = "order.cancelled"
	NotificationOrderDisputed        NotificationType = "order.disputed"
	NotificationOrderDisputeResolved NotificationType = "order.dispute_resolved"
	NotificationInviteCreated        NotificationType = "invite.created"
	NotificationInviteAccepted       NotificationType = "invite.accepted"
	NotificationInviteConverted      NotificationType = "invite.converted"
	NotificationInviteRejected       NotificationType = "invite.rejected"
	NotificationProposalCreated      NotificationType = "proposal.created"
	NotificationProposalResolved     NotificationType = "proposal.resolved"
)

// NotificationEvent is an outbox record describing something the parties of
// an order or invite should hear about.
type NotificationEvent struct {
	ID          uuid.UUID
	Type        NotificationType
	OrderID     *uuid.UUID
	InviteID    *uuid.UUID
	Payload     json.RawMessage
	Status      NotificationStatus
	Attempts    int
	LastAttempt *time.Time
	CreatedAt   time.Time
}
