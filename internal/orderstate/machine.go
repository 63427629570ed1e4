// Package orderstate holds the order transition table and the actor rules
// that guard each transition. It performs no I/O.
package orderstate

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const (
	MinDisputeReasonLength = 10
	ClientCancelWindow     = 24 * time.Hour
)

var transitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusAvailable: {
		domain.OrderStatusAccepted,
		domain.OrderStatusCancelled,
	},
	domain.OrderStatusAccepted: {
		domain.OrderStatusInProgress,
		domain.OrderStatusCancelled,
		domain.OrderStatusDisputed,
	},
	domain.OrderStatusInProgress: {
		domain.OrderStatusAwaitingConfirmation,
		domain.OrderStatusCancelled,
		domain.OrderStatusDisputed,
	},
	domain.OrderStatusAwaitingConfirmation: {
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
		domain.OrderStatusDisputed,
	},
	domain.OrderStatusCompleted: {
		domain.OrderStatusDisputed,
	},
	domain.OrderStatusDisputed: {
		domain.OrderStatusCompleted,
		domain.OrderStatusCancelled,
		domain.OrderStatusResolved,
	},
	domain.OrderStatusCancelled: nil,
	domain.OrderStatusResolved:  nil,
}

var descriptions = map[[2]domain.OrderStatus]string{
	{domain.OrderStatusAvailable, domain.OrderStatusAccepted}:              "provider accepts the order",
	{domain.OrderStatusAvailable, domain.OrderStatusCancelled}:             "client withdraws the open order",
	{domain.OrderStatusAccepted, domain.OrderStatusInProgress}:             "provider starts work",
	{domain.OrderStatusAccepted, domain.OrderStatusCancelled}:              "order cancelled before work started",
	{domain.OrderStatusAccepted, domain.OrderStatusDisputed}:               "dispute opened on accepted order",
	{domain.OrderStatusInProgress, domain.OrderStatusAwaitingConfirmation}: "provider marks the work delivered",
	{domain.OrderStatusInProgress, domain.OrderStatusCancelled}:            "order cancelled during work",
	{domain.OrderStatusInProgress, domain.OrderStatusDisputed}:             "dispute opened during work",
	{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusCompleted}:  "delivery confirmed and payment released",
	{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusCancelled}:  "order cancelled after delivery",
	{domain.OrderStatusAwaitingConfirmation, domain.OrderStatusDisputed}:   "client disputes the delivery",
	{domain.OrderStatusCompleted, domain.OrderStatusDisputed}:              "dispute opened after completion",
	{domain.OrderStatusDisputed, domain.OrderStatusCompleted}:              "dispute resolved for the provider",
	{domain.OrderStatusDisputed, domain.OrderStatusCancelled}:              "dispute resolved for the client",
	{domain.OrderStatusDisputed, domain.OrderStatusResolved}:               "dispute settled by custom resolution",
}

// IsKnown reports whether s is one of the order statuses.
func IsKnown(s domain.OrderStatus) bool {
	_, ok := transitions[s]
	return ok
}

func IsTerminal(s domain.OrderStatus) bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// Allowed returns the statuses reachable from s in one step.
func Allowed(s domain.OrderStatus) []domain.OrderStatus {
	next := transitions[s]
	out := make([]domain.OrderStatus, len(next))
	copy(out, next)
	return out
}

func CanTransition(from, to domain.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Describe returns a human readable description of the transition, or an
// explanation of why it is not allowed.
func Describe(from, to domain.OrderStatus) string {
	if d, ok := descriptions[[2]domain.OrderStatus{from, to}]; ok {
		return d
	}
	if !IsKnown(from) || !IsKnown(to) {
		return fmt.Sprintf("unknown status in transition %s -> %s", from, to)
	}
	return fmt.Sprintf("transition %s -> %s is not allowed", from, to)
}

// Request is everything Validate needs to judge a transition.
type Request struct {
	From       domain.OrderStatus
	To         domain.OrderStatus
	Actor      domain.Actor
	ClientID   uuid.UUID
	ProviderID *uuid.UUID
	AcceptedAt *time.Time
	// ConfirmationDeadline is consulted when the sweeper confirms.
	ConfirmationDeadline *time.Time
	// Reason is the dispute reason when To is disputed.
	Reason string
	Now    time.Time
}

// RequestFor builds a Request from an order's current state.
func RequestFor(o *domain.Order, to domain.OrderStatus, actor domain.Actor, reason string, now time.Time) Request {
	return Request{
		From:                 o.Status,
		To:                   to,
		Actor:                actor,
		ClientID:             o.ClientID,
		ProviderID:           o.ProviderID,
		AcceptedAt:           o.AcceptedAt,
		ConfirmationDeadline: o.ConfirmationDeadline,
		Reason:               reason,
		Now:                  now,
	}
}

func (r Request) isClient() bool { return r.Actor.ID == r.ClientID }

func (r Request) isProvider() bool { return r.ProviderID != nil && r.Actor.ID == *r.ProviderID }

// Validate checks the transition against the table and the actor rules and
// returns a *domain.ValidationError naming the first rule that fails.
func Validate(r Request) error {
	if !IsKnown(r.From) {
		return domain.NewValidationError(domain.ReasonInvalidStatus, fmt.Sprintf("unknown order status %q", r.From))
	}
	if !IsKnown(r.To) {
		return domain.NewValidationError(domain.ReasonInvalidStatus, fmt.Sprintf("unknown order status %q", r.To))
	}
	if !CanTransition(r.From, r.To) {
		return domain.NewValidationError(domain.ReasonInvalidTransition, Describe(r.From, r.To))
	}

	if r.From == domain.OrderStatusDisputed {
		if !r.Actor.IsAdmin() {
			return domain.NewValidationError(domain.ReasonAdminRequired, "only an administrator can move an order out of dispute")
		}
		return nil
	}

	switch r.To {
	case domain.OrderStatusAccepted:
		if r.Actor.Role != domain.RoleUser {
			return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only a provider can accept an order")
		}
		if r.isClient() {
			return domain.NewValidationError(domain.ReasonSelfDealing, "a client cannot accept their own order")
		}
	case domain.OrderStatusInProgress, domain.OrderStatusAwaitingConfirmation:
		if !r.isProvider() {
			return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the assigned provider can advance this order")
		}
	case domain.OrderStatusDisputed:
		if !r.isClient() && !r.isProvider() {
			return domain.NewValidationError(domain.ReasonUnauthorizedDispute, "only the client or the provider can open a dispute")
		}
		if utf8.RuneCountInString(strings.TrimSpace(r.Reason)) < MinDisputeReasonLength {
			return domain.NewValidationError(domain.ReasonDisputeReasonTooShort,
				fmt.Sprintf("dispute reason must be at least %d characters", MinDisputeReasonLength))
		}
	case domain.OrderStatusCancelled:
		return validateCancel(r)
	case domain.OrderStatusCompleted:
		return validateConfirm(r)
	}
	return nil
}

func validateCancel(r Request) error {
	if r.Actor.IsAdmin() {
		return nil
	}
	if !r.isClient() && !r.isProvider() {
		return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the client or the provider can cancel this order")
	}
	if r.From == domain.OrderStatusAvailable && !r.isClient() {
		return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the client can withdraw an open order")
	}
	if r.isClient() && (r.From == domain.OrderStatusAccepted || r.From == domain.OrderStatusInProgress) &&
		r.AcceptedAt != nil && r.Now.Sub(*r.AcceptedAt) > ClientCancelWindow {
		return domain.NewValidationError(domain.ReasonCancellationTimeout,
			"clients can only cancel within 24 hours of acceptance; open a dispute instead")
	}
	return nil
}

func validateConfirm(r Request) error {
	if r.isClient() && r.Actor.Role == domain.RoleUser {
		return nil
	}
	if r.Actor.IsSweeper() {
		if r.ConfirmationDeadline == nil || !r.Now.After(*r.ConfirmationDeadline) {
			return domain.NewValidationError(domain.ReasonConfirmationNotDue, "confirmation deadline has not passed")
		}
		return nil
	}
	return domain.NewValidationError(domain.ReasonClientConfirmationRequired, "only the client can confirm delivery")
}
