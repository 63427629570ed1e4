package lifecycle

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
	"github.com/josh-kwaku/escrow-marketplace/internal/ledger"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/notify"
	"github.com/josh-kwaku/escrow-marketplace/internal/orderstate"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

// step describes one transition: where it goes, who asks, and what money
// moves. apply runs after validation and before the status write.
type step struct {
	op      string
	actor   domain.Actor
	reason  string
	event   domain.NotificationType
	guard   func(o *domain.Order) error
	target  func(o *domain.Order) domain.OrderStatus
	apply   func(ctx context.Context, lt *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error)
	message func(o *domain.Order, st *ledger.Settlement) string
}

func to(status domain.OrderStatus) func(*domain.Order) domain.OrderStatus {
	return func(*domain.Order) domain.OrderStatus { return status }
}

func (s *Service) run(ctx context.Context, orderID uuid.UUID, st step) (*Outcome, error) {
	var out *Outcome
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		o, err := s.orders.GetForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		out, err = s.applyTx(ctx, tx, o, st)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			logging.Integrity(ctx, "lifecycle."+st.op, err)
			return nil, fmt.Errorf("%s: %w", st.op, err)
		}
		logging.FromContext(ctx).Info("order transition rejected",
			"order_id", orderID,
			"operation", st.op,
			"actor_id", st.actor.ID,
			"error", err,
		)
		return nil, fmt.Errorf("%s: %w", st.op, err)
	}

	s.Announce(ctx, out)
	return out, nil
}

func (s *Service) applyTx(ctx context.Context, tx *sql.Tx, o *domain.Order, st step) (*Outcome, error) {
	if st.guard != nil {
		if err := st.guard(o); err != nil {
			return nil, err
		}
	}

	now := s.now()
	target := st.target(o)
	if err := orderstate.Validate(orderstate.RequestFor(o, target, st.actor, st.reason, now)); err != nil {
		return nil, err
	}

	from := o.Status
	var settlement *ledger.Settlement
	if st.apply != nil {
		var err error
		settlement, err = st.apply(ctx, s.ledger.Bind(tx), o, now)
		if err != nil {
			return nil, err
		}
	}

	o.Status = target
	o.UpdatedAt = now
	if err := s.orders.Update(ctx, tx, o); err != nil {
		return nil, err
	}

	out := &Outcome{Order: o, From: from, Settlement: settlement, event: st.event}
	if st.message != nil {
		out.Message = st.message(o, settlement)
	}
	return out, nil
}

// Announce records a committed transition: log line, metric and
// notification. Callers that own the transaction call it after commit.
func (s *Service) Announce(ctx context.Context, out *Outcome) {
	o := out.Order
	logging.FromContext(ctx).Info("order transitioned",
		"order_id", o.ID,
		"from", out.From,
		"to", o.Status,
		"description", orderstate.Describe(out.From, o.Status),
	)
	s.metrics.OrderTransition(string(out.From), string(o.Status))

	if s.events == nil || out.event == "" {
		return
	}
	parties := []uuid.UUID{o.ClientID}
	if o.ProviderID != nil {
		parties = append(parties, *o.ProviderID)
	}
	amounts := map[string]decimal.Decimal{"value": o.Value}
	if st := out.Settlement; st != nil {
		amounts["provider_payout"] = st.ProviderPayout
		amounts["client_refund"] = st.ClientRefund
		amounts["platform_fee"] = st.PlatformFee
		amounts["cancellation_fee"] = st.CancellationFee
		amounts["compensation"] = st.Compensation
	}
	orderID := o.ID
	s.events.Publish(ctx, notify.Event{
		Type:       out.event,
		OrderID:    &orderID,
		InviteID:   o.InviteID,
		Parties:    parties,
		Amounts:    notify.Money(amounts),
		Message:    out.Message,
		OccurredAt: o.UpdatedAt,
	})
}

func money(d decimal.Decimal) string { return domain.FormatMoney(d) }

func (s *Service) Accept(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*Outcome, error) {
	return s.run(ctx, orderID, s.acceptStep(actor))
}

func (s *Service) acceptStep(actor domain.Actor) step {
	return step{
		op:     "Accept",
		actor:  actor,
		event:  domain.NotificationOrderAccepted,
		target: to(domain.OrderStatusAccepted),
		apply: func(ctx context.Context, lt *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			providerID := actor.ID
			o.ProviderID = &providerID
			o.AcceptedAt = &now

			terms, err := ledger.TermsOf(o)
			if err != nil {
				return nil, err
			}
			if err := lt.EnsureAccount(ctx, providerID); err != nil {
				return nil, err
			}
			if err := lt.CheckHold(ctx, terms); err != nil {
				return nil, err
			}
			return lt.HoldOrder(ctx, terms)
		},
		message: func(o *domain.Order, _ *ledger.Settlement) string {
			return fmt.Sprintf("Order accepted. %s held from the client and %s from the provider.",
				money(o.Value.Add(o.Fees.ContestationFee)), money(o.Fees.ContestationFee))
		},
	}
}

// Start moves an accepted order to in_progress.
func (s *Service) Start(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*Outcome, error) {
	return s.run(ctx, orderID, step{
		op:     "Start",
		actor:  actor,
		event:  domain.NotificationOrderStarted,
		target: to(domain.OrderStatusInProgress),
		apply: func(_ context.Context, _ *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			o.StartedAt = &now
			return nil, nil
		},
		message: func(*domain.Order, *ledger.Settlement) string {
			return "Work on the order has started."
		},
	})
}

// MarkCompleted records delivery and starts the confirmation window using
// the hours captured when the order was opened.
func (s *Service) MarkCompleted(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*Outcome, error) {
	return s.run(ctx, orderID, step{
		op:     "MarkCompleted",
		actor:  actor,
		event:  domain.NotificationOrderAwaitingConfirm,
		target: to(domain.OrderStatusAwaitingConfirmation),
		apply: func(_ context.Context, _ *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			deadline := now.Add(time.Duration(o.Fees.ConfirmationWindowHours) * time.Hour)
			o.CompletedAt = &now
			o.ConfirmationDeadline = &deadline
			return nil, nil
		},
		message: func(o *domain.Order, _ *ledger.Settlement) string {
			return fmt.Sprintf("Order marked as delivered. The client has until %s to confirm or open a dispute.",
				o.ConfirmationDeadline.Format(time.RFC3339))
		},
	})
}

// Confirm releases escrow to the provider. The client confirms at any time
// while the order awaits confirmation; the sweeper only after the deadline.
func (s *Service) Confirm(ctx context.Context, orderID uuid.UUID, actor domain.Actor) (*Outcome, error) {
	event := domain.NotificationOrderCompleted
	if actor.IsSweeper() {
		event = domain.NotificationOrderAutoConfirmed
	}
	return s.run(ctx, orderID, step{
		op:    "Confirm",
		actor: actor,
		event: event,
		guard: func(o *domain.Order) error {
			if o.Status != domain.OrderStatusAwaitingConfirmation {
				return domain.NewValidationError(domain.ReasonInvalidTransition,
					fmt.Sprintf("only orders awaiting confirmation can be confirmed; order is %s", o.Status))
			}
			return nil
		},
		target: to(domain.OrderStatusCompleted),
		apply: func(ctx context.Context, lt *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			terms, err := ledger.TermsOf(o)
			if err != nil {
				return nil, err
			}
			st, err := lt.ReleaseFromEscrow(ctx, terms, o.Fees.PlatformFeePct)
			if err != nil {
				return nil, err
			}
			o.ConfirmedAt = &now
			o.AutoConfirmed = actor.IsSweeper()
			o.PlatformFee = decimal.NewNullDecimal(st.PlatformFee)
			return st, nil
		},
		message: func(o *domain.Order, st *ledger.Settlement) string {
			prefix := "Order confirmed."
			if o.AutoConfirmed {
				prefix = "Order confirmed automatically after the confirmation deadline."
			}
			return fmt.Sprintf("%s Provider received %s; platform fee %s.", prefix, money(st.ProviderPayout), money(st.PlatformFee))
		},
	})
}

// Cancel ends the order. Orders nobody accepted cancel without money
// movement; an admin cancellation refunds everything; a party cancelling
// pays the cancellation fee captured on the order.
func (s *Service) Cancel(ctx context.Context, orderID uuid.UUID, actor domain.Actor, reason string) (*Outcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("Cancel: %w", domain.NewValidationError(domain.ReasonReasonRequired, "a cancellation reason is required"))
	}

	return s.run(ctx, orderID, step{
		op:     "Cancel",
		actor:  actor,
		event:  domain.NotificationOrderCancelled,
		target: to(domain.OrderStatusCancelled),
		apply: func(ctx context.Context, lt *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			actorID := actor.ID
			o.CancelledBy = &actorID
			o.CancellationReason = &reason
			o.CancelledAt = &now

			if !o.HasEscrow() {
				return nil, nil
			}
			terms, err := ledger.TermsOf(o)
			if err != nil {
				return nil, err
			}

			var st *ledger.Settlement
			switch {
			case actor.IsAdmin():
				st, err = lt.RefundFromEscrow(ctx, terms)
			case o.IsClient(actor.ID):
				st, err = lt.SettleCancellation(ctx, terms, domain.PartyClient, o.Fees.CancellationFeePct)
			default:
				st, err = lt.SettleCancellation(ctx, terms, domain.PartyProvider, o.Fees.CancellationFeePct)
			}
			if err != nil {
				return nil, err
			}
			if st.CancellationFee.IsPositive() {
				o.CancellationFee = decimal.NewNullDecimal(st.CancellationFee)
				o.PlatformFee = decimal.NewNullDecimal(st.PlatformFee)
			}
			return st, nil
		},
		message: func(o *domain.Order, st *ledger.Settlement) string {
			if st == nil || !st.CancellationFee.IsPositive() {
				return "Order cancelled."
			}
			return fmt.Sprintf("Order cancelled. Cancellation fee %s charged; %s paid as compensation.",
				money(st.CancellationFee), money(st.Compensation))
		},
	})
}

// OpenDispute freezes the order's escrow until an admin resolves it.
func (s *Service) OpenDispute(ctx context.Context, orderID uuid.UUID, actor domain.Actor, reason string, evidence []string) (*Outcome, error) {
	return s.run(ctx, orderID, step{
		op:     "OpenDispute",
		actor:  actor,
		reason: reason,
		event:  domain.NotificationOrderDisputed,
		target: to(domain.OrderStatusDisputed),
		apply: func(_ context.Context, _ *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			actorID := actor.ID
			from := o.Status
			trimmed := strings.TrimSpace(reason)
			o.DisputeOpenedBy = &actorID
			o.DisputeReason = &trimmed
			o.DisputeEvidence = cleanEvidence(evidence)
			o.DisputeOpenedAt = &now
			o.DisputedFrom = &from
			return nil, nil
		},
		message: func(*domain.Order, *ledger.Settlement) string {
			return "Dispute opened. Funds stay in escrow until an administrator resolves it."
		},
	})
}

func cleanEvidence(evidence []string) []string {
	out := make([]string, 0, len(evidence))
	for _, e := range evidence {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// ResolveDispute settles a disputed order per the admin's decision. Orders
// disputed after completion hold no escrow and resolve without money
// movement.
func (s *Service) ResolveDispute(ctx context.Context, orderID uuid.UUID, actor domain.Actor, d domain.DisputeDecision) (*Outcome, error) {
	if !d.Outcome.Valid() {
		return nil, fmt.Errorf("ResolveDispute: %w", domain.NewValidationError(domain.ReasonInvalidInput, fmt.Sprintf("unknown dispute outcome %q", d.Outcome)))
	}
	if d.Outcome == domain.DisputeSplit {
		if err := ledger.ValidateSplit(d.ClientPct, d.ProviderPct, d.FeePct); err != nil {
			return nil, fmt.Errorf("ResolveDispute: %w", err)
		}
	}

	return s.run(ctx, orderID, step{
		op:    "ResolveDispute",
		actor: actor,
		event: domain.NotificationOrderDisputeResolved,
		guard: func(o *domain.Order) error {
			if o.Status != domain.OrderStatusDisputed {
				return domain.NewValidationError(domain.ReasonInvalidStatus,
					fmt.Sprintf("order is not in dispute; status is %s", o.Status))
			}
			return nil
		},
		target: func(o *domain.Order) domain.OrderStatus {
			if !o.HasEscrow() {
				return domain.OrderStatusResolved
			}
			switch d.Outcome {
			case domain.DisputeFavorProvider:
				return domain.OrderStatusCompleted
			case domain.DisputeFavorClient:
				return domain.OrderStatusCancelled
			}
			return domain.OrderStatusResolved
		},
		apply: func(ctx context.Context, lt *ledger.Tx, o *domain.Order, now time.Time) (*ledger.Settlement, error) {
			actorID := actor.ID
			outcome := string(d.Outcome)
			o.DisputeResolution = &outcome
			o.DisputeResolvedBy = &actorID
			o.DisputeResolvedAt = &now
			if notes := strings.TrimSpace(d.Notes); notes != "" {
				o.DisputeNotes = &notes
			}

			if !o.HasEscrow() {
				return nil, nil
			}
			terms, err := ledger.TermsOf(o)
			if err != nil {
				return nil, err
			}

			var st *ledger.Settlement
			switch d.Outcome {
			case domain.DisputeFavorProvider:
				st, err = lt.ReleaseFromEscrow(ctx, terms, o.Fees.PlatformFeePct)
				if err == nil {
					o.ConfirmedAt = &now
				}
			case domain.DisputeFavorClient:
				st, err = lt.RefundFromEscrow(ctx, terms)
				if err == nil {
					o.CancelledBy = &actorID
					o.CancelledAt = &now
				}
			default:
				st, err = lt.ResolveDisputeCustomSplit(ctx, terms, d.ClientPct, d.ProviderPct, d.FeePct)
			}
			if err != nil {
				return nil, err
			}
			if st.PlatformFee.IsPositive() {
				o.PlatformFee = decimal.NewNullDecimal(st.PlatformFee)
			}
			return st, nil
		},
		message: func(o *domain.Order, st *ledger.Settlement) string {
			if st == nil {
				return "Dispute closed. Payment had already been released, so no funds moved."
			}
			switch d.Outcome {
			case domain.DisputeFavorProvider:
				return fmt.Sprintf("Dispute resolved in favor of the provider, who received %s.", money(st.ProviderPayout))
			case domain.DisputeFavorClient:
				return fmt.Sprintf("Dispute resolved in favor of the client, who was refunded %s.", money(st.ClientRefund))
			}
			return fmt.Sprintf("Dispute resolved by split: client %s, provider %s, platform %s.",
				money(st.ClientRefund), money(st.ProviderPayout), money(st.PlatformFee))
		},
	})
}
