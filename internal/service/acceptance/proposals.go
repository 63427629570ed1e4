package acceptance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

// Propose records the provider's counter-offer. Only one proposal can be
// pending per invite, and proposing clears both acceptance flags since the
// terms changed.
func (s *Service) Propose(ctx context.Context, inviteID uuid.UUID, actor domain.Actor, value decimal.Decimal, justification string) (*domain.Proposal, error) {
	if err := domain.ValidateAmount("proposed value", value); err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}

	var (
		inv *domain.Invite
		p   *domain.Proposal
	)
	err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		inv, err = s.invites.GetForUpdate(ctx, tx, inviteID)
		if err != nil {
			return err
		}
		if inv.ProviderID != actor.ID {
			return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the invited provider can propose a new value")
		}
		if err := s.checkOpen(inv); err != nil {
			return err
		}
		if inv.ActiveProposalID != nil {
			return domain.NewValidationError(domain.ReasonProposalPending, "a value proposal is already pending on this invite")
		}

		now := s.now()
		p = &domain.Proposal{
			ID:            uuid.New(),
			InviteID:      inv.ID,
			ProviderID:    actor.ID,
			OriginalValue: inv.CurrentValue,
			ProposedValue: value,
			Justification: strings.TrimSpace(justification),
			Status:        domain.ProposalStatusPending,
			CreatedAt:     now,
		}
		if err := s.proposals.Create(ctx, tx, p); err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.NewValidationError(domain.ReasonProposalPending, "a value proposal is already pending on this invite")
			}
			return err
		}

		inv.ActiveProposalID = &p.ID
		inv.ClientAccepted, inv.ClientAcceptedAt = false, nil
		inv.ProviderAccepted, inv.ProviderAcceptedAt = false, nil
		inv.Status = domain.InviteStatusPending
		inv.UpdatedAt = now
		return s.invites.Update(ctx, tx, inv)
	})
	if err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}

	logging.FromContext(ctx).Info("proposal created",
		"invite_id", inv.ID,
		"proposal_id", p.ID,
		"original_value", domain.FormatMoney(p.OriginalValue),
		"proposed_value", domain.FormatMoney(p.ProposedValue),
	)
	s.publish(ctx, domain.NotificationProposalCreated, inv,
		fmt.Sprintf("The provider proposed %s instead of %s.", domain.FormatMoney(p.ProposedValue), domain.FormatMoney(p.OriginalValue)))
	return p, nil
}

// ApproveProposal applies the proposed value to the invite.
func (s *Service) ApproveProposal(ctx context.Context, proposalID uuid.UUID, actor domain.Actor) (*domain.Proposal, error) {
	p, err := s.respond(ctx, proposalID, actor, domain.ProposalStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("ApproveProposal: %w", err)
	}
	return p, nil
}

func (s *Service) RejectProposal(ctx context.Context, proposalID uuid.UUID, actor domain.Actor) (*domain.Proposal, error) {
	p, err := s.respond(ctx, proposalID, actor, domain.ProposalStatusRejected)
	if err != nil {
		return nil, fmt.Errorf("RejectProposal: %w", err)
	}
	return p, nil
}

// CancelProposal withdraws the provider's own pending proposal.
func (s *Service) CancelProposal(ctx context.Context, proposalID uuid.UUID, actor domain.Actor) (*domain.Proposal, error) {
	p, err := s.respond(ctx, proposalID, actor, domain.ProposalStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("CancelProposal: %w", err)
	}
	return p, nil
}

func (s *Service) ListProposals(ctx context.Context, inviteID uuid.UUID, actor domain.Actor) ([]domain.Proposal, error) {
	if _, err := s.GetForActor(ctx, inviteID, actor); err != nil {
		return nil, fmt.Errorf("ListProposals: %w", err)
	}
	proposals, err := s.proposals.ListByInvite(ctx, inviteID)
	if err != nil {
		return nil, fmt.Errorf("ListProposals: %w", err)
	}
	return proposals, nil
}

func (s *Service) respond(ctx context.Context, proposalID uuid.UUID, actor domain.Actor, status domain.ProposalStatus) (*domain.Proposal, error) {
	lookup, err := s.proposals.GetByID(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	var (
		inv *domain.Invite
		p   *domain.Proposal
	)
	err = repository.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		// Invite first, then proposal, matching Propose's lock order.
		inv, err = s.invites.GetForUpdate(ctx, tx, lookup.InviteID)
		if err != nil {
			return err
		}
		p, err = s.proposals.GetForUpdate(ctx, tx, proposalID)
		if err != nil {
			return err
		}

		if status == domain.ProposalStatusCancelled {
			if p.ProviderID != actor.ID {
				return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the provider who proposed can cancel")
			}
		} else if inv.ClientID != actor.ID {
			return domain.NewValidationError(domain.ReasonUnauthorizedActor, "only the client can respond to a proposal")
		}
		if p.Status != domain.ProposalStatusPending {
			return domain.NewValidationError(domain.ReasonProposalClosed, fmt.Sprintf("proposal is %s", p.Status))
		}
		if status == domain.ProposalStatusAccepted {
			if err := s.checkOpen(inv); err != nil {
				return err
			}
			inv.CurrentValue = p.ProposedValue
		}

		now := s.now()
		p.Status = status
		p.RespondedAt = &now
		if err := s.proposals.UpdateStatus(ctx, tx, p); err != nil {
			return err
		}
		inv.ActiveProposalID = nil
		inv.UpdatedAt = now
		return s.invites.Update(ctx, tx, inv)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("proposal resolved",
		"invite_id", inv.ID,
		"proposal_id", p.ID,
		"status", p.Status,
		"current_value", domain.FormatMoney(inv.CurrentValue),
	)
	s.publish(ctx, domain.NotificationProposalResolved, inv, fmt.Sprintf("Proposal %s.", p.Status))
	return p, nil
}

func (s *Service) closeProposal(ctx context.Context, tx *sql.Tx, proposalID uuid.UUID, status domain.ProposalStatus) error {
	p, err := s.proposals.GetForUpdate(ctx, tx, proposalID)
	if err != nil {
		return fmt.Errorf("closeProposal: %w", err)
	}
	if p.Status != domain.ProposalStatusPending {
		return nil
	}
	now := s.now()
	p.Status = status
	p.RespondedAt = &now
	if err := s.proposals.UpdateStatus(ctx, tx, p); err != nil {
		return fmt.Errorf("closeProposal: %w", err)
	}
	return nil
}
