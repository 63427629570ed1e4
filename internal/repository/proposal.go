package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const proposalColumns = `id, invite_id, provider_id, original_value, proposed_value,
	justification, status, created_at, responded_at`

type ProposalRepository struct {
	db *sql.DB
}

func NewProposalRepository(db *sql.DB) *ProposalRepository {
	return &ProposalRepository{db: db}
}

func (r *ProposalRepository) Create(ctx context.Context, tx *sql.Tx, p *domain.Proposal) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO proposals (
			id, invite_id, provider_id, original_value, proposed_value, justification, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.InviteID, p.ProviderID, p.OriginalValue, p.ProposedValue,
		p.Justification, p.Status, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *ProposalRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Proposal, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id,
	)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return p, nil
}

func (r *ProposalRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Proposal, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1 FOR UPDATE`, id,
	)
	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return p, nil
}

func (r *ProposalRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, p *domain.Proposal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE proposals SET status = $1, responded_at = $2 WHERE id = $3`,
		p.Status, p.RespondedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *ProposalRepository) ListByInvite(ctx context.Context, inviteID uuid.UUID) ([]domain.Proposal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE invite_id = $1 ORDER BY created_at`, inviteID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByInvite: %w", err)
	}
	defer rows.Close()

	var proposals []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByInvite: scan: %w", err)
		}
		proposals = append(proposals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByInvite: rows: %w", err)
	}
	return proposals, nil
}

func scanProposal(s scanner) (*domain.Proposal, error) {
	var p domain.Proposal
	err := s.Scan(
		&p.ID, &p.InviteID, &p.ProviderID, &p.OriginalValue, &p.ProposedValue,
		&p.Justification, &p.Status, &p.CreatedAt, &p.RespondedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
