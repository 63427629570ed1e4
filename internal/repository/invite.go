package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const inviteColumns = `id, client_id, provider_id, title, description, original_value, current_value,
	delivery_date, expires_at, client_accepted, client_accepted_at, provider_accepted,
	provider_accepted_at, active_proposal_id, status, order_id, version, created_at, updated_at`

type InviteRepository struct {
	db *sql.DB
}

func NewInviteRepository(db *sql.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

func (r *InviteRepository) Create(ctx context.Context, tx *sql.Tx, inv *domain.Invite) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO invites (
			id, client_id, provider_id, title, description, original_value, current_value,
			delivery_date, expires_at, status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		inv.ID, inv.ClientID, inv.ProviderID, inv.Title, inv.Description, inv.OriginalValue,
		inv.CurrentValue, inv.DeliveryDate, inv.ExpiresAt, inv.Status, inv.Version,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *InviteRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Invite, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE id = $1`, id,
	)
	inv, err := scanInvite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return inv, nil
}

func (r *InviteRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Invite, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+inviteColumns+` FROM invites WHERE id = $1 FOR UPDATE`, id,
	)
	inv, err := scanInvite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return inv, nil
}

// Update persists every mutable column. The row must still be at inv.Version.
func (r *InviteRepository) Update(ctx context.Context, tx *sql.Tx, inv *domain.Invite) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE invites SET
			current_value = $1, client_accepted = $2, client_accepted_at = $3,
			provider_accepted = $4, provider_accepted_at = $5, active_proposal_id = $6,
			status = $7, order_id = $8, version = version + 1, updated_at = $9
		WHERE id = $10 AND version = $11`,
		inv.CurrentValue, inv.ClientAccepted, inv.ClientAcceptedAt,
		inv.ProviderAccepted, inv.ProviderAcceptedAt, inv.ActiveProposalID,
		inv.Status, inv.OrderID, inv.UpdatedAt,
		inv.ID, inv.Version,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrVersionConflict)
	}
	inv.Version++
	return nil
}

func (r *InviteRepository) ListForParty(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Invite, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+inviteColumns+` FROM invites
		WHERE client_id = $1 OR provider_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListForParty: %w", err)
	}
	defer rows.Close()

	var invites []domain.Invite
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("ListForParty: scan: %w", err)
		}
		invites = append(invites, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListForParty: rows: %w", err)
	}
	return invites, nil
}

// ExpireDue marks open invites past their expiry as expired and returns
// their ids.
func (r *InviteRepository) ExpireDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE invites SET status = $1, version = version + 1, updated_at = $2
		WHERE id IN (
			SELECT id FROM invites
			WHERE status IN ($3, $4) AND expires_at <= $2
			ORDER BY expires_at LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		domain.InviteStatusExpired, now, domain.InviteStatusPending, domain.InviteStatusAccepted, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ExpireDue: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ExpireDue: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ExpireDue: rows: %w", err)
	}
	return ids, nil
}

func scanInvite(s scanner) (*domain.Invite, error) {
	var inv domain.Invite
	err := s.Scan(
		&inv.ID, &inv.ClientID, &inv.ProviderID, &inv.Title, &inv.Description,
		&inv.OriginalValue, &inv.CurrentValue, &inv.DeliveryDate, &inv.ExpiresAt,
		&inv.ClientAccepted, &inv.ClientAcceptedAt, &inv.ProviderAccepted, &inv.ProviderAcceptedAt,
		&inv.ActiveProposalID, &inv.Status, &inv.OrderID, &inv.Version, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
