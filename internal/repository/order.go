package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const orderColumns = `id, client_id, provider_id, invite_id, title, description, value, status,
	platform_fee_pct, contestation_fee, cancellation_fee_pct, confirmation_window_hours,
	service_deadline, accepted_at, started_at, completed_at, confirmation_deadline,
	confirmed_at, auto_confirmed, platform_fee,
	dispute_opened_by, dispute_reason, dispute_evidence, dispute_opened_at, disputed_from,
	dispute_resolution, dispute_notes, dispute_resolved_by, dispute_resolved_at,
	cancelled_by, cancellation_reason, cancellation_fee, cancelled_at,
	version, created_at, updated_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (
			id, client_id, provider_id, invite_id, title, description, value, status,
			platform_fee_pct, contestation_fee, cancellation_fee_pct, confirmation_window_hours,
			service_deadline, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.ClientID, o.ProviderID, o.InviteID, o.Title, o.Description, o.Value, o.Status,
		o.Fees.PlatformFeePct, o.Fees.ContestationFee, o.Fees.CancellationFeePct, o.Fees.ConfirmationWindowHours,
		o.ServiceDeadline, o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) GetForUpdate(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetForUpdate: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetForUpdate: %w", err)
	}
	return o, nil
}

// Update persists every mutable column. The row must still be at o.Version.
func (r *OrderRepository) Update(ctx context.Context, tx *sql.Tx, o *domain.Order) error {
	var disputedFrom *string
	if o.DisputedFrom != nil {
		s := string(*o.DisputedFrom)
		disputedFrom = &s
	}
	evidence := o.DisputeEvidence
	if evidence == nil {
		evidence = []string{}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE orders SET
			provider_id = $1, status = $2, accepted_at = $3, started_at = $4, completed_at = $5,
			confirmation_deadline = $6, confirmed_at = $7, auto_confirmed = $8, platform_fee = $9,
			dispute_opened_by = $10, dispute_reason = $11, dispute_evidence = $12, dispute_opened_at = $13,
			disputed_from = $14, dispute_resolution = $15, dispute_notes = $16, dispute_resolved_by = $17,
			dispute_resolved_at = $18, cancelled_by = $19, cancellation_reason = $20, cancellation_fee = $21,
			cancelled_at = $22, version = version + 1, updated_at = $23
		WHERE id = $24 AND version = $25`,
		o.ProviderID, o.Status, o.AcceptedAt, o.StartedAt, o.CompletedAt,
		o.ConfirmationDeadline, o.ConfirmedAt, o.AutoConfirmed, o.PlatformFee,
		o.DisputeOpenedBy, o.DisputeReason, pq.Array(evidence), o.DisputeOpenedAt,
		disputedFrom, o.DisputeResolution, o.DisputeNotes, o.DisputeResolvedBy,
		o.DisputeResolvedAt, o.CancelledBy, o.CancellationReason, o.CancellationFee,
		o.CancelledAt, o.UpdatedAt,
		o.ID, o.Version,
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
	o.Version++
	return nil
}

// ListForParty returns orders where userID is the client or the provider,
// newest first.
func (r *OrderRepository) ListForParty(ctx context.Context, userID uuid.UUID, status *domain.OrderStatus, limit, offset int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE (client_id = $1 OR provider_id = $1) AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		userID, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListForParty: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("ListForParty: %w", err)
	}
	return orders, nil
}

// ListAvailable returns open orders no provider has taken yet.
func (r *OrderRepository) ListAvailable(ctx context.Context, limit, offset int) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		domain.OrderStatusAvailable, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("ListAvailable: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("ListAvailable: %w", err)
	}
	return orders, nil
}

// DueForAutoConfirm returns ids of orders awaiting confirmation whose
// deadline is at or before now.
func (r *OrderRepository) DueForAutoConfirm(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM orders
		WHERE status = $1 AND confirmation_deadline < $2
		ORDER BY confirmation_deadline, id LIMIT $3`,
		domain.OrderStatusAwaitingConfirmation, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("DueForAutoConfirm: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("DueForAutoConfirm: scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("DueForAutoConfirm: rows: %w", err)
	}
	return ids, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return orders, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	var disputedFrom sql.NullString
	err := s.Scan(
		&o.ID, &o.ClientID, &o.ProviderID, &o.InviteID, &o.Title, &o.Description, &o.Value, &o.Status,
		&o.Fees.PlatformFeePct, &o.Fees.ContestationFee, &o.Fees.CancellationFeePct, &o.Fees.ConfirmationWindowHours,
		&o.ServiceDeadline, &o.AcceptedAt, &o.StartedAt, &o.CompletedAt, &o.ConfirmationDeadline,
		&o.ConfirmedAt, &o.AutoConfirmed, &o.PlatformFee,
		&o.DisputeOpenedBy, &o.DisputeReason, pq.Array(&o.DisputeEvidence), &o.DisputeOpenedAt, &disputedFrom,
		&o.DisputeResolution, &o.DisputeNotes, &o.DisputeResolvedBy, &o.DisputeResolvedAt,
		&o.CancelledBy, &o.CancellationReason, &o.CancellationFee, &o.CancelledAt,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if disputedFrom.Valid {
		s := domain.OrderStatus(disputedFrom.String)
		o.DisputedFrom = &s
	}
	return &o, nil
}
