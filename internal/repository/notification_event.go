package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const notificationEventColumns = `id, event_type, order_id, invite_id, payload, status,
	attempts, last_attempt, created_at`

type NotificationEventRepository struct {
	db *sql.DB
}

func NewNotificationEventRepository(db *sql.DB) *NotificationEventRepository {
	return &NotificationEventRepository{db: db}
}

func (r *NotificationEventRepository) Create(ctx context.Context, event *domain.NotificationEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO notification_events (
			id, event_type, order_id, invite_id, payload, status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.Type, event.OrderID, event.InviteID, []byte(event.Payload),
		event.Status, event.Attempts, event.LastAttempt, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// ClaimPending bumps the attempt counter on up to limit pending events that
// have not been tried within retryAfter and returns them. SKIP LOCKED keeps
// concurrent dispatchers from claiming the same rows.
func (r *NotificationEventRepository) ClaimPending(ctx context.Context, limit int, retryAfter time.Duration) ([]domain.NotificationEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE notification_events SET attempts = attempts + 1, last_attempt = now()
		WHERE id IN (
			SELECT id FROM notification_events
			WHERE status = $1 AND (last_attempt IS NULL OR last_attempt < now() - $2::interval)
			ORDER BY created_at LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+notificationEventColumns,
		domain.NotificationStatusPending, fmt.Sprintf("%d milliseconds", retryAfter.Milliseconds()), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("ClaimPending: %w", err)
	}
	defer rows.Close()

	var events []domain.NotificationEvent
	for rows.Next() {
		e, err := scanNotificationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ClaimPending: rows: %w", err)
	}
	return events, nil
}

func (r *NotificationEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.NotificationStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE notification_events SET status = $1 WHERE id = $2`,
		status, id,
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

func (r *NotificationEventRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.NotificationEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+notificationEventColumns+` FROM notification_events
		WHERE order_id = $1 ORDER BY created_at`, orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("ListByOrder: %w", err)
	}
	defer rows.Close()

	var events []domain.NotificationEvent
	for rows.Next() {
		e, err := scanNotificationEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByOrder: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByOrder: rows: %w", err)
	}
	return events, nil
}

func scanNotificationEvent(s scanner) (*domain.NotificationEvent, error) {
	var e domain.NotificationEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.Type, &e.OrderID, &e.InviteID, &payload,
		&e.Status, &e.Attempts, &e.LastAttempt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
