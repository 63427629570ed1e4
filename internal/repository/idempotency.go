package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IdempotencyCacheEntry tracks one Idempotency-Key for one actor. StatusCode
// is zero while the original request is still in flight.
type IdempotencyCacheEntry struct {
	Key          string
	ActorID      uuid.UUID
	RequestHash  string
	StatusCode   int
	ResponseBody []byte
	CreatedAt    time.Time
	CompletedAt  *time.Time
	ExpiresAt    time.Time
}

func (e *IdempotencyCacheEntry) InFlight() bool { return e.StatusCode == 0 }

type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string, actorID uuid.UUID) (*IdempotencyCacheEntry, error) {
	var e IdempotencyCacheEntry
	err := r.db.QueryRowContext(ctx,
		`SELECT idempotency_key, actor_id, request_hash, status_code, response_body, created_at, completed_at, expires_at
		FROM idempotency_cache
		WHERE idempotency_key = $1 AND actor_id = $2 AND expires_at > now()`,
		key, actorID,
	).Scan(&e.Key, &e.ActorID, &e.RequestHash, &e.StatusCode, &e.ResponseBody, &e.CreatedAt, &e.CompletedAt, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &e, nil
}

// Claim reserves the key for a new request. It reports false when another
// request already holds it. An expired row left behind is taken over.
func (r *IdempotencyRepository) Claim(ctx context.Context, entry *IdempotencyCacheEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO idempotency_cache (idempotency_key, actor_id, request_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key, actor_id) DO UPDATE
		SET request_hash = EXCLUDED.request_hash,
		    status_code = 0,
		    response_body = NULL,
		    created_at = EXCLUDED.created_at,
		    completed_at = NULL,
		    expires_at = EXCLUDED.expires_at
		WHERE idempotency_cache.expires_at <= now()`,
		entry.Key, entry.ActorID, entry.RequestHash, entry.CreatedAt, entry.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("Claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("Claim: rows affected: %w", err)
	}
	return n == 1, nil
}

// Complete stores the response for replay.
func (r *IdempotencyRepository) Complete(ctx context.Context, key string, actorID uuid.UUID, status int, body []byte) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE idempotency_cache
		SET status_code = $3, response_body = $4, completed_at = now()
		WHERE idempotency_key = $1 AND actor_id = $2`,
		key, actorID, status, body,
	)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	return nil
}

// Release drops an in-flight claim so the client can retry with the same key.
func (r *IdempotencyRepository) Release(ctx context.Context, key string, actorID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE idempotency_key = $1 AND actor_id = $2 AND status_code = 0`,
		key, actorID,
	)
	if err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) CleanExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM idempotency_cache WHERE expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("CleanExpired: rows affected: %w", err)
	}
	return n, nil
}
