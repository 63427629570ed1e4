package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/auth"
	"github.com/josh-kwaku/escrow-marketplace/internal/handler"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/repository"
)

// IdempotencyStore persists replayable responses keyed by actor and key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string, actorID uuid.UUID) (*repository.IdempotencyCacheEntry, error)
	Claim(ctx context.Context, entry *repository.IdempotencyCacheEntry) (bool, error)
	Complete(ctx context.Context, key string, actorID uuid.UUID, status int, body []byte) error
	Release(ctx context.Context, key string, actorID uuid.UUID) error
}

const idempotencyTTL = 24 * time.Hour

// Idempotency replays the stored response for a repeated Idempotency-Key
// from the same actor. Reusing a key for a different request is a conflict,
// as is repeating it while the first request is still running.
func Idempotency(store IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				handler.RespondAppError(w, handler.ErrMissingIdempotencyKey, nil)
				return
			}

			actor, ok := auth.ActorFromContext(r.Context())
			if !ok {
				handler.RespondAppError(w, handler.ErrMissingToken, nil)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				handler.RespondAppError(w, handler.ErrInvalidRequest, nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			log := logging.FromContext(r.Context()).With("idempotency_key", key)
			reqHash := requestHash(r.Method, r.URL.Path, body)

			cached, err := store.Get(r.Context(), key, actor.ID)
			if err != nil {
				log.Error("idempotency cache lookup failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if cached != nil {
				replay(w, log, cached, reqHash)
				return
			}

			now := time.Now().UTC()
			claimed, err := store.Claim(r.Context(), &repository.IdempotencyCacheEntry{
				Key:         key,
				ActorID:     actor.ID,
				RequestHash: reqHash,
				CreatedAt:   now,
				ExpiresAt:   now.Add(idempotencyTTL),
			})
			if err != nil {
				log.Error("idempotency claim failed", "error", err)
				handler.RespondAppError(w, handler.ErrInternalError, nil)
				return
			}
			if !claimed {
				handler.RespondAppError(w, handler.ErrIdempotencyInFlight, nil)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			// The request context may already be cancelled once the client
			// has its response.
			ctx := context.WithoutCancel(r.Context())
			if rec.statusCode >= http.StatusInternalServerError {
				if err := store.Release(ctx, key, actor.ID); err != nil {
					log.Error("idempotency release failed", "error", err)
				}
				return
			}
			if err := store.Complete(ctx, key, actor.ID, rec.statusCode, rec.body.Bytes()); err != nil {
				log.Error("idempotency cache store failed", "error", err)
			}
		})
	}
}

func replay(w http.ResponseWriter, log *slog.Logger, cached *repository.IdempotencyCacheEntry, reqHash string) {
	if cached.RequestHash != reqHash {
		handler.RespondAppError(w, handler.ErrIdempotencyConflict, nil)
		return
	}
	if cached.InFlight() {
		handler.RespondAppError(w, handler.ErrIdempotencyInFlight, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotent-Replayed", "true")
	w.WriteHeader(cached.StatusCode)
	if _, err := w.Write(cached.ResponseBody); err != nil {
		log.Error("failed to write idempotent replay", "error", err)
	}
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
