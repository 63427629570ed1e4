package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/josh-kwaku/escrow-marketplace/internal/auth"
	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

func actorFrom(r *http.Request) (domain.Actor, *AppError) {
	a, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return domain.Actor{}, ErrMissingToken
	}
	return a, nil
}

func idParam(r *http.Request, name string) (uuid.UUID, *AppError) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, ErrResourceNotFound
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) *AppError {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return ErrInvalidRequest
	}
	return nil
}

// pagination reads limit and offset query parameters, clamping limit to
// maxPageLimit.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageLimit)
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
