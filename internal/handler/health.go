package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/josh-kwaku/escrow-marketplace/internal/domain"
	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
)

type HealthHandler struct {
	db      *sql.DB
	version string
}

func NewHealthHandler(db *sql.DB, version string) *HealthHandler {
	return &HealthHandler{db: db, version: version}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness reports down when the database is unreachable or the system
// account has not been seeded by migrations.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database":       "ok",
		"system_account": "ok",
	}
	httpStatus := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("readiness check failed: database unreachable", "error", err)
		checks["database"] = "down"
		checks["system_account"] = "unknown"
		httpStatus = http.StatusServiceUnavailable
	} else {
		var exists bool
		err := h.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, domain.SystemAccountID).Scan(&exists)
		if err != nil || !exists {
			logging.FromContext(r.Context()).Warn("readiness check failed: system account missing", "error", err)
			checks["system_account"] = "missing"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
