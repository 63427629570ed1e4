package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/josh-kwaku/escrow-marketplace/internal/logging"
	"github.com/josh-kwaku/escrow-marketplace/internal/notify"
)

// mock-receiver stands in for the downstream notification consumer during
// local development. It checks signatures and logs every delivery.
func main() {
	logging.Init("mock-receiver", "info", os.Getenv("APP_ENV"))
	secret := os.Getenv("NOTIFY_WEBHOOK_SECRET")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
			slog.Error("failed to write health response", "error", err)
		}
	})
	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, "unreadable body", http.StatusBadRequest)
			return
		}
		if secret != "" && !notify.Verify(body, r.Header.Get(notify.SignatureHeader), secret) {
			slog.Warn("rejected delivery with bad signature", "event_id", r.Header.Get("X-Event-ID"))
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}

		var evt struct {
			ID      string          `json:"id"`
			Type    string          `json:"type"`
			Attempt int             `json:"attempt"`
			Data    json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(body, &evt); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		slog.Info("event received", "event_id", evt.ID, "type", evt.Type, "attempt", evt.Attempt, "data", string(evt.Data))
		w.WriteHeader(http.StatusNoContent)
	})

	slog.Info("mock receiver started", "addr", ":8081")
	if err := http.ListenAndServe(":8081", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
