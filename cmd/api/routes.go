package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/josh-kwaku/escrow-marketplace/api"
	"github.com/josh-kwaku/escrow-marketplace/internal/handler"
	"github.com/josh-kwaku/escrow-marketplace/internal/metrics"
	"github.com/josh-kwaku/escrow-marketplace/internal/middleware"
)

type handlers struct {
	health  *handler.HealthHandler
	wallet  *handler.WalletHandler
	orders  *handler.OrderHandler
	invites *handler.InviteHandler
	admin   *handler.AdminHandler
}

type routerDeps struct {
	jwtSecret   string
	limiter     *middleware.RateLimiter
	idempotency middleware.IdempotencyStore
	metrics     *metrics.Metrics
}

func newRouter(h handlers, deps routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Tracing)
	r.Use(middleware.Recovery)

	r.Get("/health", h.health.Liveness)
	r.Get("/health/ready", h.health.Readiness)
	r.Handle("/metrics", deps.metrics.Handler())
	r.Get("/docs", handler.ServeDocs("Escrow Marketplace API", "/docs/openapi.yaml"))
	r.Get("/docs/openapi.yaml", handler.ServeSpec(api.OpenAPI))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.jwtSecret))
		r.Use(middleware.Logging)
		r.Use(deps.limiter.Middleware)
		r.Use(middleware.Idempotency(deps.idempotency))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", h.wallet.Balance)
			r.Get("/entries", h.wallet.Entries)
			r.Post("/transfers", h.wallet.Transfer)
			r.Post("/redeem", h.wallet.Redeem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.orders.Open)
			r.Get("/", h.orders.List)
			r.Get("/available", h.orders.ListAvailable)
			r.Get("/{id}", h.orders.Get)
			r.Post("/{id}/accept", h.orders.Accept)
			r.Post("/{id}/start", h.orders.Start)
			r.Post("/{id}/complete", h.orders.Complete)
			r.Post("/{id}/confirm", h.orders.Confirm)
			r.Post("/{id}/cancel", h.orders.Cancel)
			r.Post("/{id}/disputes", h.orders.OpenDispute)
		})

		r.Route("/invites", func(r chi.Router) {
			r.Post("/", h.invites.Create)
			r.Get("/", h.invites.List)
			r.Get("/{id}", h.invites.Get)
			r.Post("/{id}/accept", h.invites.Accept)
			r.Post("/{id}/retry", h.invites.Retry)
			r.Post("/{id}/reject", h.invites.Reject)
			r.Post("/{id}/proposals", h.invites.Propose)
			r.Get("/{id}/proposals", h.invites.ListProposals)
		})

		r.Route("/proposals/{id}", func(r chi.Router) {
			r.Post("/approve", h.invites.ApproveProposal)
			r.Post("/reject", h.invites.RejectProposal)
			r.Post("/cancel", h.invites.CancelProposal)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Post("/mint", h.admin.Mint)
			r.Post("/issue", h.admin.Issue)
			r.Get("/audit", h.admin.Audit)
			r.Post("/sweeps", h.admin.Sweep)
			r.Get("/accounts/{id}", h.admin.AccountBalance)
			r.Post("/orders/{id}/resolve", h.orders.ResolveDispute)
			r.Get("/orders/{id}/notifications", h.admin.OrderNotifications)
		})
	})

	return r
}
