/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/*         Owner endpoints (JWT, or X-User-ID with DEV_AUTH)
  /callbacks/*   Provider callbacks (payload signature only)
  /health        Liveness
  /metrics       Prometheus scrape

SEE ALSO:
  - handlers.go: Handler implementations
  - callbacks.go: Provider callbacks
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/costledger/auth"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, authn *auth.Middleware, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.DevUserHeader},
		AllowCredentials: true,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	// Provider callbacks
	r.Route("/callbacks", func(r chi.Router) {
		r.Get("/redirect/return", h.RedirectReturn)
		r.Get("/redirect/ipn", h.RedirectIPN)
		r.Post("/redirect/ipn", h.RedirectIPN)
		r.Post("/qr/webhook", h.QRWebhook)
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(authn.RequireUser)

		// Cost routes
		r.Route("/costs", func(r chi.Router) {
			r.Post("/", h.CreateCost)
			r.Get("/{id}", h.GetCost)
			r.Patch("/{id}", h.UpdateCost)
		})

		// Group routes
		r.Route("/groups/{id}", func(r chi.Router) {
			r.Get("/costs", h.ListGroupCosts)
			r.Get("/summary", h.GetGroupSummary)
			r.Put("/owners", h.SetGroupOwners)
			r.Get("/wallet", h.GetGroupWallet)
			r.Post("/wallet/contribute", h.ContributeToGroup)
			r.Get("/invoices", h.ListGroupInvoices)
		})

		// Split routes
		r.Route("/splits/{id}", func(r chi.Router) {
			r.Get("/", h.GetSplit)
			r.Get("/payments", h.ListSplitPayments)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/", h.InitiatePayment)
			r.Get("/{id}", h.GetPayment)
		})

		// Caller routes
		r.Route("/me", func(r chi.Router) {
			r.Get("/splits", h.ListMySplits)
			r.Get("/wallet", h.GetMyWallet)
			r.Post("/wallet/deposit", h.Deposit)
			r.Post("/wallet/withdraw", h.Withdraw)
			r.Get("/wallet/transactions", h.GetMyTransactions)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.GenerateInvoice)
			r.Get("/{id}", h.GetInvoice)
			r.Post("/{id}/pay", h.MarkInvoicePaid)
			r.Post("/{id}/cancel", h.CancelInvoice)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", h.Sweep)
		})
	})

	return r
}
