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
  /api/requests/*   Approval requests, reconciliation, payments
  /api/billing/*    Billing records, invoices, consistency
  /api/invoices/*   Invoice validity
  /api/payments/*   Receipts
  /api/projects/*   Ledger, balance, budget, commitments

SECURITY NOTE:
  No authentication middleware. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Request routes
		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.CreateRequest)
			r.Get("/{id}", h.GetRequest)
			r.Get("/{id}/status", h.GetRequestStatus)
			r.Post("/{id}/accountant", h.AccountantAction)
			r.Post("/{id}/director", h.DirectorAction)
			r.Post("/{id}/reconcile", h.ReconcileRequest)
			r.Post("/{id}/payments", h.RecordPayment)
		})

		// Billing record routes
		r.Route("/billing", func(r chi.Router) {
			r.Get("/{id}", h.GetBillingRecord)
			r.Post("/{id}/invoice", h.RegisterInvoice)
			r.Post("/{id}/mark-paid", h.MarkPaid)
			r.Get("/{id}/consistency", h.GetConsistency)
		})

		// Invoice routes
		r.Route("/invoices", func(r chi.Router) {
			r.Put("/{id}/validity", h.SetInvoiceValidity)
		})

		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.Post("/{id}/receipts", h.CreateReceipt)
		})

		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/{id}/ledger", h.GetLedger)
			r.Get("/{id}/balance", h.GetBalance)
			r.Post("/{id}/budget", h.GrantBudget)
			r.Post("/{id}/commitments", h.CreateCommitment)
		})
	})

	return r
}
