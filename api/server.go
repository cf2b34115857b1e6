/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/applicants/*     Registration, payments, exam lifecycle, tickets
  /api/tickets/*        Ticket modification, cancellation, terminal marks
  /api/routes           Route table administration
  /api/policies         Fee policy administration
  /api/vouchers         Voucher grants and listing
  /api/transactions     Money movement reporting

SECURITY NOTE:
  No authentication middleware. The app is deployed on the agency's
  private network behind a reverse proxy.

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

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/applicants", func(r chi.Router) {
			r.Get("/", h.ListApplicants)
			r.Post("/", h.Register)
			r.Post("/quote", h.QuoteRegistration)
			r.Get("/{id}", h.GetApplicant)
			r.Get("/{id}/vouchers", h.ListApplicantVouchers)
			r.Get("/{id}/transactions", h.ListApplicantTransactions)
			r.Get("/{id}/audit", h.ListApplicantAudit)
			r.Post("/{id}/payments", h.RecordPayment)
			r.Post("/{id}/exam", h.ScheduleExam)
			r.Post("/{id}/exam/change/quote", h.QuoteExamChange)
			r.Post("/{id}/exam/change", h.RescheduleExam)
			r.Post("/{id}/retake/quote", h.QuoteRetake)
			r.Post("/{id}/retake", h.ScheduleRetake)
			r.Post("/{id}/exam-result", h.RecordExamResult)
			r.Post("/{id}/exam-result/undo", h.UndoExamResult)
			r.Get("/{id}/tickets", h.ListApplicantTickets)
			r.Post("/{id}/tickets/quote", h.QuoteTicketIssuance)
			r.Post("/{id}/tickets", h.IssueTicket)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/{id}/change/quote", h.QuoteTicketChange)
			r.Post("/{id}/change", h.ChangeTicket)
			r.Post("/{id}/mark", h.MarkTicket)
		})

		r.Route("/routes", func(r chi.Router) {
			r.Get("/", h.ListRoutes)
			r.Post("/", h.CreateRoute)
		})

		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Post("/", h.CreatePolicy)
		})

		r.Route("/vouchers", func(r chi.Router) {
			r.Get("/", h.ListVouchers)
			r.Post("/", h.GrantVoucher)
		})

		r.Get("/transactions", h.ListTransactions)
	})

	return r
}
