// Package router assembles the HTTP surface under /api/v1.
package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/installmatch/backend/internal/auth"
	"github.com/installmatch/backend/internal/cancellation"
	"github.com/installmatch/backend/internal/events"
	"github.com/installmatch/backend/internal/httpx"
	"github.com/installmatch/backend/internal/jobs"
	"github.com/installmatch/backend/internal/ledger"
	"github.com/installmatch/backend/internal/middleware"
	"github.com/installmatch/backend/internal/models"
)

type Deps struct {
	Auth          *auth.Handler
	Ledger        *ledger.Handler
	Jobs          *jobs.Handler
	Cancellations *cancellation.Handler
	Events        *events.StreamHandler

	Tokens         middleware.TokenValidator
	Idempotency    middleware.KeyStore
	AllowedOrigins []string
	Logger         *slog.Logger
}

// New returns the root handler. Health is public; everything under /api/v1
// except /auth needs a bearer token.
func New(d Deps) http.Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	idem := middleware.Idempotency(d.Idempotency, log)
	seller := middleware.RequireRole(models.RoleSeller)
	contractor := middleware.RequireRole(models.RoleContractor)
	admin := middleware.RequireRole(models.RoleAdmin)
	member := middleware.RequireRole(models.RoleSeller, models.RoleContractor)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", d.Auth.Register)
		r.Post("/auth/login", d.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Tokens))

			r.Handle("/events", d.Events)

			r.Route("/points", func(r chi.Router) {
				r.With(member).Get("/balance", d.Ledger.Balance)
				r.With(member).Get("/transactions", d.Ledger.Transactions)
				r.With(seller).Post("/validate", d.Ledger.Validate)
				r.With(seller, idem).Post("/charge", d.Ledger.Charge)
				r.With(contractor, idem).Post("/withdraw", d.Ledger.Withdraw)
			})

			r.Route("/work-orders", func(r chi.Router) {
				r.With(seller, idem).Post("/", d.Jobs.Create)
				r.Get("/", d.Jobs.List)
				r.With(middleware.RequireRole(models.RoleContractor, models.RoleAdmin)).Get("/open", d.Jobs.ListOpen)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", d.Jobs.Get)
					r.Get("/history", d.Jobs.History)
					r.With(contractor).Post("/accept", d.Jobs.Accept)
					r.With(member).Post("/status", d.Jobs.AdvanceStatus)
					r.With(middleware.RequireRole(models.RoleSeller, models.RoleAdmin)).Post("/cancel", d.Jobs.Cancel)

					r.With(contractor).Post("/cancellation-requests", d.Cancellations.Create)
					r.Get("/cancellation-requests", d.Cancellations.ListForWorkOrder)
					r.Get("/cancellation-window", d.Cancellations.Window)
				})
			})

			r.Route("/cancellation-requests", func(r chi.Router) {
				r.With(admin).Get("/", d.Cancellations.ListPending)
				r.Get("/{id}", d.Cancellations.Get)
				r.With(admin).Post("/{id}/decision", d.Cancellations.Decide)
			})
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.HeaderIdempotencyKey},
		ExposedHeaders:   []string{middleware.HeaderReplayed, chimw.RequestIDHeader},
		AllowCredentials: true,
	}).Handler(r)
}
