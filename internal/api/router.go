package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/alttext/internal/api/middleware"
	"github.com/kiranshivaraju/alttext/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	CreateBatch    http.HandlerFunc
	ListBatches    http.HandlerFunc
	GetBatch       http.HandlerFunc
	BatchProgress  http.HandlerFunc
	ProcessBatch   http.HandlerFunc
	ApplyBatch     http.HandlerFunc
	CancelBatch    http.HandlerFunc
	RetryBatch     http.HandlerFunc
	ProcessJob     http.HandlerFunc
	CleanupBatches http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/batches", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateBatch))
			r.Get("/", orNotImplemented(deps.ListBatches))

			r.Route("/{batchID}", func(r chi.Router) {
				r.Get("/", orNotImplemented(deps.GetBatch))
				r.Get("/progress", orNotImplemented(deps.BatchProgress))
				r.Post("/process", orNotImplemented(deps.ProcessBatch))
				r.Post("/apply", orNotImplemented(deps.ApplyBatch))
				r.Post("/cancel", orNotImplemented(deps.CancelBatch))
				r.Post("/retry", orNotImplemented(deps.RetryBatch))
			})
		})

		r.Post("/api/v1/jobs/{jobID}/process", orNotImplemented(deps.ProcessJob))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

			r.Delete("/api/v1/admin/batches", orNotImplemented(deps.CleanupBatches))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
