package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/jaewoo-shin/civicdedup/internal/api/middleware"
	"github.com/jaewoo-shin/civicdedup/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateComplaint     http.HandlerFunc
	GetComplaint        http.HandlerFunc
	SubmitNormalization http.HandlerFunc

	ListIncidents       http.HandlerFunc
	GetIncident         http.HandlerFunc
	ListIncidentMembers http.HandlerFunc
	CloseIncident       http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("write"))

			r.Post("/api/v1/complaints", orNotImplemented(deps.CreateComplaint))
			r.Post("/api/v1/complaints/{complaintID}/normalizations", orNotImplemented(deps.SubmitNormalization))
			r.Post("/api/v1/incidents/{incidentID}/close", orNotImplemented(deps.CloseIncident))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("read"))

			r.Get("/api/v1/complaints/{complaintID}", orNotImplemented(deps.GetComplaint))
			r.Get("/api/v1/incidents", orNotImplemented(deps.ListIncidents))
			r.Get("/api/v1/incidents/{incidentID}", orNotImplemented(deps.GetIncident))
			r.Get("/api/v1/incidents/{incidentID}/complaints", orNotImplemented(deps.ListIncidentMembers))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

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
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
