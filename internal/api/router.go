package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	mw "github.com/kiranshivaraju/rockwatch/internal/api/middleware"
	"github.com/kiranshivaraju/rockwatch/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth        *mw.Auth
	RateLimit   *mw.RateLimit
	CORSOrigins []string

	HealthHandler       http.HandlerFunc
	MetricsHandler      http.Handler
	SubmitHandler       http.HandlerFunc
	ListHandler         http.HandlerFunc
	GetHandler          http.HandlerFunc
	CancelHandler       http.HandlerFunc
	RoomHandler         http.HandlerFunc
	SystemStatusHandler http.HandlerFunc
	UpdatesHandler      http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Auth == nil {
		deps.Auth = mw.NewAuth(nil)
	}
	if deps.RateLimit == nil {
		deps.RateLimit = mw.NewRateLimit(nil, 0)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/analyses", orNotImplemented(deps.SubmitHandler))
		r.Get("/api/v1/analyses", orNotImplemented(deps.ListHandler))
		r.Get("/api/v1/analyses/{jobID}", orNotImplemented(deps.GetHandler))
		r.Delete("/api/v1/analyses/{jobID}", orNotImplemented(deps.CancelHandler))

		r.Get("/api/v1/rooms/{room}", orNotImplemented(deps.RoomHandler))
		r.Get("/api/v1/system/status", orNotImplemented(deps.SystemStatusHandler))
	})

	// The websocket is authenticated but not rate limited: one upgrade
	// holds a connection for a long time.
	r.With(deps.Auth.Authenticate).Get("/ws/updates", orNotImplemented(deps.UpdatesHandler))

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
