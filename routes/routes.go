package routes

import (
	"net/http"
	"time"

	"github.com/fieldops/field-manager/app"
	"github.com/fieldops/field-manager/handlers"
	"github.com/fieldops/field-manager/internal/observability"
	"github.com/fieldops/field-manager/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all application routes and middleware.
// Every request passes through session loading and the route table guard
// before it reaches a handler.
func SetupRoutes(deps *app.Dependencies) (http.Handler, error) {
	pages, err := handlers.NewPageHandler(deps.AccessTable, deps.Guard, deps.UserService, deps.Logger)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Access control
	r.Use(deps.AuthMiddleware.LoadSession)
	r.Use(deps.RouteGuard.ProtectTable)

	// Health check endpoints
	health := newHealthHandler(deps)
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	// OAuth2 auth endpoints (Cognito)
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", handlers.AuthLoginHandler(deps))
		r.Get("/callback", handlers.AuthCallbackHandler(deps))
		r.Get("/logout", handlers.AuthLogoutHandler(deps))
	})
	// Cognito Hosted UI default callback path (also used by /auth/callback)
	r.Get("/oauth2/idpresponse", handlers.AuthCallbackHandler(deps))

	// Pages; gating comes from the route table
	r.Get("/", pages.Page(handlers.PageHome))
	r.Get("/login", pages.HandleLogin)
	r.Get("/dashboard", pages.Page(handlers.PageDashboard))
	r.Get("/marketplace", pages.Page(handlers.PageMarketplace))
	r.Get("/radio", pages.Page(handlers.PageRadio))
	r.Get("/field", pages.Page(handlers.PageField))
	r.Get("/admin", pages.HandleAdmin)

	// API v1 routes
	sessions := handlers.NewSessionHandler(deps.AccessTable.Policy)
	users := handlers.NewUserHandler(deps.UserService, deps.Logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/session", sessions.HandleGetSession)

		r.Route("/users", func(r chi.Router) {
			r.Use(deps.AuthMiddleware.RequireAuth)
			r.Get("/", users.HandleList)
			r.Get("/{id}", users.HandleGet)
			r.Put("/{id}/role", users.HandleUpdateRole)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteNotFound(w, "endpoint not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusMethodNotAllowed, utils.ErrorResponse{
			Error:   "method_not_allowed",
			Message: r.Method + " is not supported on " + r.URL.Path,
		})
	})

	return r, nil
}

func newHealthHandler(deps *app.Dependencies) *handlers.HealthHandler {
	var db handlers.HealthChecker
	if deps.DB != nil {
		db = deps.DB
	}
	h := handlers.NewHealthHandler(db, deps.Logger)
	if deps.RepoFactory != nil {
		if auditDB := deps.RepoFactory.GetAuditDB(); auditDB != nil {
			h.WithCheck("audit_database", auditDB)
		}
	}
	return h
}
