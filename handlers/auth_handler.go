package handlers

import (
	"net/http"

	"github.com/fieldops/field-manager/auth"
	"github.com/fieldops/field-manager/utils"
)

// AuthDeps provides the auth handler for route wiring. AuthHandler returns
// nil when Cognito is not configured.
type AuthDeps interface {
	AuthHandler() *auth.Handler
}

func authEndpoint(deps AuthDeps, pick func(*auth.Handler) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h := deps.AuthHandler(); h != nil {
			pick(h)(w, r)
			return
		}
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
	}
}

// AuthLoginHandler serves GET /auth/login
func AuthLoginHandler(deps AuthDeps) http.HandlerFunc {
	return authEndpoint(deps, func(h *auth.Handler) http.HandlerFunc { return h.HandleLogin })
}

// AuthCallbackHandler serves the OAuth callback
func AuthCallbackHandler(deps AuthDeps) http.HandlerFunc {
	return authEndpoint(deps, func(h *auth.Handler) http.HandlerFunc { return h.HandleCallback })
}

// AuthLogoutHandler serves GET /auth/logout
func AuthLogoutHandler(deps AuthDeps) http.HandlerFunc {
	return authEndpoint(deps, func(h *auth.Handler) http.HandlerFunc { return h.HandleLogout })
}
