package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldops/field-manager/config"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/services"
	"github.com/fieldops/field-manager/session"
	"github.com/fieldops/field-manager/utils"
	"go.uber.org/zap"
)

const (
	// StateCookieName is the cookie name for OAuth state (CSRF)
	StateCookieName = "oauth_state"
	// ReturnToCookieName carries the local path to land on after login
	ReturnToCookieName = "return_to"
	// SessionCookieName is the cookie name for the session ID
	SessionCookieName = middleware.SessionCookieName

	stateCookieMaxAge = 600
)

// Authenticator establishes and ends sessions
type Authenticator interface {
	Login(ctx context.Context, code string) (string, session.Session, error)
	Logout(ctx context.Context, sessionID string, current session.Session)
}

// Handler handles OAuth2 authentication flows (login, callback, logout).
type Handler struct {
	cfg     *config.Config
	service Authenticator
	logger  *zap.Logger
}

// NewHandler creates a new auth handler
func NewHandler(cfg *config.Config, service Authenticator, logger *zap.Logger) *Handler {
	return &Handler{
		cfg:     cfg,
		service: service,
		logger:  logger,
	}
}

func (h *Handler) secure() bool {
	return strings.HasPrefix(h.cfg.Cognito.RedirectURI, "https")
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, maxAge int, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure(),
		SameSite: sameSite,
	})
}

// HandleLogin redirects to the Cognito hosted UI. A from parameter naming a
// local path is remembered so the callback can return there; any other
// value is discarded.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Cognito.Domain == "" || h.cfg.Cognito.ClientID == "" {
		h.logger.Error("cognito not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	state, err := generateSecureState()
	if err != nil {
		h.logger.Error("failed to generate state", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "Failed to initiate login")
		return
	}

	// Lax: the callback arrives as a top-level navigation from Cognito
	h.setCookie(w, StateCookieName, state, stateCookieMaxAge, http.SameSiteLaxMode)

	from := r.URL.Query().Get(middleware.FromParam)
	if utils.IsLocalPath(from) {
		h.setCookie(w, ReturnToCookieName, url.QueryEscape(from), stateCookieMaxAge, http.SameSiteLaxMode)
	} else {
		if from != "" {
			h.logger.Info("discarding non-local from parameter", zap.String("from", from))
		}
		h.setCookie(w, ReturnToCookieName, "", -1, http.SameSiteLaxMode)
	}

	authURL := buildAuthURL(h.cfg.Cognito.Domain, h.cfg.Cognito.ClientID, h.cfg.Cognito.RedirectURI, state)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback verifies state, logs the user in, sets the session cookie
// and returns them to the page they originally asked for
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if errCode := query.Get("error"); errCode != "" {
		h.logger.Warn("identity provider returned an error",
			zap.String("error", errCode),
			zap.String("description", query.Get("error_description")))
		_ = utils.WriteUnauthorized(w, "Authentication failed", map[string]interface{}{"error": errCode})
		return
	}

	code := query.Get("code")
	state := query.Get("state")

	if code == "" {
		_ = utils.WriteBadRequest(w, "Missing authorization code", nil)
		return
	}
	if state == "" {
		_ = utils.WriteBadRequest(w, "Missing state parameter", nil)
		return
	}

	stateCookie, err := r.Cookie(StateCookieName)
	if err != nil || stateCookie.Value != state {
		_ = utils.WriteBadRequest(w, "Invalid or expired state", nil)
		return
	}
	h.setCookie(w, StateCookieName, "", -1, http.SameSiteLaxMode)

	if h.service == nil {
		h.logger.Error("auth service not configured")
		_ = utils.WriteInternalServerError(w, "Authentication not configured")
		return
	}

	id, s, err := h.service.Login(r.Context(), code)
	if err != nil {
		h.logger.Warn("login failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		switch {
		case services.IsInternalError(err):
			_ = utils.WriteInternalServerError(w, "Failed to complete login")
		case services.IsConflictError(err):
			_ = utils.WriteConflict(w, "Account conflict", services.GetErrorDetails(err))
		default:
			_ = utils.WriteUnauthorized(w, "Authentication failed", nil)
		}
		return
	}

	maxAge := 0
	if !s.ExpiresAt.IsZero() {
		maxAge = int(time.Until(s.ExpiresAt).Seconds())
	}
	h.setCookie(w, SessionCookieName, id, maxAge, http.SameSiteLaxMode)

	http.Redirect(w, r, h.returnTo(w, r), http.StatusFound)
}

// returnTo consumes the return_to cookie, falling back to the front-end URL
func (h *Handler) returnTo(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ReturnToCookieName); err == nil && c.Value != "" {
		h.setCookie(w, ReturnToCookieName, "", -1, http.SameSiteLaxMode)
		if from, err := url.QueryUnescape(c.Value); err == nil && utils.IsLocalPath(from) {
			return from
		}
	}
	if h.cfg.Cognito.FrontEndURL != "" {
		return h.cfg.Cognito.FrontEndURL
	}
	return "/"
}

// HandleLogout revokes the session, clears the cookie and redirects to the
// Cognito logout endpoint
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookieName); err == nil && h.service != nil {
		h.service.Logout(r.Context(), c.Value, middleware.SessionFromContext(r.Context()))
	}
	h.setCookie(w, SessionCookieName, "", -1, http.SameSiteLaxMode)

	if h.cfg.Cognito.Domain == "" {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	logoutURL := buildLogoutURL(h.cfg.Cognito.Domain, h.cfg.Cognito.ClientID, h.cfg.Cognito.RedirectURI)
	http.Redirect(w, r, logoutURL, http.StatusFound)
}

func buildAuthURL(domain, clientID, redirectURI, state string) string {
	base := strings.TrimSuffix(domain, "/") + "/oauth2/authorize"
	params := url.Values{
		"response_type": {"code"},
		"client_id":     {clientID},
		"redirect_uri":  {redirectURI},
		"state":         {state},
		"scope":         {"openid email profile"},
	}
	return base + "?" + params.Encode()
}

func buildLogoutURL(domain, clientID, redirectURI string) string {
	parsed, err := url.Parse(redirectURI)
	logoutURI := redirectURI
	if err == nil {
		logoutURI = parsed.Scheme + "://" + parsed.Host
	}
	base := strings.TrimSuffix(domain, "/") + "/logout"
	params := url.Values{
		"client_id":  {clientID},
		"logout_uri": {logoutURI},
	}
	return base + "?" + params.Encode()
}

func generateSecureState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
