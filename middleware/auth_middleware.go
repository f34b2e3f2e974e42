package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	"github.com/fieldops/field-manager/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating JWT tokens
type TokenValidator interface {
	// ValidateToken validates a JWT token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// UserResolver looks up the stored account behind a token subject
type UserResolver interface {
	GetByCognitoSub(ctx context.Context, sub string) (*models.User, error)
}

// AuthMiddleware attaches the caller's session to every request
type AuthMiddleware struct {
	validator TokenValidator
	users     UserResolver
	sessions  session.Reader
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. Bearer tokens are only
// honoured when both validator and users are set.
func NewAuthMiddleware(validator TokenValidator, users UserResolver, sessions session.Reader, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		users:     users,
		sessions:  sessions,
		logger:    logger,
	}
}

// SessionCookieName is the cookie holding the opaque session ID, set by the OAuth callback
const SessionCookieName = "session"

// LoadSession resolves the request's session and stores it in the context.
// It never rejects a request: missing or invalid credentials leave the empty
// session in place and the route guard decides what happens next.
// An Authorization bearer token takes precedence over the session cookie.
func (m *AuthMiddleware) LoadSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		if token := extractBearerToken(r); token != "" {
			s, claims, ok := m.sessionFromToken(ctx, token)
			if ok {
				ctx = WithClaims(ctx, claims)
				ctx = WithSession(ctx, s)
				m.logger.Debug("bearer session attached",
					zap.String("request_id", requestID),
					zap.String("sub", claims.Sub),
					zap.String("role", s.Role().String()))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			s := m.sessions.Get(cookie.Value)
			if s.Authenticated {
				ctx = WithSessionID(ctx, cookie.Value)
			}
			ctx = WithSession(ctx, s)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests without an active session with 401
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if !SessionFromContext(ctx).Active(time.Now()) {
			m.logger.Warn("missing session",
				zap.String("request_id", GetRequestIDFromContext(ctx)),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sessionFromToken builds a request-scoped session for a bearer token. The
// token proves identity only; the role is read from the stored user, the
// same source cookie sessions use. Subjects with no stored user get no session.
func (m *AuthMiddleware) sessionFromToken(ctx context.Context, token string) (session.Session, *Claims, bool) {
	if m.validator == nil || m.users == nil {
		return session.Empty, nil, false
	}
	claims, err := m.validator.ValidateToken(ctx, token)
	if err != nil {
		m.logger.Warn("token validation failed",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.Error(err))
		return session.Empty, nil, false
	}

	if _, err := uuid.Parse(claims.Sub); err != nil {
		m.logger.Warn("token subject is not a UUID",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.String("sub", claims.Sub))
		return session.Empty, nil, false
	}

	user, err := m.users.GetByCognitoSub(ctx, claims.Sub)
	if err != nil {
		m.logger.Warn("no stored user for token subject",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.String("sub", claims.Sub),
			zap.Error(err))
		return session.Empty, nil, false
	}
	if claims.Role != models.RoleNone && claims.Role != user.Role {
		m.logger.Debug("token role claim differs from stored role",
			zap.String("sub", claims.Sub),
			zap.String("claim", claims.Role.String()),
			zap.String("stored", user.Role.String()))
	}

	var expiresAt time.Time
	if claims.Exp > 0 {
		expiresAt = time.Unix(claims.Exp, 0)
	}
	s := session.Ephemeral(session.SessionUser{
		ID:    user.ID,
		Email: user.Email,
		Role:  user.Role,
	}, expiresAt)
	return s, claims, true
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
