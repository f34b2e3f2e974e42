package middleware

import (
	"context"

	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// SessionKey is the context key for the request's session
	SessionKey contextKey = "session"

	// SessionIDKey is the context key for the stored session ID (empty for bearer sessions)
	SessionIDKey contextKey = "session_id"

	// ClaimsKey is the context key for bearer token claims
	ClaimsKey contextKey = "claims"
)

// Claims represents JWT claims extracted from a bearer token
type Claims struct {
	Sub           string      `json:"sub"`
	Email         string      `json:"email"`
	EmailVerified bool        `json:"email_verified"`
	Groups        []string    `json:"cognito:groups"`
	Role          models.Role `json:"custom:userRole"`
	Iss           string      `json:"iss"`
	Exp           int64       `json:"exp"`
	Iat           int64       `json:"iat"`
}

// GetRequestIDFromContext retrieves the request ID from context,
// falling back to the ID assigned by chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return chimw.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// SessionFromContext returns the request's session, or the empty session
func SessionFromContext(ctx context.Context) session.Session {
	if val := ctx.Value(SessionKey); val != nil {
		if s, ok := val.(session.Session); ok {
			return s
		}
	}
	return session.Empty
}

// WithSession adds a session to the context
func WithSession(ctx context.Context, s session.Session) context.Context {
	return context.WithValue(ctx, SessionKey, s)
}

// SessionIDFromContext returns the stored session ID, if any
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSessionID adds a stored session ID to the context
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// GetClaimsFromContext retrieves bearer token claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds bearer token claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
