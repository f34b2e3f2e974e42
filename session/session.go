// Package session holds the process-wide authentication state.
//
// The Store has one writer, the login flow, and many readers: route guards,
// render gates and handlers. Writers and readers are split into separate
// interfaces so that only the auth flow can mutate sessions.
package session

import (
	"time"

	"github.com/fieldops/field-manager/models"
	"github.com/google/uuid"
)

// SessionUser is the authenticated actor carried by a Session
type SessionUser struct {
	ID    uuid.UUID   `json:"id"`
	Email string      `json:"email"`
	Role  models.Role `json:"role"`
}

// Session is the authentication state of one client.
// The zero value is the empty, unauthenticated session.
type Session struct {
	Authenticated bool         `json:"authenticated"`
	User          *SessionUser `json:"user,omitempty"`
	IssuedAt      time.Time    `json:"issued_at,omitempty"`
	ExpiresAt     time.Time    `json:"expires_at,omitempty"`
}

// Empty is the unauthenticated session
var Empty = Session{}

// Role returns the session's role, or RoleNone when there is no valid one
func (s Session) Role() models.Role {
	if !s.Authenticated || s.User == nil || !s.User.Role.Valid() {
		return models.RoleNone
	}
	return s.User.Role
}

// Active reports whether s is authenticated, has a user and has not expired.
// A zero ExpiresAt never expires.
func (s Session) Active(now time.Time) bool {
	if !s.Authenticated || s.User == nil {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Ephemeral builds an unstored session for a request authenticated by a bearer token
func Ephemeral(user SessionUser, expiresAt time.Time) Session {
	u := user
	return Session{
		Authenticated: true,
		User:          &u,
		IssuedAt:      time.Now().UTC(),
		ExpiresAt:     expiresAt,
	}
}
