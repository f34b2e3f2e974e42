package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockTokenValidator is a mock implementation of TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(ctx context.Context, token string) (*Claims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Claims), args.Error(1)
}

// MockUserResolver is a mock implementation of UserResolver
type MockUserResolver struct {
	mock.Mock
}

func (m *MockUserResolver) GetByCognitoSub(ctx context.Context, sub string) (*models.User, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func storedUser(sub uuid.UUID, role models.Role) *models.User {
	return &models.User{ID: sub, Email: "stored@example.com", CognitoSub: sub.String(), Role: role}
}

// captureSession records the session the handler saw
func captureSession(got *session.Session, gotID *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = SessionFromContext(r.Context())
		if gotID != nil {
			*gotID = SessionIDFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestLoadSession(t *testing.T) {
	logger := zap.NewNop()

	t.Run("session cookie resolves stored session", func(t *testing.T) {
		store := session.NewStore(time.Hour, logger)
		userID := uuid.New()
		id, _ := store.Establish(session.SessionUser{ID: userID, Role: models.RoleFieldManager})

		m := NewAuthMiddleware(nil, nil, store, logger)
		var got session.Session
		var gotID string

		req := httptest.NewRequest(http.MethodGet, "/field", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
		w := httptest.NewRecorder()
		m.LoadSession(captureSession(&got, &gotID)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.RoleFieldManager, got.Role())
		assert.Equal(t, userID, got.User.ID)
		assert.Equal(t, id, gotID)
	})

	t.Run("unknown cookie leaves empty session", func(t *testing.T) {
		m := NewAuthMiddleware(nil, nil, session.NewStore(time.Hour, logger), logger)
		var got session.Session
		var gotID string

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"})
		w := httptest.NewRecorder()
		m.LoadSession(captureSession(&got, &gotID)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, got.Authenticated)
		assert.Empty(t, gotID)
	})

	t.Run("no credentials leaves empty session", func(t *testing.T) {
		m := NewAuthMiddleware(nil, nil, session.NewStore(time.Hour, logger), logger)
		var got session.Session

		w := httptest.NewRecorder()
		m.LoadSession(captureSession(&got, nil)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, session.Empty, got)
	})

	t.Run("valid bearer token builds ephemeral session", func(t *testing.T) {
		validator := new(MockTokenValidator)
		users := new(MockUserResolver)
		store := session.NewStore(time.Hour, logger)
		m := NewAuthMiddleware(validator, users, store, logger)

		sub := uuid.New()
		claims := &Claims{
			Sub:   sub.String(),
			Email: "lead@example.com",
			Role:  models.RoleTeamLeader,
			Exp:   time.Now().Add(time.Hour).Unix(),
		}
		validator.On("ValidateToken", mock.Anything, "valid-token").Return(claims, nil)
		users.On("GetByCognitoSub", mock.Anything, sub.String()).Return(storedUser(sub, models.RoleTeamLeader), nil)

		var got session.Session
		var gotID string
		handler := m.LoadSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = SessionFromContext(r.Context())
			gotID = SessionIDFromContext(r.Context())
			assert.Equal(t, claims, GetClaimsFromContext(r.Context()))
		}))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.True(t, got.Active(time.Now()))
		assert.Equal(t, models.RoleTeamLeader, got.Role())
		assert.Equal(t, sub, got.User.ID)
		assert.Equal(t, "stored@example.com", got.User.Email)
		assert.Empty(t, gotID, "bearer sessions are not stored")
		assert.Equal(t, uint64(0), store.Version())
		validator.AssertExpectations(t)
		users.AssertExpectations(t)
	})

	t.Run("invalid bearer token leaves empty session", func(t *testing.T) {
		validator := new(MockTokenValidator)
		m := NewAuthMiddleware(validator, new(MockUserResolver), session.NewStore(time.Hour, logger), logger)
		validator.On("ValidateToken", mock.Anything, "bad").Return(nil, errors.New("invalid signature"))

		var got session.Session
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")
		m.LoadSession(captureSession(&got, nil)).ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, got.Authenticated)
	})

	t.Run("bearer subject must be a UUID", func(t *testing.T) {
		validator := new(MockTokenValidator)
		users := new(MockUserResolver)
		m := NewAuthMiddleware(validator, users, session.NewStore(time.Hour, logger), logger)
		validator.On("ValidateToken", mock.Anything, "tok").Return(&Claims{Sub: "user-123", Role: models.RoleAdmin}, nil)

		var got session.Session
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		m.LoadSession(captureSession(&got, nil)).ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, got.Authenticated)
		users.AssertNotCalled(t, "GetByCognitoSub", mock.Anything, mock.Anything)
	})

	t.Run("validator without user lookup ignores bearer tokens", func(t *testing.T) {
		validator := new(MockTokenValidator)
		m := NewAuthMiddleware(validator, nil, session.NewStore(time.Hour, logger), logger)

		var got session.Session
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		m.LoadSession(captureSession(&got, nil)).ServeHTTP(httptest.NewRecorder(), req)

		assert.False(t, got.Authenticated)
		validator.AssertNotCalled(t, "ValidateToken", mock.Anything, mock.Anything)
	})

	t.Run("bearer takes precedence over cookie", func(t *testing.T) {
		validator := new(MockTokenValidator)
		users := new(MockUserResolver)
		store := session.NewStore(time.Hour, logger)
		id, _ := store.Establish(session.SessionUser{ID: uuid.New(), Role: models.RoleAdmin})
		m := NewAuthMiddleware(validator, users, store, logger)
		sub := uuid.New()
		validator.On("ValidateToken", mock.Anything, "tok").Return(&Claims{Sub: sub.String(), Role: models.RolePlayer}, nil)
		users.On("GetByCognitoSub", mock.Anything, sub.String()).Return(storedUser(sub, models.RolePlayer), nil)

		var got session.Session
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: id})
		m.LoadSession(captureSession(&got, nil)).ServeHTTP(httptest.NewRecorder(), req)

		assert.Equal(t, models.RolePlayer, got.Role())
	})
}

// A signed token only proves who the caller is. Access follows the stored
// role, so a stale or hand-set role claim cannot open admin routes.
func TestLoadSession_BearerRoleComesFromStoredUser(t *testing.T) {
	sub := uuid.New()

	tests := []struct {
		name         string
		claimRole    models.Role
		stored       *models.User
		lookupErr    error
		wantCode     int
		wantLocation string
	}{
		{
			name:         "admin claim on a stored player is refused",
			claimRole:    models.RoleAdmin,
			stored:       storedUser(sub, models.RolePlayer),
			wantCode:     http.StatusFound,
			wantLocation: "/",
		},
		{
			name:         "admin claim for an unknown user is unauthenticated",
			claimRole:    models.RoleAdmin,
			lookupErr:    errors.New("not found"),
			wantCode:     http.StatusFound,
			wantLocation: "/login?from=%2Fadmin",
		},
		{
			name:      "stored admin with a player claim is admitted",
			claimRole: models.RolePlayer,
			stored:    storedUser(sub, models.RoleAdmin),
			wantCode:  http.StatusOK,
		},
		{
			name:     "stored admin without a role claim is admitted",
			stored:   storedUser(sub, models.RoleAdmin),
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			validator := new(MockTokenValidator)
			validator.On("ValidateToken", mock.Anything, "tok").Return(&Claims{
				Sub:  sub.String(),
				Role: tt.claimRole,
				Exp:  time.Now().Add(time.Hour).Unix(),
			}, nil)
			users := new(MockUserResolver)
			if tt.stored != nil {
				users.On("GetByCognitoSub", mock.Anything, sub.String()).Return(tt.stored, nil)
			} else {
				users.On("GetByCognitoSub", mock.Anything, sub.String()).Return(nil, tt.lookupErr)
			}

			m := NewAuthMiddleware(validator, users, session.NewStore(time.Hour, nil), zap.NewNop())
			handler := m.LoadSession(newTestRouteGuard(nil).ProtectTable(okHandler))

			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set("Authorization", "Bearer tok")
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantLocation, w.Header().Get("Location"))
			users.AssertExpectations(t)
		})
	}
}

func TestRequireAuth(t *testing.T) {
	m := NewAuthMiddleware(nil, nil, session.NewStore(time.Hour, nil), zap.NewNop())
	called := false
	handler := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	t.Run("rejects empty session", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/session", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, called)
	})

	t.Run("allows active session", func(t *testing.T) {
		s := session.Ephemeral(session.SessionUser{ID: uuid.New(), Role: models.RoleGuest}, time.Time{})
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithSession(req.Context(), s))

		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.True(t, called)
	})
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, session.Empty, SessionFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(ctx))
	assert.Nil(t, GetClaimsFromContext(ctx))
	assert.Empty(t, GetRequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-1")
	assert.Equal(t, "req-1", GetRequestIDFromContext(ctx))
}

func TestGetRequestIDFromContext_ChiFallback(t *testing.T) {
	var got string
	handler := chimw.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(chimw.RequestIDHeader, "abc-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotEmpty(t, got)
	assert.Equal(t, "abc-123", got)
}
