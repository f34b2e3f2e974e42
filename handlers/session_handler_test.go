package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSession(t *testing.T, h *SessionHandler, s session.Session) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
	req = req.WithContext(middleware.WithSession(req.Context(), s))
	rec := httptest.NewRecorder()
	h.HandleGetSession(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestHandleGetSession_Unauthenticated(t *testing.T) {
	h := NewSessionHandler(nil)

	t.Run("empty session", func(t *testing.T) {
		code, body := getSession(t, h, session.Empty)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, map[string]interface{}{"authenticated": false}, body)
	})

	t.Run("expired session", func(t *testing.T) {
		expired := session.Ephemeral(session.SessionUser{ID: uuid.New(), Role: models.RoleAdmin}, time.Now().Add(-time.Minute))
		code, body := getSession(t, h, expired)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, false, body["authenticated"])
		assert.Nil(t, body["user"])
	})
}

func TestHandleGetSession_Capabilities(t *testing.T) {
	tests := []struct {
		name   string
		policy *access.Policy
		role   models.Role
		want   Capabilities
	}{
		{"guest", nil, models.RoleGuest, Capabilities{}},
		{"player", nil, models.RolePlayer, Capabilities{CanUseRadio: true}},
		{"team leader", nil, models.RoleTeamLeader, Capabilities{CanUseRadio: true, CanUseFieldTools: true}},
		{"field manager", nil, models.RoleFieldManager, Capabilities{CanUseRadio: true, CanUseFieldTools: true, CanManageGames: true}},
		{"admin", nil, models.RoleAdmin, Capabilities{IsAdmin: true, CanUseRadio: true, CanUseFieldTools: true, CanManageGames: true}},
		{"super admin default policy", nil, models.RoleSuperAdmin, Capabilities{CanUseRadio: true, CanUseFieldTools: true, CanManageGames: true}},
		{"super admin as admin equivalent", access.NewPolicy(models.RoleAdmin, models.RoleSuperAdmin), models.RoleSuperAdmin,
			Capabilities{IsAdmin: true, CanUseRadio: true, CanUseFieldTools: true, CanManageGames: true}},
		{"unknown role", nil, models.Role("overlord"), Capabilities{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := session.SessionUser{ID: uuid.New(), Email: "u@example.com", Role: tt.role}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
			req = req.WithContext(middleware.WithSession(req.Context(), session.Ephemeral(user, time.Now().Add(time.Hour))))
			rec := httptest.NewRecorder()
			NewSessionHandler(tt.policy).HandleGetSession(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			var resp SessionResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.True(t, resp.Authenticated)
			require.NotNil(t, resp.User)
			assert.Equal(t, user.ID, resp.User.ID)
			assert.NotNil(t, resp.ExpiresAt)
			require.NotNil(t, resp.Capabilities)
			assert.Equal(t, tt.want, *resp.Capabilities)
		})
	}
}
