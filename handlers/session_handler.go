package handlers

import (
	"net/http"
	"time"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/utils"
	"github.com/google/uuid"
)

// Capabilities are the role-derived flags a client uses to shape its UI
type Capabilities struct {
	IsAdmin          bool `json:"is_admin"`
	CanUseRadio      bool `json:"can_use_radio"`
	CanUseFieldTools bool `json:"can_use_field_tools"`
	CanManageGames   bool `json:"can_manage_games"`
}

// SessionUserResponse is the authenticated user in a session response
type SessionUserResponse struct {
	ID    uuid.UUID   `json:"id"`
	Email string      `json:"email"`
	Role  models.Role `json:"role,omitempty"`
}

// SessionResponse is the response body for GET /api/v1/session
type SessionResponse struct {
	Authenticated bool                 `json:"authenticated"`
	User          *SessionUserResponse `json:"user,omitempty"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
	Capabilities  *Capabilities        `json:"capabilities,omitempty"`
}

var (
	radioRoles = []models.Role{
		models.RolePlayer, models.RoleTeamLeader, models.RoleFieldManager, models.RoleAdmin, models.RoleSuperAdmin,
	}
	fieldRoles = []models.Role{
		models.RoleTeamLeader, models.RoleFieldManager, models.RoleAdmin, models.RoleSuperAdmin,
	}
	gameManagerRoles = []models.Role{
		models.RoleFieldManager, models.RoleAdmin, models.RoleSuperAdmin,
	}
)

// SessionHandler reports the caller's session
type SessionHandler struct {
	policy *access.Policy
}

// NewSessionHandler creates a SessionHandler. A nil policy uses the default.
func NewSessionHandler(policy *access.Policy) *SessionHandler {
	if policy == nil {
		policy = access.DefaultPolicy()
	}
	return &SessionHandler{policy: policy}
}

// HandleGetSession handles GET /api/v1/session. An unauthenticated caller
// gets 200 with authenticated=false.
func (h *SessionHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if !s.Active(time.Now()) {
		_ = utils.WriteJSON(w, http.StatusOK, SessionResponse{Authenticated: false})
		return
	}

	role := s.Role()
	resp := SessionResponse{
		Authenticated: true,
		User: &SessionUserResponse{
			ID:    s.User.ID,
			Email: s.User.Email,
			Role:  role,
		},
		Capabilities: &Capabilities{
			IsAdmin:          h.policy.IsAdmin(role),
			CanUseRadio:      access.HasAnyRole(role, radioRoles),
			CanUseFieldTools: access.HasAnyRole(role, fieldRoles),
			CanManageGames:   access.HasAnyRole(role, gameManagerRoles),
		},
	}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt
		resp.ExpiresAt = &exp
	}
	_ = utils.WriteJSON(w, http.StatusOK, resp)
}
