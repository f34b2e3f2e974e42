package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/session"
	"github.com/fieldops/field-manager/utils"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserAdministration is the service behind the users API
type UserAdministration interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateRole(ctx context.Context, actor session.SessionUser, id uuid.UUID, roleName string) (*models.User, error)
}

// UpdateRoleRequest is the body of PUT /api/v1/users/{id}/role
type UpdateRoleRequest struct {
	Role string `json:"role" validate:"required,role"`
}

// UserListResponse is a page of users
type UserListResponse struct {
	Users  []*models.User `json:"users"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// UserHandler serves the role administration API
type UserHandler struct {
	service UserAdministration
	logger  *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(service UserAdministration, logger *zap.Logger) *UserHandler {
	return &UserHandler{service: service, logger: logger}
}

// HandleList handles GET /api/v1/users?limit=&offset=
func (h *UserHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		_ = utils.WriteBadRequest(w, "limit must be an integer", nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		_ = utils.WriteBadRequest(w, "offset must be an integer", nil)
		return
	}

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if users == nil {
		users = []*models.User{}
	}
	_ = utils.WriteOK(w, UserListResponse{Users: users, Limit: limit, Offset: offset})
}

// HandleGet handles GET /api/v1/users/{id}
func (h *UserHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	user, err := h.service.GetUser(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user)
}

// HandleUpdateRole handles PUT /api/v1/users/{id}/role
func (h *UserHandler) HandleUpdateRole(w http.ResponseWriter, r *http.Request) {
	s := middleware.SessionFromContext(r.Context())
	if !s.Authenticated || s.User == nil {
		_ = utils.WriteUnauthorized(w, "", nil)
		return
	}

	id, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = utils.WriteBadRequest(w, "Invalid JSON body", nil)
		return
	}
	if err := utils.ValidateStruct(req); err != nil {
		HandleValidationError(w, err, h.logger)
		return
	}

	user, err := h.service.UpdateRole(r.Context(), *s.User, id, req.Role)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, user)
}

func (h *UserHandler) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid user ID", map[string]interface{}{"id": raw})
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
