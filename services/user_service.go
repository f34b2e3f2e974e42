package services

import (
	"context"
	"errors"

	"github.com/fieldops/field-manager/internal/access"
	"github.com/fieldops/field-manager/middleware"
	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/repositories"
	"github.com/fieldops/field-manager/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// UserService administers members and their roles
type UserService struct {
	users    repositories.UserRepository
	txMgr    repositories.TransactionManager
	sessions session.Writer
	recorder AuditRecorder
	policy   *access.Policy
	logger   *zap.Logger
}

// NewUserService creates a new UserService. recorder may be nil; a nil
// policy uses the default admin equivalents.
func NewUserService(
	users repositories.UserRepository,
	txMgr repositories.TransactionManager,
	sessions session.Writer,
	recorder AuditRecorder,
	policy *access.Policy,
	logger *zap.Logger,
) *UserService {
	if policy == nil {
		policy = access.DefaultPolicy()
	}
	return &UserService{
		users:    users,
		txMgr:    txMgr,
		sessions: sessions,
		recorder: recorder,
		policy:   policy,
		logger:   logger,
	}
}

// ListUsers returns a page of users ordered by email
func (s *UserService) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, ErrDatabaseError.Wrap(err).WithDetail("op", "list users")
	}
	return users, nil
}

// GetUser returns one user
func (s *UserService) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, id)
	}
	return user, nil
}

func lookupError(err error, id uuid.UUID) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return ErrUserNotFound.Wrap(err).WithDetail("id", id.String())
	}
	return ErrDatabaseError.Wrap(err).WithDetail("op", "get user")
}

// UpdateRole sets a user's role. The actor must be admin-equivalent and may
// not remove their own admin standing. On change, every stored session of
// the user is revoked so the next request is evaluated with the new role.
func (s *UserService) UpdateRole(ctx context.Context, actor session.SessionUser, id uuid.UUID, roleName string) (*models.User, error) {
	role, ok := models.ParseRole(roleName)
	if !ok {
		return nil, ErrInvalidRole.Wrap(nil).
			WithDetail("role", roleName).
			WithDetail("allowed", models.AllRoles())
	}

	if !s.policy.IsAdmin(actor.Role) {
		return nil, ErrInsufficientPermissions
	}
	if actor.ID == id && !s.policy.IsAdmin(role) {
		return nil, ErrSelfDemotion
	}

	type change struct {
		user *models.User
		from models.Role
	}

	result, err := WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (change, error) {
		user, err := s.users.GetByID(ctx, id)
		if err != nil {
			return change{}, lookupError(err, id)
		}

		from := user.Role
		if from == role {
			return change{user: user, from: from}, nil
		}

		user.SetRole(role)
		if err := s.users.Update(ctx, user); err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return change{}, ErrConcurrentUpdate
			}
			return change{}, ErrDatabaseError.Wrap(err).WithDetail("op", "update role")
		}
		return change{user: user, from: from}, nil
	})
	if err != nil {
		return nil, err
	}

	if result.from == role {
		return result.user, nil
	}

	revoked := s.sessions.RevokeUser(id)
	s.logger.Info("user role changed",
		zap.String("actor_id", actor.ID.String()),
		zap.String("user_id", id.String()),
		zap.String("from", result.from.String()),
		zap.String("to", role.String()),
		zap.Int("sessions_revoked", revoked))

	if s.recorder != nil {
		logRecordError(s.logger, s.recorder.RecordRoleChange(actor.ID, actor.Role, id, result.from, role,
			middleware.GetRequestIDFromContext(ctx)))
	}

	return result.user, nil
}
