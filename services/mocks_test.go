package services

import (
	"context"
	"sync"

	"github.com/fieldops/field-manager/cognito"
	"github.com/fieldops/field-manager/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockUserRepository is a mock implementation of UserRepository
type MockUserRepository struct {
	mock.Mock
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByCognitoSub(ctx context.Context, cognitoSub string) (*models.User, error) {
	args := m.Called(ctx, cognitoSub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.User), args.Error(1)
}

func (m *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *MockUserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

// MockCodeExchanger is a mock implementation of CodeExchanger
type MockCodeExchanger struct {
	mock.Mock
}

func (m *MockCodeExchanger) ExchangeCode(ctx context.Context, code, redirectURI, state string) (string, error) {
	args := m.Called(ctx, code, redirectURI, state)
	return args.String(0), args.Error(1)
}

// MockIDTokenValidator is a mock implementation of IDTokenValidator
type MockIDTokenValidator struct {
	mock.Mock
}

func (m *MockIDTokenValidator) ValidateToken(ctx context.Context, token string) (*cognito.ParsedClaims, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cognito.ParsedClaims), args.Error(1)
}

// recordedEvent is one call to the fake audit recorder
type recordedEvent struct {
	action   models.AccessAction
	userID   uuid.UUID
	role     models.Role
	targetID uuid.UUID
	from, to models.Role
}

// fakeAuditRecorder captures audit calls in memory
type fakeAuditRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeAuditRecorder) add(e recordedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeAuditRecorder) RecordLogin(userID uuid.UUID, role models.Role, path, requestID string) error {
	return f.add(recordedEvent{action: models.AccessActionLogin, userID: userID, role: role})
}

func (f *fakeAuditRecorder) RecordLogout(userID uuid.UUID, role models.Role, path, requestID string) error {
	return f.add(recordedEvent{action: models.AccessActionLogout, userID: userID, role: role})
}

func (f *fakeAuditRecorder) RecordRoleChange(actorID uuid.UUID, actorRole models.Role, targetID uuid.UUID, from, to models.Role, requestID string) error {
	return f.add(recordedEvent{
		action:   models.AccessActionRoleChanged,
		userID:   actorID,
		role:     actorRole,
		targetID: targetID,
		from:     from,
		to:       to,
	})
}
