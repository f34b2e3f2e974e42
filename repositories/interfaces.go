package repositories

import (
	"context"
	"errors"

	"github.com/fieldops/field-manager/models"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert or update violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// GetByCognitoSub retrieves a user by Cognito subject
	GetByCognitoSub(ctx context.Context, cognitoSub string) (*models.User, error)

	// GetByEmail retrieves a user by email
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	// List retrieves users ordered by email with pagination
	List(ctx context.Context, limit, offset int) ([]*models.User, error)

	// Update updates a user's email, display name and role
	Update(ctx context.Context, user *models.User) error

	// Delete deletes a user
	Delete(ctx context.Context, id uuid.UUID) error
}

// AccessEventRepository handles access audit trail operations
type AccessEventRepository interface {
	// Insert inserts a new access event
	Insert(ctx context.Context, event *models.AccessEvent) error

	// ListRecent retrieves access events newest first with pagination
	ListRecent(ctx context.Context, limit, offset int) ([]*models.AccessEvent, error)

	// GetByUserID retrieves access events for a user newest first with pagination
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AccessEvent, error)

	// GetByRequestID retrieves access events recorded for one request
	GetByRequestID(ctx context.Context, requestID string) ([]*models.AccessEvent, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users        UserRepository
	AccessEvents AccessEventRepository
}
