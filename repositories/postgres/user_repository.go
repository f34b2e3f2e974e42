package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fieldops/field-manager/models"
	"github.com/fieldops/field-manager/repositories"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const userColumns = `id, email, cognito_sub, display_name, role, created_at, updated_at`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.CognitoSub,
		&user.DisplayName,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.CognitoSub,
		user.DisplayName,
		user.Role,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return classify(err, "failed to create user")
	}

	r.logger.Debug("user created",
		zap.String("id", user.ID.String()),
		zap.String("email", user.Email),
		zap.String("role", user.Role.String()))
	return nil
}

func (r *UserRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where + ` = $1`

	user, err := scanUser(GetExecutor(ctx, r.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("failed to get user by %s", where))
	}
	return user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "id", id)
}

// GetByCognitoSub retrieves a user by Cognito subject
func (r *UserRepository) GetByCognitoSub(ctx context.Context, cognitoSub string) (*models.User, error) {
	return r.getOne(ctx, "cognito_sub", cognitoSub)
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

// List retrieves users ordered by email with pagination
func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		ORDER BY email
		LIMIT $1 OFFSET $2
	`

	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	return users, nil
}

// Update updates a user's email, display name and role
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET email = $2,
		    display_name = $3,
		    role = $4,
		    updated_at = $5
		WHERE id = $1
	`

	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Role,
		user.UpdatedAt,
	)
	if err != nil {
		return classify(err, "failed to update user")
	}

	if err := expectOneRow(result, user.ID); err != nil {
		return err
	}

	r.logger.Debug("user updated",
		zap.String("id", user.ID.String()),
		zap.String("role", user.Role.String()))
	return nil
}

// Delete deletes a user
func (r *UserRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := GetExecutor(ctx, r.db).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if err := expectOneRow(result, id); err != nil {
		return err
	}

	r.logger.Debug("user deleted", zap.String("id", id.String()))
	return nil
}

func expectOneRow(result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
	}
	return nil
}
