package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a platform member authenticated via Cognito
type User struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Email       string    `json:"email" db:"email"`
	CognitoSub  string    `json:"cognito_sub" db:"cognito_sub"` // Cognito user identifier
	DisplayName string    `json:"display_name" db:"display_name"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new User instance
func NewUser(email, cognitoSub, displayName string, role Role) *User {
	now := time.Now()
	return &User{
		ID:          uuid.New(),
		Email:       email,
		CognitoSub:  cognitoSub,
		DisplayName: displayName,
		Role:        role,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetRole changes the user's role and bumps UpdatedAt
func (u *User) SetRole(role Role) {
	u.Role = role
	u.UpdatedAt = time.Now()
}
