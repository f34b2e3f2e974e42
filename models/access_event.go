package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AccessAction represents the kind of access event being recorded
type AccessAction string

const (
	AccessActionLogin       AccessAction = "login"
	AccessActionLogout      AccessAction = "logout"
	AccessActionDenied      AccessAction = "denied"
	AccessActionRoleChanged AccessAction = "role_changed"
)

// AccessEvent is an audit trail entry for authentication and authorization outcomes
type AccessEvent struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	Role      Role            `json:"role" db:"role"`
	Action    AccessAction    `json:"action" db:"action"`
	Path      string          `json:"path" db:"path"`
	Reason    string          `json:"reason,omitempty" db:"reason"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSONB
	IPAddress string          `json:"ip_address" db:"ip_address"`
	UserAgent string          `json:"user_agent" db:"user_agent"`
	RequestID string          `json:"request_id" db:"request_id"`
	Timestamp time.Time       `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AccessEvent model
func (AccessEvent) TableName() string {
	return "access_events"
}

// NewAccessEvent creates a new AccessEvent instance
func NewAccessEvent(action AccessAction, path string) *AccessEvent {
	return &AccessEvent{
		ID:        uuid.New(),
		Action:    action,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// WithUser attaches the acting user to the event
func (e *AccessEvent) WithUser(id uuid.UUID, role Role) *AccessEvent {
	e.UserID = &id
	e.Role = role
	return e
}

// WithRequest attaches request metadata to the event
func (e *AccessEvent) WithRequest(ipAddress, userAgent, requestID string) *AccessEvent {
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	e.RequestID = requestID
	return e
}

// SetDetails marshals and sets the event details
func (e *AccessEvent) SetDetails(details interface{}) error {
	data, err := json.Marshal(details)
	if err != nil {
		return err
	}
	e.Details = data
	return nil
}
