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

const accessEventColumns = `id, user_id, role, action, path, reason, details,
	ip_address, user_agent, request_id, timestamp`

// AccessEventRepository implements the repositories.AccessEventRepository interface
type AccessEventRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAccessEventRepository creates a new access event repository
func NewAccessEventRepository(db *DB, logger *zap.Logger) repositories.AccessEventRepository {
	return &AccessEventRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new access event
func (r *AccessEventRepository) Insert(ctx context.Context, event *models.AccessEvent) error {
	query := `
		INSERT INTO access_events (` + accessEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	// JSONB rejects an empty byte slice
	var details interface{}
	if len(event.Details) > 0 {
		details = []byte(event.Details)
	}

	_, err := GetExecutor(ctx, r.db).ExecContext(ctx, query,
		event.ID,
		event.UserID,
		event.Role,
		event.Action,
		event.Path,
		nullString(event.Reason),
		details,
		nullString(event.IPAddress),
		nullString(event.UserAgent),
		nullString(event.RequestID),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert access event: %w", err)
	}

	r.logger.Debug("access event inserted",
		zap.String("id", event.ID.String()),
		zap.String("action", string(event.Action)))
	return nil
}

// ListRecent retrieves access events newest first with pagination
func (r *AccessEventRepository) ListRecent(ctx context.Context, limit, offset int) ([]*models.AccessEvent, error) {
	query := `
		SELECT ` + accessEventColumns + `
		FROM access_events
		ORDER BY timestamp DESC
		LIMIT $1 OFFSET $2
	`
	return r.query(ctx, query, limit, offset)
}

// GetByUserID retrieves access events for a user newest first with pagination
func (r *AccessEventRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.AccessEvent, error) {
	query := `
		SELECT ` + accessEventColumns + `
		FROM access_events
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`
	return r.query(ctx, query, userID, limit, offset)
}

// GetByRequestID retrieves access events recorded for one request
func (r *AccessEventRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.AccessEvent, error) {
	query := `
		SELECT ` + accessEventColumns + `
		FROM access_events
		WHERE request_id = $1
		ORDER BY timestamp
	`
	return r.query(ctx, query, requestID)
}

func (r *AccessEventRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AccessEvent, error) {
	rows, err := GetExecutor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access events: %w", err)
	}
	defer rows.Close()

	var events []*models.AccessEvent
	for rows.Next() {
		event := &models.AccessEvent{}
		var (
			userID                                   uuid.NullUUID
			details                                  []byte
			reason, ipAddress, userAgent, requestID sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&userID,
			&event.Role,
			&event.Action,
			&event.Path,
			&reason,
			&details,
			&ipAddress,
			&userAgent,
			&requestID,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access event: %w", err)
		}
		if userID.Valid {
			id := userID.UUID
			event.UserID = &id
		}
		event.Details = details
		event.Reason = reason.String
		event.IPAddress = ipAddress.String
		event.UserAgent = userAgent.String
		event.RequestID = requestID.String
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating access event rows: %w", err)
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
