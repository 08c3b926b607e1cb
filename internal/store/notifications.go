package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NotificationStore creates notification rows for marketplace users.
// Rendering and delivery belong to the marketplace application.
type NotificationStore struct {
	db *pgxpool.Pool
}

// NewNotificationStore creates a notification store backed by Postgres
func NewNotificationStore(db *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{db: db}
}

// Create inserts a notification for a user
func (s *NotificationStore) Create(ctx context.Context, userID int64, title, message string) error {
	insertSQL := `
		INSERT INTO notifications (user_id, title, message)
		VALUES ($1, $2, $3)
	`

	if _, err := s.db.Exec(ctx, insertSQL, userID, title, message); err != nil {
		return fmt.Errorf("failed to create notification for user %d: %w", userID, err)
	}

	return nil
}
