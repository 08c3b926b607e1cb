package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification is a message queued for a marketplace user. Delivery
// (email, in-app) is handled elsewhere; this service only creates rows
// when a payment settles.
type Notification struct {
	ID        uuid.UUID `db:"id"`
	UserID    int64     `db:"user_id"`
	Title     string    `db:"title"`
	Message   string    `db:"message"`
	IsRead    bool      `db:"is_read"`
	CreatedAt time.Time `db:"created_at"`
}
