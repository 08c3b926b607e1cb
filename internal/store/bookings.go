package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wafungi-nation/payments/internal/models"
)

// BookingStore gives the payment service its narrow view of bookings:
// read the fields needed to collect, and flip payment_status once.
type BookingStore struct {
	db *pgxpool.Pool
}

// NewBookingStore creates a booking store backed by Postgres
func NewBookingStore(db *pgxpool.Pool) *BookingStore {
	return &BookingStore{db: db}
}

// Find fetches a booking by ID
func (s *BookingStore) Find(ctx context.Context, id int64) (*models.Booking, error) {
	query := `
		SELECT id, client_id, musician_id, status, total_amount, payment_status, created_at
		FROM bookings
		WHERE id = $1
	`

	var b models.Booking
	err := s.db.QueryRow(ctx, query, id).Scan(
		&b.ID,
		&b.ClientID,
		&b.MusicianID,
		&b.Status,
		&b.TotalAmount,
		&b.PaymentStatus,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("booking %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch booking: %w", err)
	}

	return &b, nil
}

// MarkPaid sets payment_status on a booking, but only if it is not
// already paid. Returns whether this call was the one that flipped it,
// which is what makes redundant settlement attempts side-effect free.
func (s *BookingStore) MarkPaid(ctx context.Context, id int64) (bool, error) {
	updateSQL := `
		UPDATE bookings
		SET payment_status = true
		WHERE id = $1 AND payment_status = false
	`

	result, err := s.db.Exec(ctx, updateSQL, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark booking %d paid: %w", id, err)
	}

	return result.RowsAffected() > 0, nil
}
