package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction represents one attempt to collect an M-Pesa payment for a booking
type Transaction struct {
	ID                uuid.UUID       `db:"id"`
	BookingID         int64           `db:"booking_id"`
	CheckoutRequestID string          `db:"checkout_request_id"`
	MerchantRequestID *string         `db:"merchant_request_id"`
	Phone             string          `db:"phone"`
	Amount            decimal.Decimal `db:"amount"`
	Status            string          `db:"status"`
	MpesaResponse     []byte          `db:"mpesa_response"` // JSONB, raw provider payload kept verbatim for audit
	MpesaReceipt      *string         `db:"mpesa_receipt"`  // provider receipt number, set only on completion
	ErrorMessage      *string         `db:"error_message"`
	CreatedAt         time.Time       `db:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
	CompletedAt       *time.Time      `db:"completed_at"`
}

// TransactionStatus represents valid transaction states
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusCancelled TransactionStatus = "CANCELLED"
	StatusFailed    TransactionStatus = "FAILED"
)

// IsTerminal reports whether the status admits no further transitions
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// IsValidTransition checks if a status transition is allowed
func IsValidTransition(from, to TransactionStatus) bool {
	validTransitions := map[TransactionStatus][]TransactionStatus{
		StatusPending: {StatusCompleted, StatusCancelled, StatusFailed},
		// No transitions allowed from terminal states
		StatusCompleted: {},
		StatusCancelled: {},
		StatusFailed:    {},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, validTo := range allowed {
		if validTo == to {
			return true
		}
	}

	return false
}
