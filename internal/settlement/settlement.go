// Package settlement applies a completed payment to its booking:
// marks it paid and notifies both parties. Both the poller and the
// callback worker call Settle for the same transaction when they race,
// so the whole operation is guarded to be idempotent.
package settlement

import (
	"context"
	"fmt"
	"log"

	"github.com/wafungi-nation/payments/internal/models"
)

// BookingStore is the slice of booking persistence settlement needs.
type BookingStore interface {
	Find(ctx context.Context, id int64) (*models.Booking, error)
	MarkPaid(ctx context.Context, id int64) (bool, error)
}

// Notifier records payment notifications for delivery to users.
type Notifier interface {
	Create(ctx context.Context, userID int64, title, message string) error
}

// Service settles completed transactions against bookings.
type Service struct {
	bookings BookingStore
	notifier Notifier
}

// NewService creates a settlement service
func NewService(bookings BookingStore, notifier Notifier) *Service {
	return &Service{bookings: bookings, notifier: notifier}
}

// Settle marks the transaction's booking as paid and queues the payer
// receipt and the provider payment-received notifications. The
// conditional MarkPaid is the idempotence guard: only the call that
// actually flips payment_status sends notifications, so a redundant
// Settle (poller and callback both observing completion) is a no-op.
func (s *Service) Settle(ctx context.Context, tx *models.Transaction) error {
	if models.TransactionStatus(tx.Status) != models.StatusCompleted {
		return fmt.Errorf("cannot settle transaction %s in status %s", tx.CheckoutRequestID, tx.Status)
	}

	booking, err := s.bookings.Find(ctx, tx.BookingID)
	if err != nil {
		return fmt.Errorf("settlement lookup failed: %w", err)
	}

	won, err := s.bookings.MarkPaid(ctx, booking.ID)
	if err != nil {
		return err
	}
	if !won {
		log.Printf("Booking %d already settled, skipping notifications", booking.ID)
		return nil
	}

	receipt := ""
	if tx.MpesaReceipt != nil {
		receipt = *tx.MpesaReceipt
	}

	// Notifications are best-effort: a failed insert is logged and does
	// not unwind the settlement, since payment_status is already set.
	if err := s.notifier.Create(ctx, booking.ClientID,
		"Payment Receipt",
		fmt.Sprintf("Your payment of KSH %s for booking #%d was received. M-Pesa receipt: %s",
			tx.Amount.StringFixed(2), booking.ID, receipt),
	); err != nil {
		log.Printf("Failed to notify client %d for booking %d: %v", booking.ClientID, booking.ID, err)
	}

	if err := s.notifier.Create(ctx, booking.MusicianID,
		"Payment Received",
		fmt.Sprintf("Payment of KSH %s has been received for booking #%d.",
			tx.Amount.StringFixed(2), booking.ID),
	); err != nil {
		log.Printf("Failed to notify musician %d for booking %d: %v", booking.MusicianID, booking.ID, err)
	}

	log.Printf("Booking %d settled (transaction %s, receipt %s)", booking.ID, tx.CheckoutRequestID, receipt)
	return nil
}
