package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Booking is the slice of the marketplace booking record the payment
// service touches. The booking lifecycle itself is owned by the
// marketplace application; this service only flips payment_status and
// reads the payer/recipient details needed to collect and settle.
type Booking struct {
	ID            int64           `db:"id"`
	ClientID      int64           `db:"client_id"`
	MusicianID    int64           `db:"musician_id"`
	Status        string          `db:"status"`
	TotalAmount   decimal.Decimal `db:"total_amount"`
	PaymentStatus bool            `db:"payment_status"`
	CreatedAt     time.Time       `db:"created_at"`
}

// AccountReference is the business reference sent to M-Pesa for this booking
func (b *Booking) AccountReference() string {
	return fmt.Sprintf("BOOKING-%d", b.ID)
}

// TransactionDesc is the free-text description shown to the payer on-device
func (b *Booking) TransactionDesc() string {
	return fmt.Sprintf("Payment for booking #%d - WAFUNGI-NATION", b.ID)
}
