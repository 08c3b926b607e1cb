package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wafungi-nation/payments/internal/models"
	"github.com/wafungi-nation/payments/internal/mpesa"
	"github.com/wafungi-nation/payments/internal/retry"
	"github.com/wafungi-nation/payments/internal/store"
)

// Gateway is the slice of the Safaricom client the service uses.
type Gateway interface {
	STKPush(ctx context.Context, phone string, amount decimal.Decimal, accountRef, desc string) (*mpesa.PushResult, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResult, error)
}

// TransactionStore is the slice of transaction persistence the service uses.
type TransactionStore interface {
	Create(ctx context.Context, p store.CreateParams) (*models.Transaction, error)
	FindByCheckoutRef(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	Transition(ctx context.Context, checkoutRequestID string, p store.TransitionParams) (*models.Transaction, bool, error)
}

// BookingReader looks up the booking being paid for.
type BookingReader interface {
	Find(ctx context.Context, id int64) (*models.Booking, error)
}

// Settler applies a completed transaction to its booking.
type Settler interface {
	Settle(ctx context.Context, tx *models.Transaction) error
}

// Service drives the payment lifecycle: initiation against Safaricom,
// persistence of accepted pushes, and active status reconciliation.
type Service struct {
	gateway      Gateway
	transactions TransactionStore
	bookings     BookingReader
	settlement   Settler
	queryRetry   retry.Policy
}

// DefaultQueryRetry bounds active status polling while Safaricom still
// reports the push as pending: three attempts, five seconds apart.
var DefaultQueryRetry = retry.Policy{
	MaxAttempts: 3,
	Delay:       5 * time.Second,
}

// NewService creates a payment service
func NewService(gateway Gateway, transactions TransactionStore, bookings BookingReader, settlement Settler, queryRetry retry.Policy) *Service {
	return &Service{
		gateway:      gateway,
		transactions: transactions,
		bookings:     bookings,
		settlement:   settlement,
		queryRetry:   queryRetry,
	}
}

// ErrAlreadyPaid is returned when initiation is attempted for a booking
// whose payment_status is already set.
var ErrAlreadyPaid = errors.New("booking is already paid")

// InitiateResult is what the caller gets back once Safaricom accepts
// the push: the pending transaction row and the message Safaricom asks
// us to show the payer.
type InitiateResult struct {
	Transaction     *models.Transaction
	CustomerMessage string
}

// InitiatePayment submits an STK push for a booking. The transaction
// row is created only after Safaricom acknowledges acceptance; a
// synchronous rejection leaves no local state behind.
func (s *Service) InitiatePayment(ctx context.Context, bookingID int64, phone string) (*InitiateResult, error) {
	booking, err := s.bookings.Find(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.PaymentStatus {
		return nil, ErrAlreadyPaid
	}

	formattedPhone := mpesa.FormatPhoneNumber(phone)

	push, err := s.gateway.STKPush(ctx, formattedPhone, booking.TotalAmount,
		booking.AccountReference(), booking.TransactionDesc())
	if err != nil {
		return nil, err
	}

	tx, err := s.transactions.Create(ctx, store.CreateParams{
		BookingID:         booking.ID,
		CheckoutRequestID: push.CheckoutRequestID,
		MerchantRequestID: push.MerchantRequestID,
		Phone:             formattedPhone,
		Amount:            booking.TotalAmount,
		MpesaResponse:     push.RawResponse,
	})
	if err != nil {
		// Safaricom accepted the push but we failed to record it; the
		// callback path will log the unknown checkout ref when it lands.
		return nil, fmt.Errorf("push %s accepted but not recorded: %w", push.CheckoutRequestID, err)
	}

	log.Printf("STK Push accepted: booking=%d checkout=%s amount=%s",
		booking.ID, push.CheckoutRequestID, booking.TotalAmount.StringFixed(2))

	return &InitiateResult{
		Transaction:     tx,
		CustomerMessage: push.CustomerMessage,
	}, nil
}

// GetTransaction returns the stored transaction for a checkout request ID
func (s *Service) GetTransaction(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	return s.transactions.FindByCheckoutRef(ctx, checkoutRequestID)
}

// VerifyOutcome reports the result of an active status check.
type VerifyOutcome struct {
	Transaction *models.Transaction
	// TimedOut is set when Safaricom still reported the push as
	// pending after the bounded retries; the transaction stays PENDING.
	TimedOut    bool
	Description string
}

// VerifyPayment actively reconciles a pending transaction by querying
// Safaricom, retrying on "still pending" (result code 1037) with a
// bounded fixed-delay policy. Transport or auth failures of the query
// itself never move the transaction to FAILED; they surface as errors
// the caller may retry.
func (s *Service) VerifyPayment(ctx context.Context, checkoutRequestID string) (*VerifyOutcome, error) {
	tx, err := s.transactions.FindByCheckoutRef(ctx, checkoutRequestID)
	if err != nil {
		return nil, err
	}
	if models.TransactionStatus(tx.Status).IsTerminal() {
		return &VerifyOutcome{Transaction: tx}, nil
	}

	var outcome *VerifyOutcome
	err = s.queryRetry.Do(ctx, func(ctx context.Context) error {
		result, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
		if err != nil {
			var me *mpesa.Error
			if errors.As(err, &me) && me.Retryable() {
				log.Printf("Status query for %s failed transiently: %v", checkoutRequestID, err)
				return retry.Again
			}
			return err
		}

		if result.ResultCode == mpesa.ResultCodeStillPending {
			return retry.Again
		}

		outcome, err = s.applyQueryResult(ctx, tx, result)
		return err
	})

	if errors.Is(err, retry.Again) {
		// Exhausted the polling attempts with Safaricom still pending.
		return &VerifyOutcome{
			Transaction: tx,
			TimedOut:    true,
			Description: "payment is still pending confirmation",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return outcome, nil
}

// ReconcileOnce performs a single status query for the sweep, without
// the polling retries: a definitive verdict is applied, "still pending"
// and transient query failures leave the transaction for a later sweep.
func (s *Service) ReconcileOnce(ctx context.Context, checkoutRequestID string) error {
	tx, err := s.transactions.FindByCheckoutRef(ctx, checkoutRequestID)
	if err != nil {
		return err
	}
	if models.TransactionStatus(tx.Status).IsTerminal() {
		return nil
	}

	result, err := s.gateway.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		var me *mpesa.Error
		if errors.As(err, &me) && me.Retryable() {
			log.Printf("Sweep query for %s failed transiently: %v", checkoutRequestID, err)
			return nil
		}
		return err
	}

	if result.ResultCode == mpesa.ResultCodeStillPending {
		return nil
	}

	_, err = s.applyQueryResult(ctx, tx, result)
	return err
}

// applyQueryResult maps a definitive Safaricom verdict onto the
// transaction: 0 completed, 1032 cancelled, anything else failed.
func (s *Service) applyQueryResult(ctx context.Context, tx *models.Transaction, result *mpesa.QueryResult) (*VerifyOutcome, error) {
	var status models.TransactionStatus
	var errMsg *string

	switch result.ResultCode {
	case mpesa.ResultCodeSuccess:
		status = models.StatusCompleted
	case mpesa.ResultCodeCancelled:
		status = models.StatusCancelled
		errMsg = &result.ResultDesc
	default:
		status = models.StatusFailed
		errMsg = &result.ResultDesc
	}

	updated, applied, err := s.transactions.Transition(ctx, tx.CheckoutRequestID, store.TransitionParams{
		Status:       status,
		ErrorMessage: errMsg,
		RawPayload:   result.RawResponse,
	})
	if err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			// Racing finalizers disagreed on the outcome. Keep the
			// recorded state and flag the disagreement.
			log.Printf("STATE CONFLICT: query says %s but transaction %s is already %s (desc: %s)",
				status, tx.CheckoutRequestID, updated.Status, result.ResultDesc)
			return &VerifyOutcome{Transaction: updated, Description: result.ResultDesc}, nil
		}
		return nil, err
	}

	if applied {
		log.Printf("Transaction %s resolved by status query: %s", tx.CheckoutRequestID, status)
	}

	if models.TransactionStatus(updated.Status) == models.StatusCompleted {
		if err := s.settlement.Settle(ctx, updated); err != nil {
			// The transaction is completed regardless; settlement is
			// idempotent and the callback path will retry it.
			log.Printf("Settlement after query for %s failed: %v", tx.CheckoutRequestID, err)
		}
	}

	return &VerifyOutcome{Transaction: updated, Description: result.ResultDesc}, nil
}
