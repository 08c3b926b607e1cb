package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wafungi-nation/payments/internal/models"
)

// TransactionStore is the durable record of payment attempts, keyed by
// the Safaricom checkout request ID.
type TransactionStore struct {
	db *pgxpool.Pool
}

// NewTransactionStore creates a transaction store backed by Postgres
func NewTransactionStore(db *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{db: db}
}

const transactionColumns = `
	id, booking_id, checkout_request_id, merchant_request_id,
	phone, amount, status, mpesa_response, mpesa_receipt,
	error_message, created_at, updated_at, completed_at
`

// CreateParams carries the fields of a new pending transaction. The
// checkout and merchant request IDs come from Safaricom's acceptance
// response; a row is only ever created after the provider accepted the
// push.
type CreateParams struct {
	BookingID         int64
	CheckoutRequestID string
	MerchantRequestID string
	Phone             string
	Amount            decimal.Decimal
	MpesaResponse     []byte
}

// Create inserts a new pending transaction. A reused checkout request
// ID surfaces as ErrDuplicate.
func (s *TransactionStore) Create(ctx context.Context, p CreateParams) (*models.Transaction, error) {
	insertSQL := `
		INSERT INTO transactions (
			booking_id,
			checkout_request_id,
			merchant_request_id,
			phone,
			amount,
			status,
			mpesa_response
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + transactionColumns

	row := s.db.QueryRow(ctx, insertSQL,
		p.BookingID,
		p.CheckoutRequestID,
		p.MerchantRequestID,
		p.Phone,
		p.Amount,
		models.StatusPending,
		p.MpesaResponse,
	)

	tx, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("checkout request %s: %w", p.CheckoutRequestID, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}

	return tx, nil
}

// FindByCheckoutRef fetches the transaction for a checkout request ID
func (s *TransactionStore) FindByCheckoutRef(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1`

	tx, err := scanTransaction(s.db.QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("checkout request %s: %w", checkoutRequestID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	return tx, nil
}

// TransitionParams describes a requested move to a terminal state.
type TransitionParams struct {
	Status models.TransactionStatus
	// Receipt is the provider receipt number; set on completion only.
	Receipt *string
	// ErrorMessage holds the provider's failure description.
	ErrorMessage *string
	// RawPayload is the provider payload that triggered the
	// transition, stored verbatim for audit.
	RawPayload []byte
}

// Transition moves a pending transaction to a terminal state. The
// update is a single conditional statement guarded by status='PENDING',
// so of two racing finalizers exactly one wins. A replay of the same
// terminal state is an idempotent no-op returning the current row; a
// conflicting terminal state returns ErrStateConflict.
func (s *TransactionStore) Transition(ctx context.Context, checkoutRequestID string, p TransitionParams) (*models.Transaction, bool, error) {
	if !p.Status.IsTerminal() {
		return nil, false, fmt.Errorf("transition target %s is not a terminal state", p.Status)
	}

	updateSQL := `
		UPDATE transactions
		SET status = $1,
		    mpesa_receipt = COALESCE($2, mpesa_receipt),
		    error_message = $3,
		    mpesa_response = COALESCE($4, mpesa_response),
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE checkout_request_id = $5 AND status = 'PENDING'
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(s.db.QueryRow(ctx, updateSQL,
		string(p.Status), p.Receipt, p.ErrorMessage, p.RawPayload, checkoutRequestID,
	))
	if err == nil {
		return tx, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to update transaction: %w", err)
	}

	// No pending row matched: either unknown or already terminal.
	current, err := s.FindByCheckoutRef(ctx, checkoutRequestID)
	if err != nil {
		return nil, false, err
	}

	if models.TransactionStatus(current.Status) == p.Status {
		// Idempotent replay of the same terminal state.
		return current, false, nil
	}

	return current, false, fmt.Errorf("transaction %s is %s, refusing %s: %w",
		checkoutRequestID, current.Status, p.Status, ErrStateConflict)
}

// ListStalePending returns pending transactions created before the
// cutoff, oldest first, for the reconciliation sweep.
func (s *TransactionStore) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale pending transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.BookingID,
		&tx.CheckoutRequestID,
		&tx.MerchantRequestID,
		&tx.Phone,
		&tx.Amount,
		&tx.Status,
		&tx.MpesaResponse,
		&tx.MpesaReceipt,
		&tx.ErrorMessage,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
