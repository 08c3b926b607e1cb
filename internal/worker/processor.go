package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wafungi-nation/payments/internal/models"
	"github.com/wafungi-nation/payments/internal/mpesa"
	"github.com/wafungi-nation/payments/internal/store"
)

const (
	TypeProcessCallback = "callback:process"
	TypeReconcileSweep  = "reconcile:sweep"
)

// TransactionStore is the transaction persistence the worker needs.
type TransactionStore interface {
	FindByCheckoutRef(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	Transition(ctx context.Context, checkoutRequestID string, p store.TransitionParams) (*models.Transaction, bool, error)
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*models.Transaction, error)
}

// Settler applies completed transactions to bookings.
type Settler interface {
	Settle(ctx context.Context, tx *models.Transaction) error
}

// Reconciler performs a single active status check against Safaricom.
type Reconciler interface {
	ReconcileOnce(ctx context.Context, checkoutRequestID string) error
}

// Processor handles background jobs: Safaricom callbacks and the
// periodic reconciliation sweep for stale pending transactions.
type Processor struct {
	transactions TransactionStore
	settlement   Settler
	reconciler   Reconciler
	staleAfter   time.Duration
	sweepLimit   int
}

// NewProcessor creates a worker processor. staleAfter is how long a
// transaction may sit pending before the sweep re-queries Safaricom.
func NewProcessor(transactions TransactionStore, settlement Settler, reconciler Reconciler, staleAfter time.Duration) *Processor {
	return &Processor{
		transactions: transactions,
		settlement:   settlement,
		reconciler:   reconciler,
		staleAfter:   staleAfter,
		sweepLimit:   100,
	}
}

// NewProcessCallbackTask creates a new callback processing task
func NewProcessCallbackTask(payload []byte) (*asynq.Task, error) {
	return asynq.NewTask(TypeProcessCallback, payload), nil
}

// NewReconcileSweepTask creates a reconciliation sweep task
func NewReconcileSweepTask() *asynq.Task {
	return asynq.NewTask(TypeReconcileSweep, nil)
}

// ProcessCallback consumes a Safaricom callback delivered by the HTTP
// layer. The HTTP layer has already acknowledged the callback, so this
// can only transition local state; an unknown checkout request ID is
// returned as an error so asynq retries, covering the window where the
// callback races the creation of the transaction row.
func (p *Processor) ProcessCallback(ctx context.Context, t *asynq.Task) error {
	var callback mpesa.CallbackPayload
	if err := json.Unmarshal(t.Payload(), &callback); err != nil {
		log.Printf("Discarding malformed callback payload: %v", err)
		return nil
	}

	stk := callback.Body.StkCallback
	if stk.CheckoutRequestID == "" {
		log.Printf("Discarding callback with no CheckoutRequestID")
		return nil
	}

	log.Printf("Processing callback for CheckoutRequestID: %s (result %s)",
		stk.CheckoutRequestID, stk.ResultCode)

	var status models.TransactionStatus
	var receipt *string
	var errMsg *string

	switch string(stk.ResultCode) {
	case mpesa.ResultCodeSuccess:
		status = models.StatusCompleted
		metadata := mpesa.ParseCallbackMetadata(stk.CallbackMetadata.Item)
		if r, ok := metadata[mpesa.MetadataReceiptNumber].(string); ok && r != "" {
			receipt = &r
		} else {
			log.Printf("Callback for %s is successful but has no receipt number", stk.CheckoutRequestID)
		}
	case mpesa.ResultCodeCancelled:
		status = models.StatusCancelled
		errMsg = &stk.ResultDesc
	default:
		status = models.StatusFailed
		errMsg = &stk.ResultDesc
	}

	tx, applied, err := p.transactions.Transition(ctx, stk.CheckoutRequestID, store.TransitionParams{
		Status:       status,
		Receipt:      receipt,
		ErrorMessage: errMsg,
		RawPayload:   t.Payload(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// The callback may have raced the row's creation; let asynq
			// retry before giving up.
			return fmt.Errorf("no transaction for checkout request %s yet: %w", stk.CheckoutRequestID, err)
		}
		if errors.Is(err, store.ErrStateConflict) {
			log.Printf("STATE CONFLICT: callback says %s but transaction %s is already %s",
				status, stk.CheckoutRequestID, tx.Status)
			return nil
		}
		return fmt.Errorf("failed to transition transaction: %w", err)
	}

	if !applied {
		log.Printf("Transaction %s already %s, callback replay ignored", stk.CheckoutRequestID, tx.Status)
	} else {
		log.Printf("Transaction %s updated to status: %s", stk.CheckoutRequestID, status)
	}

	if models.TransactionStatus(tx.Status) == models.StatusCompleted {
		// Settle even on a replayed callback: settlement is idempotent
		// and this repairs a previous partial failure.
		if err := p.settlement.Settle(ctx, tx); err != nil {
			return fmt.Errorf("settlement failed for %s: %w", stk.CheckoutRequestID, err)
		}
	}

	return nil
}

// ProcessReconcileSweep re-queries Safaricom for transactions that have
// been pending longer than the configured threshold. Only a definitive
// provider verdict moves a transaction; a quiet provider leaves it
// pending for the next sweep.
func (p *Processor) ProcessReconcileSweep(ctx context.Context, t *asynq.Task) error {
	stale, err := p.transactions.ListStalePending(ctx, p.staleAfter, p.sweepLimit)
	if err != nil {
		return fmt.Errorf("failed to list stale transactions: %w", err)
	}

	if len(stale) == 0 {
		return nil
	}

	log.Printf("Reconcile sweep: %d stale pending transaction(s)", len(stale))

	for _, tx := range stale {
		if err := p.reconciler.ReconcileOnce(ctx, tx.CheckoutRequestID); err != nil {
			log.Printf("Sweep reconcile for %s failed: %v", tx.CheckoutRequestID, err)
		}
	}

	return nil
}
