package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wafungi-nation/payments/internal/models"
	"github.com/wafungi-nation/payments/internal/mpesa"
	"github.com/wafungi-nation/payments/internal/retry"
	"github.com/wafungi-nation/payments/internal/store"
)

// fakeTxStore is an in-memory TransactionStore honoring the same
// transition contract as the Postgres implementation.
type fakeTxStore struct {
	txs map[string]*models.Transaction
}

func newFakeTxStore() *fakeTxStore {
	return &fakeTxStore{txs: make(map[string]*models.Transaction)}
}

func (f *fakeTxStore) Create(ctx context.Context, p store.CreateParams) (*models.Transaction, error) {
	if _, ok := f.txs[p.CheckoutRequestID]; ok {
		return nil, fmt.Errorf("checkout request %s: %w", p.CheckoutRequestID, store.ErrDuplicate)
	}
	merchant := p.MerchantRequestID
	tx := &models.Transaction{
		BookingID:         p.BookingID,
		CheckoutRequestID: p.CheckoutRequestID,
		MerchantRequestID: &merchant,
		Phone:             p.Phone,
		Amount:            p.Amount,
		Status:            string(models.StatusPending),
		MpesaResponse:     p.MpesaResponse,
		CreatedAt:         time.Now(),
	}
	f.txs[p.CheckoutRequestID] = tx
	return tx, nil
}

func (f *fakeTxStore) FindByCheckoutRef(ctx context.Context, ref string) (*models.Transaction, error) {
	tx, ok := f.txs[ref]
	if !ok {
		return nil, fmt.Errorf("checkout request %s: %w", ref, store.ErrNotFound)
	}
	return tx, nil
}

func (f *fakeTxStore) Transition(ctx context.Context, ref string, p store.TransitionParams) (*models.Transaction, bool, error) {
	tx, ok := f.txs[ref]
	if !ok {
		return nil, false, fmt.Errorf("checkout request %s: %w", ref, store.ErrNotFound)
	}
	current := models.TransactionStatus(tx.Status)
	if current == models.StatusPending {
		tx.Status = string(p.Status)
		tx.MpesaReceipt = p.Receipt
		tx.ErrorMessage = p.ErrorMessage
		if p.RawPayload != nil {
			tx.MpesaResponse = p.RawPayload
		}
		now := time.Now()
		tx.CompletedAt = &now
		return tx, true, nil
	}
	if current == p.Status {
		return tx, false, nil
	}
	return tx, false, fmt.Errorf("transaction %s is %s, refusing %s: %w", ref, tx.Status, p.Status, store.ErrStateConflict)
}

type fakeGateway struct {
	pushResult *mpesa.PushResult
	pushErr    error
	pushCalls  int

	queryResults []*mpesa.QueryResult
	queryErr     error
	queryCalls   int
}

func (f *fakeGateway) STKPush(ctx context.Context, phone string, amount decimal.Decimal, ref, desc string) (*mpesa.PushResult, error) {
	f.pushCalls++
	return f.pushResult, f.pushErr
}

func (f *fakeGateway) QueryStatus(ctx context.Context, ref string) (*mpesa.QueryResult, error) {
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	i := f.queryCalls - 1
	if i >= len(f.queryResults) {
		i = len(f.queryResults) - 1
	}
	return f.queryResults[i], nil
}

type fakeBookings struct {
	booking *models.Booking
}

func (f *fakeBookings) Find(ctx context.Context, id int64) (*models.Booking, error) {
	if f.booking == nil || f.booking.ID != id {
		return nil, fmt.Errorf("booking %d: %w", id, store.ErrNotFound)
	}
	return f.booking, nil
}

type fakeSettler struct {
	calls int
	last  *models.Transaction
}

func (f *fakeSettler) Settle(ctx context.Context, tx *models.Transaction) error {
	f.calls++
	f.last = tx
	return nil
}

var fastRetry = retry.Policy{MaxAttempts: 3, Delay: time.Millisecond}

func newTestService(gateway *fakeGateway) (*Service, *fakeTxStore, *fakeSettler) {
	txs := newFakeTxStore()
	settler := &fakeSettler{}
	bookings := &fakeBookings{booking: &models.Booking{
		ID:          42,
		ClientID:    7,
		MusicianID:  9,
		TotalAmount: decimal.RequireFromString("100.00"),
	}}
	return NewService(gateway, txs, bookings, settler, fastRetry), txs, settler
}

func TestInitiateCreatesPendingOnAcceptance(t *testing.T) {
	gateway := &fakeGateway{pushResult: &mpesa.PushResult{
		CheckoutRequestID: "ws_CO_42",
		MerchantRequestID: "merchant-1",
		CustomerMessage:   "Success. Request accepted for processing",
		RawResponse:       []byte(`{"ResponseCode":"0"}`),
	}}
	svc, txs, _ := newTestService(gateway)

	result, err := svc.InitiatePayment(context.Background(), 42, "0793706728")
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	tx := result.Transaction
	if tx.CheckoutRequestID != "ws_CO_42" {
		t.Errorf("CheckoutRequestID = %q", tx.CheckoutRequestID)
	}
	if tx.Status != string(models.StatusPending) {
		t.Errorf("status = %q, want PENDING", tx.Status)
	}
	if tx.Phone != "254793706728" {
		t.Errorf("stored phone = %q, want normalized 254793706728", tx.Phone)
	}
	if !tx.Amount.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("amount = %s, want booking total 100.00", tx.Amount)
	}

	stored, err := txs.FindByCheckoutRef(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("pending row should be immediately findable: %v", err)
	}
	if stored.Status != string(models.StatusPending) {
		t.Errorf("stored status = %q", stored.Status)
	}
}

func TestInitiateRejectionLeavesNoRecord(t *testing.T) {
	gateway := &fakeGateway{pushErr: &mpesa.Error{Kind: mpesa.ErrKindBusiness, Code: "1", Desc: "Insufficient funds"}}
	svc, txs, _ := newTestService(gateway)

	_, err := svc.InitiatePayment(context.Background(), 42, "0793706728")
	if err == nil {
		t.Fatal("expected rejection to propagate")
	}

	var me *mpesa.Error
	if !errors.As(err, &me) || me.Kind != mpesa.ErrKindBusiness {
		t.Errorf("error = %v, want business rejection", err)
	}
	if len(txs.txs) != 0 {
		t.Errorf("store has %d rows after synchronous rejection, want 0", len(txs.txs))
	}
}

func TestInitiateAlreadyPaidBooking(t *testing.T) {
	gateway := &fakeGateway{}
	svc, _, _ := newTestService(gateway)
	svc.bookings.(*fakeBookings).booking.PaymentStatus = true

	_, err := svc.InitiatePayment(context.Background(), 42, "0793706728")
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("err = %v, want ErrAlreadyPaid", err)
	}
	if gateway.pushCalls != 0 {
		t.Error("no push should be sent for a paid booking")
	}
}

func pendingTransaction(txs *fakeTxStore) *models.Transaction {
	tx, _ := txs.Create(context.Background(), store.CreateParams{
		BookingID:         42,
		CheckoutRequestID: "ws_CO_42",
		MerchantRequestID: "merchant-1",
		Phone:             "254793706728",
		Amount:            decimal.RequireFromString("100.00"),
	})
	return tx
}

func TestVerifyCompletedSettles(t *testing.T) {
	gateway := &fakeGateway{queryResults: []*mpesa.QueryResult{
		{ResultCode: mpesa.ResultCodeSuccess, ResultDesc: "The service request is processed successfully."},
	}}
	svc, txs, settler := newTestService(gateway)
	pendingTransaction(txs)

	outcome, err := svc.VerifyPayment(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if outcome.Transaction.Status != string(models.StatusCompleted) {
		t.Errorf("status = %q, want COMPLETED", outcome.Transaction.Status)
	}
	if settler.calls != 1 {
		t.Errorf("settle calls = %d, want 1", settler.calls)
	}
}

func TestVerifyCancelled(t *testing.T) {
	gateway := &fakeGateway{queryResults: []*mpesa.QueryResult{
		{ResultCode: mpesa.ResultCodeCancelled, ResultDesc: "Request cancelled by user"},
	}}
	svc, txs, settler := newTestService(gateway)
	pendingTransaction(txs)

	outcome, err := svc.VerifyPayment(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if outcome.Transaction.Status != string(models.StatusCancelled) {
		t.Errorf("status = %q, want CANCELLED", outcome.Transaction.Status)
	}
	if outcome.Transaction.ErrorMessage == nil || *outcome.Transaction.ErrorMessage != "Request cancelled by user" {
		t.Error("provider description should be retained")
	}
	if settler.calls != 0 {
		t.Error("cancelled payments must not settle")
	}
}

func TestVerifyUnknownCodeFails(t *testing.T) {
	gateway := &fakeGateway{queryResults: []*mpesa.QueryResult{
		{ResultCode: "2001", ResultDesc: "The initiator information is invalid."},
	}}
	svc, txs, settler := newTestService(gateway)
	pendingTransaction(txs)

	outcome, err := svc.VerifyPayment(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if outcome.Transaction.Status != string(models.StatusFailed) {
		t.Errorf("status = %q, want FAILED", outcome.Transaction.Status)
	}
	if settler.calls != 0 {
		t.Error("failed payments must not settle")
	}
}

func TestVerifyStillPendingTimesOut(t *testing.T) {
	gateway := &fakeGateway{queryResults: []*mpesa.QueryResult{
		{ResultCode: mpesa.ResultCodeStillPending, ResultDesc: "DS timeout user cannot be reached"},
	}}
	svc, txs, settler := newTestService(gateway)
	pendingTransaction(txs)

	outcome, err := svc.VerifyPayment(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if !outcome.TimedOut {
		t.Error("outcome should report a timeout")
	}
	if gateway.queryCalls != 3 {
		t.Errorf("query calls = %d, want 3 (bounded retries)", gateway.queryCalls)
	}

	stored, _ := txs.FindByCheckoutRef(context.Background(), "ws_CO_42")
	if stored.Status != string(models.StatusPending) {
		t.Errorf("status = %q, 1037 must leave the transaction PENDING", stored.Status)
	}
	if settler.calls != 0 {
		t.Error("no settlement on timeout")
	}
}

func TestVerifyTransientQueryFailureDoesNotFailTransaction(t *testing.T) {
	gateway := &fakeGateway{queryErr: &mpesa.Error{Kind: mpesa.ErrKindNetwork, Err: errors.New("connection refused")}}
	svc, txs, _ := newTestService(gateway)
	pendingTransaction(txs)

	outcome, err := svc.VerifyPayment(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if !outcome.TimedOut {
		t.Error("transient query failures should surface as still pending")
	}

	stored, _ := txs.FindByCheckoutRef(context.Background(), "ws_CO_42")
	if stored.Status != string(models.StatusPending) {
		t.Errorf("status = %q, a query failure must never mark the payment FAILED", stored.Status)
	}
}

func TestVerifyTerminalTransactionSkipsQuery(t *testing.T) {
	gateway := &fakeGateway{}
	svc, txs, _ := newTestService(gateway)
	tx := pendingTransaction(txs)
	tx.Status = string(models.StatusCompleted)

	outcome, err := svc.VerifyPayment(context.Background(), "ws_CO_42")
	if err != nil {
		t.Fatalf("VerifyPayment: %v", err)
	}
	if outcome.Transaction.Status != string(models.StatusCompleted) {
		t.Errorf("status = %q", outcome.Transaction.Status)
	}
	if gateway.queryCalls != 0 {
		t.Error("terminal transactions need no provider query")
	}
}

func TestVerifyUnknownTransaction(t *testing.T) {
	svc, _, _ := newTestService(&fakeGateway{})

	_, err := svc.VerifyPayment(context.Background(), "ws_CO_missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestReconcileOnceAppliesDefinitiveVerdict(t *testing.T) {
	gateway := &fakeGateway{queryResults: []*mpesa.QueryResult{
		{ResultCode: mpesa.ResultCodeSuccess, ResultDesc: "ok"},
	}}
	svc, txs, settler := newTestService(gateway)
	pendingTransaction(txs)

	if err := svc.ReconcileOnce(context.Background(), "ws_CO_42"); err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}

	stored, _ := txs.FindByCheckoutRef(context.Background(), "ws_CO_42")
	if stored.Status != string(models.StatusCompleted) {
		t.Errorf("status = %q, want COMPLETED", stored.Status)
	}
	if settler.calls != 1 {
		t.Errorf("settle calls = %d, want 1", settler.calls)
	}
}

func TestReconcileOnceLeavesPendingAlone(t *testing.T) {
	gateway := &fakeGateway{queryResults: []*mpesa.QueryResult{
		{ResultCode: mpesa.ResultCodeStillPending},
	}}
	svc, txs, _ := newTestService(gateway)
	pendingTransaction(txs)

	if err := svc.ReconcileOnce(context.Background(), "ws_CO_42"); err != nil {
		t.Fatalf("ReconcileOnce: %v", err)
	}
	if gateway.queryCalls != 1 {
		t.Errorf("query calls = %d, want exactly 1 (no retries in the sweep)", gateway.queryCalls)
	}

	stored, _ := txs.FindByCheckoutRef(context.Background(), "ws_CO_42")
	if stored.Status != string(models.StatusPending) {
		t.Errorf("status = %q, want PENDING", stored.Status)
	}
}
