package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/wafungi-nation/payments/internal/models"
	"github.com/wafungi-nation/payments/internal/mpesa"
	"github.com/wafungi-nation/payments/internal/payment"
	"github.com/wafungi-nation/payments/internal/store"
	"github.com/wafungi-nation/payments/internal/worker"
)

// PaymentService is the payment core surface the HTTP layer exposes.
type PaymentService interface {
	InitiatePayment(ctx context.Context, bookingID int64, phone string) (*payment.InitiateResult, error)
	GetTransaction(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
	VerifyPayment(ctx context.Context, checkoutRequestID string) (*payment.VerifyOutcome, error)
}

// TaskEnqueuer queues background work; satisfied by *asynq.Client.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Pinger reports storage health; satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	db             Pinger
	paymentService PaymentService
	queueClient    TaskEnqueuer
	validator      *validator.Validate
}

// NewHandler creates a new handler instance
func NewHandler(db Pinger, paymentService PaymentService, queueClient TaskEnqueuer) *Handler {
	v := validator.New()
	// msisdn: a Kenyan mobile number that is 9 digits once separators
	// and the 254/0 prefix are stripped.
	v.RegisterValidation("msisdn", func(fl validator.FieldLevel) bool {
		return validLocalPhone(fl.Field().String())
	})

	return &Handler{
		db:             db,
		paymentService: paymentService,
		queueClient:    queueClient,
		validator:      v,
	}
}

// validLocalPhone enforces the strict input rule the payment form
// carries; normalization itself is more forgiving.
func validLocalPhone(phone string) bool {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case strings.HasPrefix(digits, "254"):
		digits = digits[3:]
	case strings.HasPrefix(digits, "0"):
		digits = digits[1:]
	}

	return len(digits) == 9 && (digits[0] == '7' || digits[0] == '1')
}

// InitiatePaymentRequest represents the POST /payments/initiate request
type InitiatePaymentRequest struct {
	BookingID int64  `json:"booking_id" validate:"required,gt=0"`
	Phone     string `json:"phone" validate:"required,msisdn"`
}

// InitiatePaymentResponse represents the POST /payments/initiate response
type InitiatePaymentResponse struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	MerchantRequestID string `json:"merchant_request_id,omitempty"`
	Status            string `json:"status"`
	CustomerMessage   string `json:"customer_message,omitempty"`
}

// InitiatePayment handles POST /payments/initiate
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	result, err := h.paymentService.InitiatePayment(r.Context(), req.BookingID, req.Phone)
	if err != nil {
		h.respondInitiateError(w, err)
		return
	}

	merchantRef := ""
	if result.Transaction.MerchantRequestID != nil {
		merchantRef = *result.Transaction.MerchantRequestID
	}

	respondJSON(w, http.StatusAccepted, InitiatePaymentResponse{
		CheckoutRequestID: result.Transaction.CheckoutRequestID,
		MerchantRequestID: merchantRef,
		Status:            result.Transaction.Status,
		CustomerMessage:   result.CustomerMessage,
	})
}

// respondInitiateError maps the payment error taxonomy onto HTTP.
func (h *Handler) respondInitiateError(w http.ResponseWriter, err error) {
	log.Printf("Payment initiation failed: %v", err)

	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Booking not found")
		return
	}
	if errors.Is(err, payment.ErrAlreadyPaid) {
		respondError(w, http.StatusConflict, "Booking is already paid")
		return
	}
	if errors.Is(err, store.ErrDuplicate) {
		respondError(w, http.StatusConflict, "Duplicate checkout request")
		return
	}

	var me *mpesa.Error
	if errors.As(err, &me) {
		switch me.Kind {
		case mpesa.ErrKindConfig:
			respondError(w, http.StatusInternalServerError, "Payment service is misconfigured")
		case mpesa.ErrKindAuth:
			respondError(w, http.StatusBadGateway, "Could not authenticate with M-Pesa")
		case mpesa.ErrKindNetwork:
			respondError(w, http.StatusGatewayTimeout, "M-Pesa is unreachable, try again shortly")
		case mpesa.ErrKindBusiness:
			respondError(w, http.StatusUnprocessableEntity, "M-Pesa rejected the payment: "+me.Desc)
		default:
			respondError(w, http.StatusInternalServerError, "Failed to initiate payment")
		}
		return
	}

	respondError(w, http.StatusInternalServerError, "Failed to initiate payment")
}

// TransactionResponse is the API shape of a stored transaction.
type TransactionResponse struct {
	BookingID         int64   `json:"booking_id"`
	CheckoutRequestID string  `json:"checkout_request_id"`
	Phone             string  `json:"phone"`
	Amount            string  `json:"amount"`
	Status            string  `json:"status"`
	MpesaReceipt      *string `json:"mpesa_receipt,omitempty"`
	ErrorMessage      *string `json:"error_message,omitempty"`
}

func transactionResponse(tx *models.Transaction) TransactionResponse {
	return TransactionResponse{
		BookingID:         tx.BookingID,
		CheckoutRequestID: tx.CheckoutRequestID,
		Phone:             tx.Phone,
		Amount:            tx.Amount.StringFixed(2),
		Status:            tx.Status,
		MpesaReceipt:      tx.MpesaReceipt,
		ErrorMessage:      tx.ErrorMessage,
	}
}

// GetPayment handles GET /payments/{checkoutRequestID}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")

	tx, err := h.paymentService.GetTransaction(r.Context(), checkoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("Transaction lookup failed: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch transaction")
		return
	}

	respondJSON(w, http.StatusOK, transactionResponse(tx))
}

// VerifyPaymentResponse represents the POST verify response
type VerifyPaymentResponse struct {
	TransactionResponse
	TimedOut    bool   `json:"timed_out,omitempty"`
	Description string `json:"description,omitempty"`
}

// VerifyPayment handles POST /payments/{checkoutRequestID}/verify
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")

	outcome, err := h.paymentService.VerifyPayment(r.Context(), checkoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		log.Printf("Payment verification failed: %v", err)

		var me *mpesa.Error
		if errors.As(err, &me) {
			respondError(w, http.StatusBadGateway, "Could not verify payment with M-Pesa")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to verify payment")
		return
	}

	respondJSON(w, http.StatusOK, VerifyPaymentResponse{
		TransactionResponse: transactionResponse(outcome.Transaction),
		TimedOut:            outcome.TimedOut,
		Description:         outcome.Description,
	})
}

// MPesaCallback handles POST /mpesa/callback. Processing happens in the
// background; Safaricom always gets the success-shaped acknowledgement,
// otherwise it redelivers the callback indefinitely.
func (h *Handler) MPesaCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("Failed to read callback body: %v", err)
		respondCallbackAck(w)
		return
	}

	// Minimal validation: ensure it's valid JSON before queueing.
	var rawPayload map[string]interface{}
	if err := json.Unmarshal(body, &rawPayload); err != nil {
		log.Printf("Invalid JSON in callback: %v", err)
		respondCallbackAck(w)
		return
	}

	task, err := worker.NewProcessCallbackTask(body)
	if err != nil {
		log.Printf("Failed to create callback task: %v", err)
		respondCallbackAck(w)
		return
	}

	info, err := h.queueClient.Enqueue(task, asynq.Queue("critical"), asynq.MaxRetry(5))
	if err != nil {
		log.Printf("Failed to enqueue callback task: %v", err)
		respondCallbackAck(w)
		return
	}

	log.Printf("Callback queued: task_id=%s", info.ID)
	respondCallbackAck(w)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	health := map[string]string{
		"status": "ok",
	}

	if err := h.db.Ping(ctx); err != nil {
		health["database"] = "down"
		health["status"] = "degraded"
	} else {
		health["database"] = "up"
	}

	status := http.StatusOK
	if health["status"] != "ok" {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, health)
}

// respondCallbackAck writes the fixed acknowledgement Safaricom expects
func respondCallbackAck(w http.ResponseWriter) {
	respondJSON(w, http.StatusOK, mpesa.AckSuccess)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
