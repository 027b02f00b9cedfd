package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sokoyetu/payments/internal/metrics"
	"github.com/sokoyetu/payments/internal/models"
	"github.com/sokoyetu/payments/internal/mpesa"
	"github.com/sokoyetu/payments/internal/payment"
	"github.com/sokoyetu/payments/internal/session"
	"github.com/sokoyetu/payments/internal/store"
	"github.com/sokoyetu/payments/internal/worker"
)

// Initiator starts an STK push payment.
type Initiator interface {
	Initiate(ctx context.Context, req payment.InitiateRequest) (*payment.InitiateResponse, error)
}

// Store is the persistence surface the handlers need.
type Store interface {
	SaveCallbackAudit(ctx context.Context, audit *models.CallbackAudit) error
	List(ctx context.Context, filter store.ListFilter) ([]models.Transaction, error)
	GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error)
}

// Enqueuer hands callback payloads to the background worker.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Pinger reports database health.
type Pinger interface {
	Health(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	store     Store
	payments  Initiator
	queue     Enqueuer
	sessions  *session.Cache
	db        Pinger
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
	validator *validator.Validate

	// strictAck surfaces internal persistence errors to the gateway as
	// ResultCode 1 instead of always acknowledging. Default off to avoid
	// gateway retry storms.
	strictAck bool
}

// NewHandler creates a new handler instance
func NewHandler(st Store, payments Initiator, queue Enqueuer, sessions *session.Cache, db Pinger, log *zap.SugaredLogger, m *metrics.Metrics, strictAck bool) *Handler {
	return &Handler{
		store:     st,
		payments:  payments,
		queue:     queue,
		sessions:  sessions,
		db:        db,
		log:       log,
		metrics:   m,
		validator: validator.New(),
		strictAck: strictAck,
	}
}

// apiResponse is the common envelope for initiation and admin endpoints.
type apiResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// callbackAck is the fixed acknowledgement body the gateway expects.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// initiateRequest represents the POST /initiate body
type initiateRequest struct {
	PhoneNumber string      `json:"phoneNumber" validate:"required"`
	Amount      json.Number `json:"amount" validate:"required"`
	ServiceType string      `json:"serviceType" validate:"required"`
	ActionType  string      `json:"actionType" validate:"required"`
	UserID      string      `json:"userId"`
}

// InitiatePayment handles POST /initiate
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondFailure(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if err := h.validator.Struct(req); err != nil {
		respondFailure(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount.String())
	if err != nil {
		respondFailure(w, http.StatusBadRequest, "invalid amount format")
		return
	}

	resp, err := h.payments.Initiate(r.Context(), payment.InitiateRequest{
		PhoneNumber: req.PhoneNumber,
		Amount:      amount,
		ServiceType: req.ServiceType,
		ActionType:  req.ActionType,
		UserID:      req.UserID,
	})
	if err != nil {
		h.metrics.InitiationFailures.Inc()
		if errors.Is(err, payment.ErrInvalidRequest) {
			respondFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		h.log.Errorw("payment initiation failed", "error", err)
		respondFailure(w, http.StatusBadGateway, "failed to initiate payment")
		return
	}

	h.metrics.PaymentsInitiated.Inc()
	respondSuccess(w, http.StatusCreated, resp)
}

// GatewayCallback handles POST /callback. The raw payload is audited
// unconditionally, then reconciliation is handed to the background worker
// so the gateway gets its acknowledgement without waiting on lookups.
func (h *Handler) GatewayCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Errorw("failed to read callback body", "error", err)
		respondAck(w, http.StatusBadRequest, 1, "Failed")
		return
	}

	var envelope mpesa.CallbackEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || !envelope.Valid() {
		h.metrics.CallbacksMalformed.Inc()
		h.log.Warnw("malformed callback payload", "error", err)
		respondAck(w, http.StatusBadRequest, 1, "Failed")
		return
	}

	cb := envelope.Body.StkCallback
	audit := &models.CallbackAudit{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		Payload:           body,
	}

	if err := h.store.SaveCallbackAudit(r.Context(), audit); err != nil {
		h.log.Errorw("failed to persist callback audit",
			"checkout_request_id", cb.CheckoutRequestID,
			"error", err,
		)
		if h.strictAck {
			respondAck(w, http.StatusInternalServerError, 1, "Failed")
			return
		}
		// Best-effort mode: keep going, the audit loss is logged.
	}

	task := worker.NewProcessCallbackTask(body)
	if _, err := h.queue.Enqueue(task, asynq.Queue("default"), asynq.MaxRetry(3)); err != nil {
		h.log.Errorw("failed to enqueue callback task",
			"checkout_request_id", cb.CheckoutRequestID,
			"error", err,
		)
		if h.strictAck {
			respondAck(w, http.StatusInternalServerError, 1, "Failed")
			return
		}
	}

	h.metrics.CallbacksReceived.Inc()
	respondAck(w, http.StatusOK, 0, "Success")
}

// ListTransactions handles GET /transactions for admin reporting.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Status: models.TransactionStatus(r.URL.Query().Get("status")),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}

	txs, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.log.Errorw("failed to list transactions", "error", err)
		respondFailure(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}

	respondSuccess(w, http.StatusOK, txs)
}

// GetTransaction handles GET /transactions/{checkoutRequestID}, used by
// the UI to poll payment status after initiation.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	checkoutRequestID := chi.URLParam(r, "checkoutRequestID")

	tx, err := h.store.GetByCheckoutID(r.Context(), checkoutRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondFailure(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.log.Errorw("failed to fetch transaction", "error", err)
		respondFailure(w, http.StatusInternalServerError, "failed to fetch transaction")
		return
	}

	respondSuccess(w, http.StatusOK, tx)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{
		"status":   "ok",
		"database": "up",
	}
	status := http.StatusOK

	if err := h.db.Health(r.Context()); err != nil {
		health["status"] = "degraded"
		health["database"] = "down"
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, health)
}

func respondSuccess(w http.ResponseWriter, status int, data interface{}) {
	respondJSON(w, status, apiResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondFailure(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, apiResponse{
		Success:   false,
		Error:     message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func respondAck(w http.ResponseWriter, status, resultCode int, resultDesc string) {
	respondJSON(w, status, callbackAck{ResultCode: resultCode, ResultDesc: resultDesc})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
