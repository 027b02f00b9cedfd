package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/sokoyetu/payments/internal/metrics"
	"github.com/sokoyetu/payments/internal/models"
	"github.com/sokoyetu/payments/internal/mpesa"
	"github.com/sokoyetu/payments/internal/store"
)

// Task type names registered on the asynq mux.
const (
	TypeProcessCallback = "callback:process"
	TypeSweepStale      = "transactions:sweep_stale"
)

// Store is the persistence surface the processor needs.
type Store interface {
	FindPending(ctx context.Context, checkoutRequestID, merchantRequestID string) (*models.Transaction, error)
	ApplyCallbackResult(ctx context.Context, id uuid.UUID, upd models.CallbackUpdate) (bool, error)
	MarkStalePending(ctx context.Context, olderThan time.Time) (int64, error)
}

// Processor handles background reconciliation tasks.
type Processor struct {
	store          Store
	log            *zap.SugaredLogger
	metrics        *metrics.Metrics
	pendingTimeout time.Duration
	now            func() time.Time
}

// NewProcessor creates a worker processor.
func NewProcessor(st Store, log *zap.SugaredLogger, m *metrics.Metrics, pendingTimeout time.Duration) *Processor {
	return &Processor{
		store:          st,
		log:            log,
		metrics:        m,
		pendingTimeout: pendingTimeout,
		now:            time.Now,
	}
}

// NewProcessCallbackTask wraps a raw callback payload in a task.
func NewProcessCallbackTask(payload []byte) *asynq.Task {
	return asynq.NewTask(TypeProcessCallback, payload)
}

// NewSweepStaleTask creates the periodic sweep task.
func NewSweepStaleTask() *asynq.Task {
	return asynq.NewTask(TypeSweepStale, nil)
}

// ProcessCallback reconciles one gateway callback against its pending
// transaction. A callback with no matching transaction is logged and
// counted but the task still succeeds: retrying cannot make the
// transaction appear, and its audit row was already written at receipt.
func (p *Processor) ProcessCallback(ctx context.Context, t *asynq.Task) error {
	var envelope mpesa.CallbackEnvelope
	if err := json.Unmarshal(t.Payload(), &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal callback: %w", err)
	}

	cb := envelope.Body.StkCallback
	p.log.Infow("processing callback",
		"checkout_request_id", cb.CheckoutRequestID,
		"merchant_request_id", cb.MerchantRequestID,
		"result_code", cb.ResultCode,
	)

	tx, err := p.store.FindPending(ctx, cb.CheckoutRequestID, cb.MerchantRequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.log.Warnw("no pending transaction for callback",
				"checkout_request_id", cb.CheckoutRequestID,
				"merchant_request_id", cb.MerchantRequestID,
			)
			p.metrics.LookupMisses.Inc()
			return nil
		}
		return fmt.Errorf("failed to find transaction: %w", err)
	}

	upd := buildUpdate(cb)
	if !models.IsValidTransition(tx.Status, upd.Status) {
		return fmt.Errorf("invalid state transition from %s to %s", tx.Status, upd.Status)
	}

	updated, err := p.store.ApplyCallbackResult(ctx, tx.ID, upd)
	if err != nil {
		return fmt.Errorf("failed to apply callback result: %w", err)
	}
	if !updated {
		// Lost the race to another delivery of the same callback; the
		// first write already recorded identical fields.
		p.log.Infow("transaction already in terminal state, skipping",
			"transaction_id", tx.ID,
			"checkout_request_id", cb.CheckoutRequestID,
		)
		return nil
	}

	p.metrics.Reconciliations.WithLabelValues(string(upd.Status)).Inc()
	p.log.Infow("transaction reconciled",
		"transaction_id", tx.ID,
		"status", upd.Status,
		"result_code", cb.ResultCode,
	)

	return nil
}

// SweepStale fails pending transactions that never received a callback
// within the configured timeout.
func (p *Processor) SweepStale(ctx context.Context, t *asynq.Task) error {
	cutoff := p.now().Add(-p.pendingTimeout)

	swept, err := p.store.MarkStalePending(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("stale sweep failed: %w", err)
	}

	if swept > 0 {
		p.metrics.SweptTransactions.Add(float64(swept))
		p.log.Infow("swept stale pending transactions", "count", swept, "cutoff", cutoff)
	}

	return nil
}

// buildUpdate maps a gateway result onto a transaction update. Result code
// zero is the only success signal; everything else is a failure with the
// gateway's description preserved verbatim.
func buildUpdate(cb mpesa.StkCallback) models.CallbackUpdate {
	status := models.StatusFailed
	if cb.ResultCode == 0 {
		status = models.StatusSuccess
	}

	fields := mpesa.FlattenMetadata(cb.CallbackMetadata.Item)

	upd := models.CallbackUpdate{
		Status:             status,
		ResultCode:         cb.ResultCode,
		ResultDesc:         cb.ResultDesc,
		MpesaReceiptNumber: fields.ReceiptNumber,
		TransactionDate:    fields.TransactionDate,
		Amount:             fields.Amount,
		Extra:              fields.Extra,
	}

	if fields.PhoneNumber != nil {
		normalized := mpesa.NormalizePhone(*fields.PhoneNumber)
		upd.PhoneNumber = &normalized
	}

	return upd
}
