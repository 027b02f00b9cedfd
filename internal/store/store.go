package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sokoyetu/payments/internal/models"
)

// ErrNotFound is returned when no transaction matches a lookup.
var ErrNotFound = errors.New("transaction not found")

// StaleResultDesc is the result description stamped on pending
// transactions failed by the timeout sweep.
const StaleResultDesc = "timed out waiting for gateway callback"

// ListFilter narrows the admin transaction listing.
type ListFilter struct {
	Status models.TransactionStatus
	Limit  int
}

// Store persists transactions and callback audits in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const transactionColumns = `
	id, checkout_request_id, merchant_request_id, phone_number, amount,
	service_type, action_type, user_id, status, result_code, result_desc,
	mpesa_receipt_number, transaction_date, extra_metadata, created_at, updated_at
`

// CreatePending inserts a new transaction in pending state. The caller
// supplies the gateway correlation ids; id and timestamps are set here.
func (s *Store) CreatePending(ctx context.Context, tx *models.Transaction) error {
	tx.ID = uuid.New()
	tx.Status = models.StatusPending
	now := time.Now().UTC()
	tx.CreatedAt = now
	tx.UpdatedAt = now

	insertSQL := `
		INSERT INTO transactions (
			id, checkout_request_id, merchant_request_id, phone_number, amount,
			service_type, action_type, user_id, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, insertSQL,
		tx.ID,
		tx.CheckoutRequestID,
		tx.MerchantRequestID,
		tx.PhoneNumber,
		tx.Amount,
		tx.ServiceType,
		tx.ActionType,
		tx.UserID,
		tx.Status,
		tx.CreatedAt,
		tx.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// FindPending locates the pending transaction a callback belongs to.
// Lookup strategies are tried in order, stopping at the first match:
// checkout request id first, then merchant request id.
func (s *Store) FindPending(ctx context.Context, checkoutRequestID, merchantRequestID string) (*models.Transaction, error) {
	strategies := []lookupStrategy{
		{
			name: "checkout_request_id",
			key:  checkoutRequestID,
			run: func(ctx context.Context, key string) (*models.Transaction, error) {
				return s.findPendingBy(ctx, "checkout_request_id", key)
			},
		},
		{
			name: "merchant_request_id",
			key:  merchantRequestID,
			run: func(ctx context.Context, key string) (*models.Transaction, error) {
				return s.findPendingBy(ctx, "merchant_request_id", key)
			},
		},
	}

	return firstMatch(ctx, strategies)
}

func (s *Store) findPendingBy(ctx context.Context, column, value string) (*models.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE %s = $1 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`, transactionColumns, column)

	tx, err := s.scanTransaction(s.pool.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query transaction by %s: %w", column, err)
	}

	return tx, nil
}

// GetByCheckoutID fetches a transaction in any state, for status polling
// and admin views.
func (s *Store) GetByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.Transaction, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE checkout_request_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, transactionColumns)

	tx, err := s.scanTransaction(s.pool.QueryRow(ctx, query, checkoutRequestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}

	return tx, nil
}

// ApplyCallbackResult moves a pending transaction to its terminal state
// and merges in the callback fields. The status guard in the WHERE clause
// makes replayed callbacks no-ops: the first write wins, and the bool
// return reports whether this call was the one that transitioned the row.
func (s *Store) ApplyCallbackResult(ctx context.Context, id uuid.UUID, upd models.CallbackUpdate) (bool, error) {
	var extraJSON []byte
	if len(upd.Extra) > 0 {
		var err error
		extraJSON, err = json.Marshal(upd.Extra)
		if err != nil {
			return false, fmt.Errorf("failed to marshal extra metadata: %w", err)
		}
	}

	updateSQL := `
		UPDATE transactions
		SET status = $1,
		    result_code = $2,
		    result_desc = $3,
		    mpesa_receipt_number = COALESCE($4, mpesa_receipt_number),
		    transaction_date = COALESCE($5, transaction_date),
		    phone_number = COALESCE($6, phone_number),
		    amount = COALESCE($7, amount),
		    extra_metadata = COALESCE($8, extra_metadata),
		    updated_at = NOW()
		WHERE id = $9 AND status = 'pending'
	`

	var amount interface{}
	if upd.Amount != nil {
		amount = *upd.Amount
	}

	result, err := s.pool.Exec(ctx, updateSQL,
		upd.Status,
		upd.ResultCode,
		upd.ResultDesc,
		upd.MpesaReceiptNumber,
		upd.TransactionDate,
		upd.PhoneNumber,
		amount,
		extraJSON,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// SaveCallbackAudit persists a raw copy of a callback payload. Audits are
// written unconditionally, before and independent of reconciliation.
func (s *Store) SaveCallbackAudit(ctx context.Context, audit *models.CallbackAudit) error {
	insertSQL := `
		INSERT INTO callback_audits (
			checkout_request_id, merchant_request_id, result_code, payload, received_at
		) VALUES ($1, $2, $3, $4, $5)
	`

	if audit.ReceivedAt.IsZero() {
		audit.ReceivedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, insertSQL,
		audit.CheckoutRequestID,
		audit.MerchantRequestID,
		audit.ResultCode,
		audit.Payload,
		audit.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert callback audit: %w", err)
	}

	return nil
}

// MarkStalePending fails pending transactions created before the cutoff.
// Returns the number of transactions swept.
func (s *Store) MarkStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	updateSQL := `
		UPDATE transactions
		SET status = $1,
		    result_desc = $2,
		    updated_at = NOW()
		WHERE status = 'pending' AND created_at < $3
	`

	result, err := s.pool.Exec(ctx, updateSQL, models.StatusFailed, StaleResultDesc, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale transactions: %w", err)
	}

	return result.RowsAffected(), nil
}

// List returns transactions for admin reporting, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]models.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM transactions
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, transactionColumns)

	rows, err := s.pool.Query(ctx, query, string(filter.Status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		tx, err := s.scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, *tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}

	return txs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanTransaction(row rowScanner) (*models.Transaction, error) {
	var tx models.Transaction
	err := row.Scan(
		&tx.ID,
		&tx.CheckoutRequestID,
		&tx.MerchantRequestID,
		&tx.PhoneNumber,
		&tx.Amount,
		&tx.ServiceType,
		&tx.ActionType,
		&tx.UserID,
		&tx.Status,
		&tx.ResultCode,
		&tx.ResultDesc,
		&tx.MpesaReceiptNumber,
		&tx.TransactionDate,
		&tx.ExtraMetadata,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &tx, nil
}
