package models

import "time"

// CallbackAudit is a raw, unmodified copy of a gateway callback payload,
// persisted regardless of whether a matching transaction was found.
type CallbackAudit struct {
	ID                int64     `db:"id"`
	CheckoutRequestID string    `db:"checkout_request_id"`
	MerchantRequestID string    `db:"merchant_request_id"`
	ResultCode        int       `db:"result_code"`
	Payload           []byte    `db:"payload"` // JSONB, verbatim
	ReceivedAt        time.Time `db:"received_at"`
}
