package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus represents valid transaction states
type TransactionStatus string

const (
	StatusPending TransactionStatus = "pending"
	StatusSuccess TransactionStatus = "success"
	StatusFailed  TransactionStatus = "failed"
)

// Transaction represents one STK push payment attempt
type Transaction struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	CheckoutRequestID  string            `db:"checkout_request_id" json:"checkoutRequestId"`
	MerchantRequestID  string            `db:"merchant_request_id" json:"merchantRequestId"`
	PhoneNumber        string            `db:"phone_number" json:"phoneNumber"`
	Amount             decimal.Decimal   `db:"amount" json:"amount"`
	ServiceType        string            `db:"service_type" json:"serviceType"`
	ActionType         string            `db:"action_type" json:"actionType"`
	UserID             string            `db:"user_id" json:"userId"`
	Status             TransactionStatus `db:"status" json:"status"`
	ResultCode         *int              `db:"result_code" json:"resultCode,omitempty"`
	ResultDesc         *string           `db:"result_desc" json:"resultDesc,omitempty"`
	MpesaReceiptNumber *string           `db:"mpesa_receipt_number" json:"mpesaReceiptNumber,omitempty"`
	TransactionDate    *string           `db:"transaction_date" json:"transactionDate,omitempty"`
	ExtraMetadata      json.RawMessage   `db:"extra_metadata" json:"extraMetadata,omitempty"` // JSONB
	CreatedAt          time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updatedAt"`
}

// Reference returns the account reference sent to the gateway.
func (t *Transaction) Reference() string {
	return BuildReference(t.ServiceType, t.ActionType)
}

// BuildReference concatenates serviceType and actionType into the purpose
// string used as the gateway account reference, bounded to the gateway's
// 12 character limit.
func BuildReference(serviceType, actionType string) string {
	ref := serviceType + "-" + actionType
	if len(ref) > 12 {
		ref = ref[:12]
	}
	return ref
}

// IsValidTransition checks if a status transition is allowed.
// A transaction leaves pending exactly once; terminal states are final.
func IsValidTransition(from, to TransactionStatus) bool {
	validTransitions := map[TransactionStatus][]TransactionStatus{
		StatusPending: {StatusSuccess, StatusFailed},
		StatusSuccess: {},
		StatusFailed:  {},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}

	for _, validTo := range allowed {
		if validTo == to {
			return true
		}
	}

	return false
}

// CallbackUpdate carries the fields applied to a pending transaction
// when its gateway callback is reconciled.
type CallbackUpdate struct {
	Status             TransactionStatus
	ResultCode         int
	ResultDesc         string
	MpesaReceiptNumber *string
	TransactionDate    *string
	PhoneNumber        *string
	Amount             *decimal.Decimal
	Extra              map[string]interface{}
}
