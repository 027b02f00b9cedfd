package mpesa

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Item represents a key-value pair from the callback metadata list
type Item struct {
	Name  string      `json:"Name"`
	Value interface{} `json:"Value"`
}

// StkCallback is the inner callback body reported by the gateway.
// CallbackMetadata is only populated on success.
type StkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        int    `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  struct {
		Item []Item `json:"Item"`
	} `json:"CallbackMetadata"`
}

// CallbackEnvelope represents the full callback payload
type CallbackEnvelope struct {
	Body struct {
		StkCallback StkCallback `json:"stkCallback"`
	} `json:"Body"`
}

// Valid reports whether the payload has the expected nested shape.
func (e *CallbackEnvelope) Valid() bool {
	cb := e.Body.StkCallback
	return cb.CheckoutRequestID != "" || cb.MerchantRequestID != ""
}

// Metadata item names the gateway is known to send.
const (
	MetaAmount          = "Amount"
	MetaReceiptNumber   = "MpesaReceiptNumber"
	MetaTransactionDate = "TransactionDate"
	MetaPhoneNumber     = "PhoneNumber"
)

// CallbackFields is the flattened, typed view of the callback metadata.
// Unknown item names are preserved in Extra rather than dropped.
type CallbackFields struct {
	Amount          *decimal.Decimal
	ReceiptNumber   *string
	TransactionDate *string
	PhoneNumber     *string
	Extra           map[string]interface{}
}

// FlattenMetadata converts the gateway's list of {Name, Value} items into
// typed fields. Items with an empty name are skipped.
func FlattenMetadata(items []Item) CallbackFields {
	fields := CallbackFields{}

	for _, item := range items {
		switch item.Name {
		case MetaAmount:
			if d, ok := toDecimal(item.Value); ok {
				fields.Amount = &d
			}
		case MetaReceiptNumber:
			s := toString(item.Value)
			fields.ReceiptNumber = &s
		case MetaTransactionDate:
			s := toString(item.Value)
			fields.TransactionDate = &s
		case MetaPhoneNumber:
			s := toString(item.Value)
			fields.PhoneNumber = &s
		case "":
			// skip nameless items
		default:
			if fields.Extra == nil {
				fields.Extra = make(map[string]interface{})
			}
			fields.Extra[item.Name] = item.Value
		}
	}

	return fields
}

// toString renders a metadata value as a string. Numeric values arrive as
// float64 from JSON decoding; dates and phone numbers are sent as numbers.
func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), true
	case string:
		d, err := decimal.NewFromString(val)
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}
