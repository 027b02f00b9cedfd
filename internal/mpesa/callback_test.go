package mpesa

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "29115-34620561-1",
			"CheckoutRequestID": "ws_CO_191220191020363925",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 10.00},
					{"Name": "MpesaReceiptNumber", "Value": "ABC123"},
					{"Name": "TransactionDate", "Value": 20191219102115},
					{"Name": "PhoneNumber", "Value": 254722000000}
				]
			}
		}
	}
}`

func TestCallbackEnvelopeUnmarshal(t *testing.T) {
	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(successCallback), &envelope))

	cb := envelope.Body.StkCallback
	require.True(t, envelope.Valid())
	require.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	require.Equal(t, "29115-34620561-1", cb.MerchantRequestID)
	require.Equal(t, 0, cb.ResultCode)
	require.Len(t, cb.CallbackMetadata.Item, 4)
}

func TestCallbackEnvelopeValid(t *testing.T) {
	var empty CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(`{"foo": "bar"}`), &empty))
	require.False(t, empty.Valid())
}

func TestFlattenMetadata(t *testing.T) {
	var envelope CallbackEnvelope
	require.NoError(t, json.Unmarshal([]byte(successCallback), &envelope))

	fields := FlattenMetadata(envelope.Body.StkCallback.CallbackMetadata.Item)

	require.NotNil(t, fields.Amount)
	require.True(t, fields.Amount.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, fields.ReceiptNumber)
	require.Equal(t, "ABC123", *fields.ReceiptNumber)
	require.NotNil(t, fields.TransactionDate)
	require.Equal(t, "20191219102115", *fields.TransactionDate)
	require.NotNil(t, fields.PhoneNumber)
	require.Equal(t, "254722000000", *fields.PhoneNumber)
	require.Nil(t, fields.Extra)
}

func TestFlattenMetadataUnknownKeysKept(t *testing.T) {
	fields := FlattenMetadata([]Item{
		{Name: "MpesaReceiptNumber", Value: "XYZ789"},
		{Name: "Balance", Value: 250.5},
		{Name: "", Value: "ignored"},
	})

	require.Equal(t, "XYZ789", *fields.ReceiptNumber)
	require.Nil(t, fields.Amount)
	require.Equal(t, map[string]interface{}{"Balance": 250.5}, fields.Extra)
}

func TestFlattenMetadataEmpty(t *testing.T) {
	fields := FlattenMetadata(nil)
	require.Nil(t, fields.Amount)
	require.Nil(t, fields.ReceiptNumber)
	require.Nil(t, fields.Extra)
}
