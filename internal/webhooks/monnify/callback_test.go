package monnifywebhook

import (
	"testing"

	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProviderShape(t *testing.T) {
	raw := []byte(`{
		"eventType": "SUCCESSFUL_TRANSACTION",
		"eventData": {
			"transactionReference": "MNFY|20260302|000123",
			"paymentReference": "ORD-20260302-ABCD1234",
			"amountPaid": "1000.00",
			"settlementAmount": "985.00",
			"paidOn": "2026-03-02 11:00:00.0",
			"paymentStatus": "PAID",
			"paymentMethod": "CARD",
			"customer": {"email": "tolu@example.com", "name": "Tolu Ade"},
			"metaData": {"order_id": "abc"}
		}
	}`)

	cb, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "SUCCESSFUL_TRANSACTION", cb.EventType)
	require.Equal(t, "MNFY|20260302|000123", cb.TransactionReference)
	require.Equal(t, "ORD-20260302-ABCD1234", cb.PaymentReference)
	require.True(t, decimal.RequireFromString("1000").Equal(cb.AmountPaid))
	require.Equal(t, "PAID", cb.PaymentStatus)
	require.Equal(t, "tolu@example.com", cb.Customer.Email)
	require.Equal(t, "abc", cb.Metadata["order_id"])
	require.Equal(t, "MNFY|20260302|000123:SUCCESSFUL_TRANSACTION", cb.Key())
}

func TestNormalizeInternalShape(t *testing.T) {
	raw := []byte(`{"transactionReference":"MNFY|1","paymentStatus":"failed","amountPaid":0}`)

	cb, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "FAILED", cb.PaymentStatus)
	require.Equal(t, "FAILED_TRANSACTION", cb.EventType)
}

func TestNormalizeDerivesStatusFromEvent(t *testing.T) {
	raw := []byte(`{"eventType":"REVERSED_TRANSACTION","eventData":{"transactionReference":"MNFY|2"}}`)

	cb, err := Normalize(raw)
	require.NoError(t, err)
	require.Equal(t, "REVERSED", cb.PaymentStatus)
}

func TestNormalizeRejectsIncompleteBodies(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{}}`,
		`{"transactionReference":"MNFY|3"}`,
	} {
		_, err := Normalize([]byte(raw))
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), raw)
	}
}
