package monnifywebhook

import (
	"encoding/json"
	"strings"

	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/monnify"
	"github.com/shopspring/decimal"
)

// PaymentCallback is the one shape every inbound payment notification is
// reduced to before it touches an order.
type PaymentCallback struct {
	EventType            string            `json:"eventType"`
	TransactionReference string            `json:"transactionReference"`
	PaymentReference     string            `json:"paymentReference"`
	AmountPaid           decimal.Decimal   `json:"amountPaid"`
	PaymentStatus        string            `json:"paymentStatus"`
	PaymentMethod        string            `json:"paymentMethod"`
	PaidOn               string            `json:"paidOn,omitempty"`
	Customer             monnify.Customer  `json:"customer"`
	SettlementAmount     decimal.Decimal   `json:"settlementAmount"`
	Metadata             map[string]string `json:"metaData,omitempty"`
}

// Key identifies the notification for deduplication.
func (c PaymentCallback) Key() string {
	return c.TransactionReference + ":" + c.EventType
}

// Transaction adapts the callback to the gateway's transaction view.
func (c PaymentCallback) Transaction() *monnify.Transaction {
	return &monnify.Transaction{
		TransactionReference: c.TransactionReference,
		PaymentReference:     c.PaymentReference,
		AmountPaid:           c.AmountPaid,
		SettlementAmount:     c.SettlementAmount,
		PaidOn:               c.PaidOn,
		PaymentStatus:        c.PaymentStatus,
		PaymentMethod:        c.PaymentMethod,
		Customer:             c.Customer,
		MetaData:             c.Metadata,
	}
}

type providerEnvelope struct {
	EventType string           `json:"eventType"`
	EventData *json.RawMessage `json:"eventData"`
}

type providerEventData struct {
	TransactionReference string            `json:"transactionReference"`
	PaymentReference     string            `json:"paymentReference"`
	AmountPaid           decimal.Decimal   `json:"amountPaid"`
	TotalPayable         decimal.Decimal   `json:"totalPayable"`
	SettlementAmount     decimal.Decimal   `json:"settlementAmount"`
	PaidOn               string            `json:"paidOn"`
	PaymentStatus        string            `json:"paymentStatus"`
	PaymentMethod        string            `json:"paymentMethod"`
	Customer             monnify.Customer  `json:"customer"`
	MetaData             map[string]string `json:"metaData"`
}

// Normalize accepts the provider's {eventType, eventData} body or an
// internal callback that is already flat.
func Normalize(raw []byte) (PaymentCallback, error) {
	var env providerEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PaymentCallback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed payment callback")
	}

	var cb PaymentCallback
	if env.EventData != nil {
		var data providerEventData
		if err := json.Unmarshal(*env.EventData, &data); err != nil {
			return PaymentCallback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed event data")
		}
		cb = PaymentCallback{
			EventType:            env.EventType,
			TransactionReference: data.TransactionReference,
			PaymentReference:     data.PaymentReference,
			AmountPaid:           data.AmountPaid,
			PaymentStatus:        data.PaymentStatus,
			PaymentMethod:        data.PaymentMethod,
			PaidOn:               data.PaidOn,
			Customer:             data.Customer,
			SettlementAmount:     data.SettlementAmount,
			Metadata:             data.MetaData,
		}
	} else if err := json.Unmarshal(raw, &cb); err != nil {
		return PaymentCallback{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed payment callback")
	}

	cb.EventType = strings.ToUpper(strings.TrimSpace(cb.EventType))
	cb.TransactionReference = strings.TrimSpace(cb.TransactionReference)
	cb.PaymentReference = strings.TrimSpace(cb.PaymentReference)
	cb.PaymentStatus = strings.ToUpper(strings.TrimSpace(cb.PaymentStatus))
	if cb.PaymentStatus == "" {
		cb.PaymentStatus = statusForEvent(cb.EventType)
	}
	if cb.EventType == "" {
		cb.EventType = eventForStatus(cb.PaymentStatus)
	}

	if cb.TransactionReference == "" {
		return PaymentCallback{}, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	if cb.EventType == "" {
		return PaymentCallback{}, pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}
	return cb, nil
}

func statusForEvent(eventType string) string {
	switch eventType {
	case monnify.EventSuccessfulTransaction:
		return monnify.StatusPaid
	case monnify.EventFailedTransaction, monnify.EventRejectedPayment:
		return monnify.StatusFailed
	case monnify.EventReversedTransaction:
		return monnify.StatusReversed
	}
	return ""
}

func eventForStatus(status string) string {
	switch status {
	case monnify.StatusPaid, monnify.StatusOverpaid:
		return monnify.EventSuccessfulTransaction
	case monnify.StatusReversed:
		return monnify.EventReversedTransaction
	case "":
		return ""
	default:
		return monnify.EventFailedTransaction
	}
}
