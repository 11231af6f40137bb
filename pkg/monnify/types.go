package monnify

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider payment statuses as reported by transaction queries and webhooks.
const (
	StatusPaid          = "PAID"
	StatusOverpaid      = "OVERPAID"
	StatusPartiallyPaid = "PARTIALLY_PAID"
	StatusPending       = "PENDING"
	StatusFailed        = "FAILED"
	StatusReversed      = "REVERSED"
	StatusExpired       = "EXPIRED"
	StatusCancelled     = "CANCELLED"
	StatusAbandoned     = "ABANDONED"
)

// Webhook event types sent by the provider.
const (
	EventSuccessfulTransaction = "SUCCESSFUL_TRANSACTION"
	EventFailedTransaction     = "FAILED_TRANSACTION"
	EventReversedTransaction   = "REVERSED_TRANSACTION"
	EventRejectedPayment       = "REJECTED_PAYMENT"
)

// Refund statuses returned by the refund API.
const (
	RefundCompleted = "COMPLETED"
	RefundPending   = "PENDING"
	RefundFailed    = "FAILED"
)

// envelope is the common wrapper of every API response.
type envelope struct {
	RequestSuccessful bool            `json:"requestSuccessful"`
	ResponseMessage   string          `json:"responseMessage"`
	ResponseCode      string          `json:"responseCode"`
	ResponseBody      json.RawMessage `json:"responseBody"`
}

type loginBody struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// InitRequest starts a hosted checkout for one order.
type InitRequest struct {
	Amount             decimal.Decimal
	CustomerName       string
	CustomerEmail      string
	PaymentReference   string
	PaymentDescription string
	RedirectURL        string
	PaymentMethods     []string
	Metadata           map[string]string
}

// InitResult is what the checkout page needs.
type InitResult struct {
	TransactionReference string `json:"transactionReference"`
	PaymentReference     string `json:"paymentReference"`
	CheckoutURL          string `json:"checkoutUrl"`
}

// Customer identifies the payer.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Transaction is the provider's authoritative view of a payment.
type Transaction struct {
	TransactionReference string            `json:"transactionReference"`
	PaymentReference     string            `json:"paymentReference"`
	AmountPaid           decimal.Decimal   `json:"amountPaid"`
	TotalPayable         decimal.Decimal   `json:"totalPayable"`
	SettlementAmount     decimal.Decimal   `json:"settlementAmount"`
	PaidOn               string            `json:"paidOn"`
	PaymentStatus        string            `json:"paymentStatus"`
	PaymentDescription   string            `json:"paymentDescription"`
	Currency             string            `json:"currency"`
	PaymentMethod        string            `json:"paymentMethod"`
	Customer             Customer          `json:"customer"`
	MetaData             map[string]string `json:"metaData"`
}

// RefundRequest reverses part or all of a collected payment.
type RefundRequest struct {
	TransactionReference string
	RefundReference      string
	Amount               decimal.Decimal
	Reason               string
	CustomerNote         string
}

// RefundResult reports the provider's refund state.
type RefundResult struct {
	RefundReference      string `json:"refundReference"`
	TransactionReference string `json:"transactionReference"`
	RefundStatus         string `json:"refundStatus"`
	Comment              string `json:"comment"`
}

// Succeeded reports whether the refund reached the customer.
func (r RefundResult) Succeeded() bool {
	return strings.EqualFold(r.RefundStatus, RefundCompleted)
}

var paidOnLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05.0",
	"2006-01-02 15:04:05",
	"02/01/2006 03:04:05 PM",
	"02/01/2006 15:04:05",
}

// ParsePaidOn parses the provider's payment timestamp. The provider reports
// local Lagos time without an offset.
func ParsePaidOn(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	loc := time.FixedZone("WAT", 60*60)
	for _, layout := range paidOnLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
