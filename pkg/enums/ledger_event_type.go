package enums

import "fmt"

// LedgerEventType labels one money movement recorded against an order.
type LedgerEventType string

const (
	LedgerEventPaymentCollected   LedgerEventType = "payment_collected"
	LedgerEventBusinessSettlement LedgerEventType = "business_settlement"
	LedgerEventPlatformFee        LedgerEventType = "platform_fee"
	LedgerEventRefundPlatform     LedgerEventType = "refund_platform"
	LedgerEventRefundBusiness     LedgerEventType = "refund_business"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventPaymentCollected,
	LedgerEventBusinessSettlement,
	LedgerEventPlatformFee,
	LedgerEventRefundPlatform,
	LedgerEventRefundBusiness,
}

// String implements fmt.Stringer.
func (l LedgerEventType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEventType.
func (l LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
