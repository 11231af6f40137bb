package enums

import "fmt"

// RefundSide identifies who funds one refund money movement.
type RefundSide string

const (
	RefundSidePlatform RefundSide = "platform"
	RefundSideBusiness RefundSide = "business"
)

var validRefundSides = []RefundSide{
	RefundSidePlatform,
	RefundSideBusiness,
}

// String implements fmt.Stringer.
func (r RefundSide) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundSide.
func (r RefundSide) IsValid() bool {
	for _, candidate := range validRefundSides {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundSide converts raw input into a RefundSide.
func ParseRefundSide(value string) (RefundSide, error) {
	for _, candidate := range validRefundSides {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund side %q", value)
}

// RefundTransactionStatus is the outcome of one refund money movement.
type RefundTransactionStatus string

const (
	RefundTransactionPending   RefundTransactionStatus = "pending"
	RefundTransactionSucceeded RefundTransactionStatus = "succeeded"
	RefundTransactionFailed    RefundTransactionStatus = "failed"
)
