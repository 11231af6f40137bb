package enums

import "fmt"

// RefundStatus tracks a refund request.
type RefundStatus string

const (
	RefundStatusRequested          RefundStatus = "requested"
	RefundStatusProcessing         RefundStatus = "processing"
	RefundStatusCompleted          RefundStatus = "completed"
	RefundStatusPartiallyCompleted RefundStatus = "partially_completed"
	RefundStatusFailed             RefundStatus = "failed"
	RefundStatusCancelled          RefundStatus = "cancelled"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusRequested,
	RefundStatusProcessing,
	RefundStatusCompleted,
	RefundStatusPartiallyCompleted,
	RefundStatusFailed,
	RefundStatusCancelled,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
