package enums

import "fmt"

// NotificationType identifies a message handed to the notification service.
type NotificationType string

const (
	NotificationOrderConfirmation NotificationType = "order_confirmation"
	NotificationNewOrderAlert     NotificationType = "new_order_alert"
	NotificationLowStockAlert     NotificationType = "low_stock_alert"
	NotificationRefundSuccess     NotificationType = "refund_success"
	NotificationRefundFailure     NotificationType = "refund_failure"
	NotificationCartReminder      NotificationType = "cart_reminder"
)

var validNotificationTypes = []NotificationType{
	NotificationOrderConfirmation,
	NotificationNewOrderAlert,
	NotificationLowStockAlert,
	NotificationRefundSuccess,
	NotificationRefundFailure,
	NotificationCartReminder,
}

// String implements fmt.Stringer.
func (n NotificationType) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationType.
func (n NotificationType) IsValid() bool {
	for _, candidate := range validNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationType converts raw input into a NotificationType.
func ParseNotificationType(value string) (NotificationType, error) {
	for _, candidate := range validNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
