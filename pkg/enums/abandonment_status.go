package enums

import "fmt"

// AbandonmentStatus is the stage of an abandoned-cart tracker.
type AbandonmentStatus string

const (
	AbandonmentStatusIdentified    AbandonmentStatus = "identified"
	AbandonmentStatusReminderSent  AbandonmentStatus = "reminder_sent"
	AbandonmentStatusReminder2Sent AbandonmentStatus = "reminder_2_sent"
	AbandonmentStatusReminder3Sent AbandonmentStatus = "reminder_3_sent"
	AbandonmentStatusRecovered     AbandonmentStatus = "recovered"
	AbandonmentStatusExpired       AbandonmentStatus = "expired"
)

var validAbandonmentStatuses = []AbandonmentStatus{
	AbandonmentStatusIdentified,
	AbandonmentStatusReminderSent,
	AbandonmentStatusReminder2Sent,
	AbandonmentStatusReminder3Sent,
	AbandonmentStatusRecovered,
	AbandonmentStatusExpired,
}

// String implements fmt.Stringer.
func (a AbandonmentStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AbandonmentStatus.
func (a AbandonmentStatus) IsValid() bool {
	for _, candidate := range validAbandonmentStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAbandonmentStatus converts raw input into a AbandonmentStatus.
func ParseAbandonmentStatus(value string) (AbandonmentStatus, error) {
	for _, candidate := range validAbandonmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid abandonment status %q", value)
}

// IsTerminal reports whether the tracker no longer takes part in the sweep.
func (a AbandonmentStatus) IsTerminal() bool {
	return a == AbandonmentStatusRecovered || a == AbandonmentStatusExpired
}
