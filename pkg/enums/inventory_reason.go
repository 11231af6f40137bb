package enums

import "fmt"

// InventoryReason labels one inventory ledger entry.
type InventoryReason string

const (
	InventoryReasonSale        InventoryReason = "sale"
	InventoryReasonReturn      InventoryReason = "return"
	InventoryReasonRestock     InventoryReason = "restock"
	InventoryReasonAdjustment  InventoryReason = "adjustment"
	InventoryReasonDamaged     InventoryReason = "damaged"
	InventoryReasonReservation InventoryReason = "reservation"
	InventoryReasonRelease     InventoryReason = "release"
)

var validInventoryReasons = []InventoryReason{
	InventoryReasonSale,
	InventoryReasonReturn,
	InventoryReasonRestock,
	InventoryReasonAdjustment,
	InventoryReasonDamaged,
	InventoryReasonReservation,
	InventoryReasonRelease,
}

// String implements fmt.Stringer.
func (i InventoryReason) String() string {
	return string(i)
}

// IsValid reports whether the value is a known InventoryReason.
func (i InventoryReason) IsValid() bool {
	for _, candidate := range validInventoryReasons {
		if candidate == i {
			return true
		}
	}
	return false
}

// ParseInventoryReason converts raw input into a InventoryReason.
func ParseInventoryReason(value string) (InventoryReason, error) {
	for _, candidate := range validInventoryReasons {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory reason %q", value)
}

// RequiresNote reports whether the merchant must explain the change.
func (i InventoryReason) RequiresNote() bool {
	return i == InventoryReasonAdjustment || i == InventoryReasonDamaged
}
