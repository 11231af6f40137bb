package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
)

// InventoryLedgerEntry is an append-only record of one stock change.
// Delta applies to on-hand stock and ReservedDelta to the reserved counter.
// Sequence orders entries per SKU and matches InventoryUnit.LedgerSequence at write time.
type InventoryLedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	SKUID          uuid.UUID             `gorm:"column:sku_id;type:uuid;not null;index:idx_inventory_ledger_sku_seq,priority:1"`
	Delta          int                   `gorm:"column:delta;not null"`
	ReservedDelta  int                   `gorm:"column:reserved_delta;not null"`
	Reason         enums.InventoryReason `gorm:"column:reason_code;type:text;not null"`
	QuantityBefore int                   `gorm:"column:quantity_before;not null"`
	QuantityAfter  int                   `gorm:"column:quantity_after;not null"`
	ReservedBefore int                   `gorm:"column:reserved_before;not null"`
	ReservedAfter  int                   `gorm:"column:reserved_after;not null"`
	RelatedOrderID *uuid.UUID            `gorm:"column:related_order_id;type:uuid"`
	ReservationID  *uuid.UUID            `gorm:"column:reservation_id;type:uuid"`
	Actor          string                `gorm:"column:actor;not null"`
	Note           *string               `gorm:"column:note"`
	Sequence       int64                 `gorm:"column:sequence;not null;index:idx_inventory_ledger_sku_seq,priority:2"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *InventoryLedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
