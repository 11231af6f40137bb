package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryUnit is the authoritative stock counter for one SKU.
// QuantityOnHand and QuantityReserved are written only by the inventory ledger.
type InventoryUnit struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID        uuid.UUID       `gorm:"column:business_id;type:uuid;not null;uniqueIndex:idx_inventory_units_business_sku"`
	SKUCode           string          `gorm:"column:sku_code;not null;uniqueIndex:idx_inventory_units_business_sku"`
	Name              string          `gorm:"column:name;not null"`
	UnitPrice         decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null"`
	QuantityOnHand    int             `gorm:"column:quantity_on_hand;not null;default:0"`
	QuantityReserved  int             `gorm:"column:quantity_reserved;not null;default:0"`
	LowStockThreshold int             `gorm:"column:low_stock_threshold;not null;default:0"`
	LedgerSequence    int64           `gorm:"column:ledger_sequence;not null;default:0"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *InventoryUnit) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	return nil
}

// Available is the quantity that can still be reserved.
func (u InventoryUnit) Available() int {
	return u.QuantityOnHand - u.QuantityReserved
}
