package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
)

// StockReservation is a time-boxed hold on one SKU. CartID and OrderID are
// lookup references only; the reservation owns neither.
type StockReservation struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	SKUID         uuid.UUID               `gorm:"column:sku_id;type:uuid;not null;index"`
	Quantity      int                     `gorm:"column:quantity;not null"`
	Status        enums.ReservationStatus `gorm:"column:status;type:text;not null;default:'pending';index:idx_stock_reservations_status_expiry,priority:1"`
	ExpiresAt     time.Time               `gorm:"column:expires_at;not null;index:idx_stock_reservations_status_expiry,priority:2"`
	CartID        *uuid.UUID              `gorm:"column:cart_id;type:uuid;index"`
	OrderID       *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	ResolvedAt    *time.Time              `gorm:"column:resolved_at"`
	ReleaseReason *string                 `gorm:"column:release_reason"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *StockReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
