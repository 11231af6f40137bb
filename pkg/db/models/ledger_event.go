package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/types"
)

// LedgerEvent records an immutable money movement tied to an order.
type LedgerEvent struct {
	ID         uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	BusinessID uuid.UUID             `gorm:"column:business_id;type:uuid;not null"`
	Type       enums.LedgerEventType `gorm:"column:type;type:text;not null"`
	Amount     decimal.Decimal       `gorm:"column:amount;type:numeric(14,2);not null"`
	Reference  *string               `gorm:"column:reference"`
	Actor      string                `gorm:"column:actor;not null"`
	Metadata   types.JSONMap         `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (e *LedgerEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
