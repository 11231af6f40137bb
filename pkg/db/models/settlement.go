package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Settlement records the merchant payout computed for a paid order.
type Settlement struct {
	ID                 uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	BusinessID         uuid.UUID       `gorm:"column:business_id;type:uuid;not null;index"`
	Reference          string          `gorm:"column:reference;not null;uniqueIndex"`
	Amount             decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	PlatformFee        decimal.Decimal `gorm:"column:platform_fee;type:numeric(14,2);not null"`
	SharePercent       decimal.Decimal `gorm:"column:share_percent;type:numeric(5,2);not null"`
	DestinationBank    string          `gorm:"column:destination_bank_code"`
	DestinationAccount string          `gorm:"column:destination_account_number"`
	DestinationName    string          `gorm:"column:destination_account_name"`
	Actor              string          `gorm:"column:actor;not null"`
	CreatedAt          time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (s *Settlement) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
