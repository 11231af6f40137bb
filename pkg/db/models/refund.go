package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
)

// ReturnItem names stock that goes back on the shelf when a refund succeeds.
type ReturnItem struct {
	OrderItemID uuid.UUID `json:"order_item_id"`
	Quantity    int       `json:"quantity"`
}

// Refund is one refund request against an order. AmountRefunded counts only
// money movements that succeeded.
type Refund struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	RefundReference string              `gorm:"column:refund_reference;not null;uniqueIndex"`
	Type            enums.RefundType    `gorm:"column:type;type:text;not null"`
	Method          enums.RefundMethod  `gorm:"column:method;type:text;not null"`
	Reason          string              `gorm:"column:reason"`
	Status          enums.RefundStatus  `gorm:"column:status;type:text;not null;index"`
	AmountRequested decimal.Decimal     `gorm:"column:amount_requested;type:numeric(14,2);not null"`
	AmountApproved  decimal.Decimal     `gorm:"column:amount_approved;type:numeric(14,2);not null"`
	AmountRefunded  decimal.Decimal     `gorm:"column:amount_refunded;type:numeric(14,2);not null"`
	ReturnItems     []ReturnItem        `gorm:"column:return_items;type:jsonb;serializer:json"`
	RequestedBy     string              `gorm:"column:requested_by;not null"`
	FailureReason   *string             `gorm:"column:failure_reason"`
	ProcessedAt     *time.Time          `gorm:"column:processed_at"`
	Transactions    []RefundTransaction `gorm:"foreignKey:RefundID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *Refund) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// RefundTransaction is one independently failable money movement of a refund.
type RefundTransaction struct {
	ID                uuid.UUID                     `gorm:"column:id;type:uuid;primaryKey"`
	RefundID          uuid.UUID                     `gorm:"column:refund_id;type:uuid;not null;index"`
	Side              enums.RefundSide              `gorm:"column:side;type:text;not null"`
	Destination       enums.RefundMethod            `gorm:"column:destination;type:text;not null"`
	Amount            decimal.Decimal               `gorm:"column:amount;type:numeric(14,2);not null"`
	Status            enums.RefundTransactionStatus `gorm:"column:status;type:text;not null"`
	ProviderReference *string                       `gorm:"column:provider_reference"`
	Error             *string                       `gorm:"column:error"`
	CreatedAt         time.Time                     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                     `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *RefundTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
