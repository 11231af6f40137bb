package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
)

// Cart holds a buyer's items for one business until checkout.
type Cart struct {
	ID               uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	BusinessID       uuid.UUID        `gorm:"column:business_id;type:uuid;not null;index"`
	CustomerID       uuid.UUID        `gorm:"column:customer_id;type:uuid;not null;index"`
	CustomerEmail    string           `gorm:"column:customer_email;not null"`
	Status           enums.CartStatus `gorm:"column:status;type:text;not null;default:'active';index:idx_carts_status_activity,priority:1"`
	Currency         string           `gorm:"column:currency;not null;default:'NGN'"`
	Subtotal         decimal.Decimal  `gorm:"column:subtotal;type:numeric(14,2);not null"`
	LastActivityAt   time.Time        `gorm:"column:last_activity_at;not null;index:idx_carts_status_activity,priority:2"`
	ConvertedOrderID *uuid.UUID       `gorm:"column:converted_order_id;type:uuid"`
	Items            []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CartItem is one SKU line in a cart together with its stock hold.
type CartItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	CartID        uuid.UUID       `gorm:"column:cart_id;type:uuid;not null;uniqueIndex:idx_cart_items_cart_sku"`
	SKUID         uuid.UUID       `gorm:"column:sku_id;type:uuid;not null;uniqueIndex:idx_cart_items_cart_sku"`
	Quantity      int             `gorm:"column:quantity;not null"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(14,2);not null"`
	ReservationID *uuid.UUID      `gorm:"column:reservation_id;type:uuid"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// AbandonedCartTracker follows one abandoned cart through the reminder sequence.
type AbandonedCartTracker struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	CartID          uuid.UUID               `gorm:"column:cart_id;type:uuid;not null;uniqueIndex"`
	CustomerEmail   string                  `gorm:"column:customer_email;not null"`
	Status          enums.AbandonmentStatus `gorm:"column:status;type:text;not null;index:idx_abandoned_trackers_status_next,priority:1"`
	IdentifiedAt    time.Time               `gorm:"column:identified_at;not null"`
	NextReminderAt  *time.Time              `gorm:"column:next_reminder_at;index:idx_abandoned_trackers_status_next,priority:2"`
	Reminder1SentAt *time.Time              `gorm:"column:reminder_1_sent_at"`
	Reminder2SentAt *time.Time              `gorm:"column:reminder_2_sent_at"`
	Reminder3SentAt *time.Time              `gorm:"column:reminder_3_sent_at"`
	RecoveredAt     *time.Time              `gorm:"column:recovered_at"`
	ExpiredAt       *time.Time              `gorm:"column:expired_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *AbandonedCartTracker) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
