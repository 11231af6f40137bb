package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/types"
)

// Order is the aggregate root of a purchase. Status and PaymentStatus are
// independent axes, mutated only through the order state machine.
type Order struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrderReference       string              `gorm:"column:order_reference;not null;uniqueIndex"`
	BusinessID           uuid.UUID           `gorm:"column:business_id;type:uuid;not null;index"`
	CustomerID           uuid.UUID           `gorm:"column:customer_id;type:uuid;not null;index"`
	CustomerEmail        string              `gorm:"column:customer_email;not null"`
	CustomerName         string              `gorm:"column:customer_name"`
	CartID               *uuid.UUID          `gorm:"column:cart_id;type:uuid"`
	Status               enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending';index:idx_orders_payment_status_created,priority:1"`
	PaymentMethod        enums.PaymentMethod `gorm:"column:payment_method;type:text;not null"`
	Currency             string              `gorm:"column:currency;not null;default:'NGN'"`
	Subtotal             decimal.Decimal     `gorm:"column:subtotal;type:numeric(14,2);not null"`
	ShippingFee          decimal.Decimal     `gorm:"column:shipping_fee;type:numeric(14,2);not null"`
	Tax                  decimal.Decimal     `gorm:"column:tax;type:numeric(14,2);not null"`
	Discount             decimal.Decimal     `gorm:"column:discount;type:numeric(14,2);not null"`
	Total                decimal.Decimal     `gorm:"column:total;type:numeric(14,2);not null"`
	RefundedAmount       decimal.Decimal     `gorm:"column:refunded_amount;type:numeric(14,2);not null"`
	AmountPaid           decimal.NullDecimal `gorm:"column:amount_paid;type:numeric(14,2)"`
	TransactionReference *string             `gorm:"column:transaction_reference;uniqueIndex"`
	PaymentReference     *string             `gorm:"column:payment_reference;index"`
	PaidAt               *time.Time          `gorm:"column:paid_at"`
	PaymentFailureReason *string             `gorm:"column:payment_failure_reason"`
	Delivery             types.DeliveryInfo  `gorm:"column:delivery_info;type:jsonb;serializer:json"`
	IsBusinessSettled    bool                `gorm:"column:is_business_settled;not null;default:false"`
	SettlementAmount     decimal.NullDecimal `gorm:"column:settlement_amount;type:numeric(14,2)"`
	SettlementReference  *string             `gorm:"column:settlement_reference"`
	SettledAt            *time.Time          `gorm:"column:settled_at"`
	ConfirmationSentAt   *time.Time          `gorm:"column:confirmation_sent_at"`
	Items                []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime;index:idx_orders_payment_status_created,priority:2"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// RefundableAmount is what may still be refunded on the order.
func (o Order) RefundableAmount() decimal.Decimal {
	return o.Total.Sub(o.RefundedAmount)
}

// OrderItem is a price/name snapshot of one cart line taken at checkout.
type OrderItem struct {
	ID               uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	SKUID            uuid.UUID         `gorm:"column:sku_id;type:uuid;not null"`
	ReservationID    *uuid.UUID        `gorm:"column:reservation_id;type:uuid"`
	SKUCode          string            `gorm:"column:sku_code;not null"`
	Name             string            `gorm:"column:name;not null"`
	UnitPrice        decimal.Decimal   `gorm:"column:unit_price;type:numeric(14,2);not null"`
	Quantity         int               `gorm:"column:quantity;not null"`
	LineTotal        decimal.Decimal   `gorm:"column:line_total;type:numeric(14,2);not null"`
	Status           enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	ReturnedQuantity int               `gorm:"column:returned_quantity;not null;default:0"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// OrderStatusHistory is an append-only log of order and item transitions.
type OrderStatusHistory struct {
	ID         uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID     `gorm:"column:order_id;type:uuid;not null;index"`
	ItemID     *uuid.UUID    `gorm:"column:item_id;type:uuid"`
	Axis       string        `gorm:"column:axis;not null"`
	FromStatus string        `gorm:"column:from_status"`
	ToStatus   string        `gorm:"column:to_status;not null"`
	Actor      string        `gorm:"column:actor;not null"`
	Notes      *string       `gorm:"column:notes"`
	Metadata   types.JSONMap `gorm:"column:metadata;type:jsonb"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusHistory) TableName() string {
	return "order_status_history"
}

func (h *OrderStatusHistory) BeforeCreate(*gorm.DB) error {
	ensureID(&h.ID)
	return nil
}
