package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/shopcore/commerce-backend/pkg/enums"
)

// OrderCreatedEvent is emitted once checkout has produced an order.
type OrderCreatedEvent struct {
	OrderID        uuid.UUID           `json:"order_id"`
	OrderReference string              `json:"order_reference"`
	BusinessID     uuid.UUID           `json:"business_id"`
	CustomerID     uuid.UUID           `json:"customer_id"`
	Total          decimal.Decimal     `json:"total"`
	Currency       string              `json:"currency"`
	PaymentMethod  enums.PaymentMethod `json:"payment_method"`
	ItemCount      int                 `json:"item_count"`
}

// OrderStatusChangedEvent reports a fulfillment transition on an order or one of its items.
type OrderStatusChangedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	OrderReference string            `json:"order_reference"`
	BusinessID     uuid.UUID         `json:"business_id"`
	ItemID         *uuid.UUID        `json:"item_id,omitempty"`
	From           enums.OrderStatus `json:"from"`
	To             enums.OrderStatus `json:"to"`
	Actor          string            `json:"actor"`
}

// OrderPaidEvent is emitted on the real PENDING/FAILED -> PAID transition.
type OrderPaidEvent struct {
	OrderID              uuid.UUID       `json:"order_id"`
	OrderReference       string          `json:"order_reference"`
	BusinessID           uuid.UUID       `json:"business_id"`
	TransactionReference string          `json:"transaction_reference"`
	AmountPaid           decimal.Decimal `json:"amount_paid"`
	Total                decimal.Decimal `json:"total"`
	PaidAt               time.Time       `json:"paid_at"`
	Source               string          `json:"source"`
}

// PaymentFailedEvent is emitted when a pending payment attempt fails.
type PaymentFailedEvent struct {
	OrderID              uuid.UUID `json:"order_id"`
	OrderReference       string    `json:"order_reference"`
	TransactionReference string    `json:"transaction_reference,omitempty"`
	Reason               string    `json:"reason"`
	Source               string    `json:"source"`
}

// PayoutDestination is the bank account a settlement should be paid into.
type PayoutDestination struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// SettlementRecordedEvent is the payout instruction for the external payout service.
type SettlementRecordedEvent struct {
	SettlementID uuid.UUID         `json:"settlement_id"`
	OrderID      uuid.UUID         `json:"order_id"`
	BusinessID   uuid.UUID         `json:"business_id"`
	Reference    string            `json:"reference"`
	Amount       decimal.Decimal   `json:"amount"`
	PlatformFee  decimal.Decimal   `json:"platform_fee"`
	Currency     string            `json:"currency"`
	Destination  PayoutDestination `json:"destination"`
}

// RefundTransactionSummary describes one money movement of a processed refund.
type RefundTransactionSummary struct {
	Side   enums.RefundSide              `json:"side"`
	Amount decimal.Decimal               `json:"amount"`
	Status enums.RefundTransactionStatus `json:"status"`
}

// RefundProcessedEvent is emitted after a refund reached a final status.
type RefundProcessedEvent struct {
	RefundID        uuid.UUID                  `json:"refund_id"`
	OrderID         uuid.UUID                  `json:"order_id"`
	RefundReference string                     `json:"refund_reference"`
	Status          enums.RefundStatus         `json:"status"`
	AmountRequested decimal.Decimal            `json:"amount_requested"`
	AmountRefunded  decimal.Decimal            `json:"amount_refunded"`
	Transactions    []RefundTransactionSummary `json:"transactions"`
}

// InventoryLowStockEvent is emitted when available stock falls to the alert threshold.
type InventoryLowStockEvent struct {
	SKUID      uuid.UUID `json:"sku_id"`
	BusinessID uuid.UUID `json:"business_id"`
	SKUCode    string    `json:"sku_code"`
	Available  int       `json:"available"`
	Threshold  int       `json:"threshold"`
}

// NotificationRequestedEvent asks the notification service to deliver one message.
type NotificationRequestedEvent struct {
	Type      enums.NotificationType `json:"type"`
	Recipient string                 `json:"recipient,omitempty"`
	OrderID   *uuid.UUID             `json:"order_id,omitempty"`
	CartID    *uuid.UUID             `json:"cart_id,omitempty"`
	SKUID     *uuid.UUID             `json:"sku_id,omitempty"`
	Stage     int                    `json:"stage,omitempty"`
	Data      map[string]any         `json:"data,omitempty"`
}
