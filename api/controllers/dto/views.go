package dto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/types"
	"github.com/shopspring/decimal"
)

type CartItem struct {
	ID            uuid.UUID       `json:"id"`
	SKUID         uuid.UUID       `json:"sku_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	LineTotal     decimal.Decimal `json:"line_total"`
	ReservationID *uuid.UUID      `json:"reservation_id,omitempty"`
}

type Cart struct {
	ID               uuid.UUID        `json:"id"`
	BusinessID       uuid.UUID        `json:"business_id"`
	CustomerID       uuid.UUID        `json:"customer_id"`
	Status           enums.CartStatus `json:"status"`
	Currency         string           `json:"currency"`
	Subtotal         decimal.Decimal  `json:"subtotal"`
	Items            []CartItem       `json:"items"`
	LastActivityAt   time.Time        `json:"last_activity_at"`
	ConvertedOrderID *uuid.UUID       `json:"converted_order_id,omitempty"`
}

func NewCart(c *models.Cart) Cart {
	items := make([]CartItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, CartItem{
			ID:            item.ID,
			SKUID:         item.SKUID,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			LineTotal:     item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))),
			ReservationID: item.ReservationID,
		})
	}
	return Cart{
		ID:               c.ID,
		BusinessID:       c.BusinessID,
		CustomerID:       c.CustomerID,
		Status:           c.Status,
		Currency:         c.Currency,
		Subtotal:         c.Subtotal,
		Items:            items,
		LastActivityAt:   c.LastActivityAt,
		ConvertedOrderID: c.ConvertedOrderID,
	}
}

type OrderItem struct {
	ID               uuid.UUID         `json:"id"`
	SKUID            uuid.UUID         `json:"sku_id"`
	SKUCode          string            `json:"sku_code"`
	Name             string            `json:"name"`
	UnitPrice        decimal.Decimal   `json:"unit_price"`
	Quantity         int               `json:"quantity"`
	LineTotal        decimal.Decimal   `json:"line_total"`
	Status           enums.OrderStatus `json:"status"`
	ReturnedQuantity int               `json:"returned_quantity"`
}

type Order struct {
	ID                   uuid.UUID           `json:"id"`
	OrderReference       string              `json:"order_reference"`
	BusinessID           uuid.UUID           `json:"business_id"`
	CustomerID           uuid.UUID           `json:"customer_id"`
	CustomerEmail        string              `json:"customer_email"`
	CustomerName         string              `json:"customer_name,omitempty"`
	Status               enums.OrderStatus   `json:"status"`
	PaymentStatus        enums.PaymentStatus `json:"payment_status"`
	PaymentMethod        enums.PaymentMethod `json:"payment_method"`
	Currency             string              `json:"currency"`
	Subtotal             decimal.Decimal     `json:"subtotal"`
	ShippingFee          decimal.Decimal     `json:"shipping_fee"`
	Tax                  decimal.Decimal     `json:"tax"`
	Discount             decimal.Decimal     `json:"discount"`
	Total                decimal.Decimal     `json:"total"`
	RefundedAmount       decimal.Decimal     `json:"refunded_amount"`
	AmountPaid           *decimal.Decimal    `json:"amount_paid,omitempty"`
	TransactionReference *string             `json:"transaction_reference,omitempty"`
	PaymentReference     *string             `json:"payment_reference,omitempty"`
	PaidAt               *time.Time          `json:"paid_at,omitempty"`
	PaymentFailureReason *string             `json:"payment_failure_reason,omitempty"`
	Delivery             types.DeliveryInfo  `json:"delivery"`
	IsBusinessSettled    bool                `json:"is_business_settled"`
	SettlementAmount     *decimal.Decimal    `json:"settlement_amount,omitempty"`
	SettledAt            *time.Time          `json:"settled_at,omitempty"`
	Items                []OrderItem         `json:"items"`
	CreatedAt            time.Time           `json:"created_at"`
}

func NewOrder(o *models.Order) Order {
	items := make([]OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItem{
			ID:               item.ID,
			SKUID:            item.SKUID,
			SKUCode:          item.SKUCode,
			Name:             item.Name,
			UnitPrice:        item.UnitPrice,
			Quantity:         item.Quantity,
			LineTotal:        item.LineTotal,
			Status:           item.Status,
			ReturnedQuantity: item.ReturnedQuantity,
		})
	}
	return Order{
		ID:                   o.ID,
		OrderReference:       o.OrderReference,
		BusinessID:           o.BusinessID,
		CustomerID:           o.CustomerID,
		CustomerEmail:        o.CustomerEmail,
		CustomerName:         o.CustomerName,
		Status:               o.Status,
		PaymentStatus:        o.PaymentStatus,
		PaymentMethod:        o.PaymentMethod,
		Currency:             o.Currency,
		Subtotal:             o.Subtotal,
		ShippingFee:          o.ShippingFee,
		Tax:                  o.Tax,
		Discount:             o.Discount,
		Total:                o.Total,
		RefundedAmount:       o.RefundedAmount,
		AmountPaid:           nullable(o.AmountPaid),
		TransactionReference: o.TransactionReference,
		PaymentReference:     o.PaymentReference,
		PaidAt:               o.PaidAt,
		PaymentFailureReason: o.PaymentFailureReason,
		Delivery:             o.Delivery,
		IsBusinessSettled:    o.IsBusinessSettled,
		SettlementAmount:     nullable(o.SettlementAmount),
		SettledAt:            o.SettledAt,
		Items:                items,
		CreatedAt:            o.CreatedAt,
	}
}

func nullable(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}

type SKU struct {
	ID                uuid.UUID       `json:"id"`
	BusinessID        uuid.UUID       `json:"business_id"`
	SKUCode           string          `json:"sku_code"`
	Name              string          `json:"name"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	QuantityOnHand    int             `json:"quantity_on_hand"`
	QuantityReserved  int             `json:"quantity_reserved"`
	Available         int             `json:"available"`
	LowStockThreshold int             `json:"low_stock_threshold"`
	LedgerSequence    int64           `json:"ledger_sequence"`
}

func NewSKU(u *models.InventoryUnit) SKU {
	return SKU{
		ID:                u.ID,
		BusinessID:        u.BusinessID,
		SKUCode:           u.SKUCode,
		Name:              u.Name,
		UnitPrice:         u.UnitPrice,
		QuantityOnHand:    u.QuantityOnHand,
		QuantityReserved:  u.QuantityReserved,
		Available:         u.Available(),
		LowStockThreshold: u.LowStockThreshold,
		LedgerSequence:    u.LedgerSequence,
	}
}

type LedgerEntry struct {
	ID             uuid.UUID             `json:"id"`
	Sequence       int64                 `json:"sequence"`
	Reason         enums.InventoryReason `json:"reason"`
	Delta          int                   `json:"delta"`
	ReservedDelta  int                   `json:"reserved_delta"`
	QuantityBefore int                   `json:"quantity_before"`
	QuantityAfter  int                   `json:"quantity_after"`
	ReservedBefore int                   `json:"reserved_before"`
	ReservedAfter  int                   `json:"reserved_after"`
	RelatedOrderID *uuid.UUID            `json:"related_order_id,omitempty"`
	ReservationID  *uuid.UUID            `json:"reservation_id,omitempty"`
	Actor          string                `json:"actor"`
	Note           *string               `json:"note,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

func NewLedgerEntries(entries []models.InventoryLedgerEntry) []LedgerEntry {
	out := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntry{
			ID:             e.ID,
			Sequence:       e.Sequence,
			Reason:         e.Reason,
			Delta:          e.Delta,
			ReservedDelta:  e.ReservedDelta,
			QuantityBefore: e.QuantityBefore,
			QuantityAfter:  e.QuantityAfter,
			ReservedBefore: e.ReservedBefore,
			ReservedAfter:  e.ReservedAfter,
			RelatedOrderID: e.RelatedOrderID,
			ReservationID:  e.ReservationID,
			Actor:          e.Actor,
			Note:           e.Note,
			CreatedAt:      e.CreatedAt,
		})
	}
	return out
}

// Movement is the result of a restock or adjustment.
type Movement struct {
	SKU      SKU         `json:"sku"`
	Entry    LedgerEntry `json:"entry"`
	LowStock bool        `json:"low_stock"`
}

func NewMovement(unit models.InventoryUnit, entry models.InventoryLedgerEntry, lowStock bool) Movement {
	return Movement{
		SKU:      NewSKU(&unit),
		Entry:    NewLedgerEntries([]models.InventoryLedgerEntry{entry})[0],
		LowStock: lowStock,
	}
}

type RefundTransaction struct {
	ID                uuid.UUID                     `json:"id"`
	Side              enums.RefundSide              `json:"side"`
	Destination       enums.RefundMethod            `json:"destination"`
	Amount            decimal.Decimal               `json:"amount"`
	Status            enums.RefundTransactionStatus `json:"status"`
	ProviderReference *string                       `json:"provider_reference,omitempty"`
	Error             *string                       `json:"error,omitempty"`
}

type Refund struct {
	ID              uuid.UUID           `json:"id"`
	OrderID         uuid.UUID           `json:"order_id"`
	RefundReference string              `json:"refund_reference"`
	Type            enums.RefundType    `json:"type"`
	Method          enums.RefundMethod  `json:"method"`
	Reason          string              `json:"reason,omitempty"`
	Status          enums.RefundStatus  `json:"status"`
	AmountRequested decimal.Decimal     `json:"amount_requested"`
	AmountApproved  decimal.Decimal     `json:"amount_approved"`
	AmountRefunded  decimal.Decimal     `json:"amount_refunded"`
	ReturnItems     []models.ReturnItem `json:"return_items,omitempty"`
	RequestedBy     string              `json:"requested_by"`
	FailureReason   *string             `json:"failure_reason,omitempty"`
	ProcessedAt     *time.Time          `json:"processed_at,omitempty"`
	Transactions    []RefundTransaction `json:"transactions"`
	CreatedAt       time.Time           `json:"created_at"`
}

func NewRefund(r *models.Refund) Refund {
	txns := make([]RefundTransaction, 0, len(r.Transactions))
	for _, t := range r.Transactions {
		txns = append(txns, RefundTransaction{
			ID:                t.ID,
			Side:              t.Side,
			Destination:       t.Destination,
			Amount:            t.Amount,
			Status:            t.Status,
			ProviderReference: t.ProviderReference,
			Error:             t.Error,
		})
	}
	return Refund{
		ID:              r.ID,
		OrderID:         r.OrderID,
		RefundReference: r.RefundReference,
		Type:            r.Type,
		Method:          r.Method,
		Reason:          r.Reason,
		Status:          r.Status,
		AmountRequested: r.AmountRequested,
		AmountApproved:  r.AmountApproved,
		AmountRefunded:  r.AmountRefunded,
		ReturnItems:     r.ReturnItems,
		RequestedBy:     r.RequestedBy,
		FailureReason:   r.FailureReason,
		ProcessedAt:     r.ProcessedAt,
		Transactions:    txns,
		CreatedAt:       r.CreatedAt,
	}
}

type Settlement struct {
	ID           uuid.UUID       `json:"id"`
	OrderID      uuid.UUID       `json:"order_id"`
	BusinessID   uuid.UUID       `json:"business_id"`
	Reference    string          `json:"reference"`
	Amount       decimal.Decimal `json:"amount"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	SharePercent decimal.Decimal `json:"share_percent"`
	Actor        string          `json:"actor"`
	CreatedAt    time.Time       `json:"created_at"`
}

func NewSettlement(s *models.Settlement) Settlement {
	return Settlement{
		ID:           s.ID,
		OrderID:      s.OrderID,
		BusinessID:   s.BusinessID,
		Reference:    s.Reference,
		Amount:       s.Amount,
		PlatformFee:  s.PlatformFee,
		SharePercent: s.SharePercent,
		Actor:        s.Actor,
		CreatedAt:    s.CreatedAt,
	}
}

type DLQEntry struct {
	ID            uuid.UUID                  `json:"id"`
	EventID       uuid.UUID                  `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   uuid.UUID                  `json:"aggregate_id"`
	Payload       json.RawMessage            `json:"payload"`
	ErrorReason   enums.OutboxDLQErrorReason `json:"error_reason"`
	Replayable    bool                       `json:"replayable"`
	ErrorMessage  *string                    `json:"error_message,omitempty"`
	AttemptCount  int                        `json:"attempt_count"`
	FailedAt      time.Time                  `json:"failed_at"`
}

func NewDLQEntries(rows []models.OutboxDLQ) []DLQEntry {
	out := make([]DLQEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, DLQEntry{
			ID:            row.ID,
			EventID:       row.EventID,
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			AggregateID:   row.AggregateID,
			Payload:       row.Payload,
			ErrorReason:   row.ErrorReason,
			Replayable:    row.ErrorReason.Replayable(),
			ErrorMessage:  row.ErrorMessage,
			AttemptCount:  row.AttemptCount,
			FailedAt:      row.FailedAt,
		})
	}
	return out
}
