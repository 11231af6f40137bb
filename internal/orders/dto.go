package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgpagination "github.com/shopcore/commerce-backend/pkg/pagination"
	"github.com/shopcore/commerce-backend/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	axisStatus  = "status"
	axisItem    = "item_status"
	axisPayment = "payment_status"

	actorSystem = "system"
)

// CreateOrderInput turns a cart into an order. ExpectedTotal, when present,
// must match the computed total exactly.
type CreateOrderInput struct {
	CartID        uuid.UUID
	ActorID       uuid.UUID
	CustomerName  string
	PaymentMethod enums.PaymentMethod
	Delivery      types.DeliveryInfo
	ShippingFee   decimal.Decimal
	Tax           decimal.Decimal
	Discount      decimal.Decimal
	ExpectedTotal *decimal.Decimal
}

type UpdateStatusInput struct {
	OrderID    uuid.UUID
	Status     enums.OrderStatus
	Actor      string
	BusinessID uuid.UUID
	Notes      *string
	Metadata   types.JSONMap
}

type UpdateItemStatusInput struct {
	OrderID    uuid.UUID
	ItemID     uuid.UUID
	Status     enums.OrderStatus
	Actor      string
	BusinessID uuid.UUID
	Notes      *string
	Metadata   types.JSONMap
}

// MarkPaidInput carries the gateway's view of a successful payment.
type MarkPaidInput struct {
	OrderID              uuid.UUID
	TransactionReference string
	PaymentReference     string
	AmountPaid           decimal.Decimal
	PaymentMethod        string
	PaidAt               time.Time
	Source               string
}

type MarkFailedInput struct {
	OrderID uuid.UUID
	Reason  string
	Source  string
}

type StuckOrder struct {
	ID                   uuid.UUID           `json:"id"`
	OrderReference       string              `json:"order_reference"`
	BusinessID           uuid.UUID           `json:"business_id"`
	Total                decimal.Decimal     `json:"total"`
	PaymentMethod        enums.PaymentMethod `json:"payment_method"`
	PaymentStatus        enums.PaymentStatus `json:"payment_status"`
	TransactionReference *string             `json:"transaction_reference,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	Age                  string              `json:"age"`
}

type StuckOrderList struct {
	Items      []StuckOrder `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type StuckParams struct {
	OlderThan time.Duration
	pkgpagination.Params
}

func toStuckOrder(o models.Order, now time.Time) StuckOrder {
	return StuckOrder{
		ID:                   o.ID,
		OrderReference:       o.OrderReference,
		BusinessID:           o.BusinessID,
		Total:                o.Total,
		PaymentMethod:        o.PaymentMethod,
		PaymentStatus:        o.PaymentStatus,
		TransactionReference: o.TransactionReference,
		CreatedAt:            o.CreatedAt,
		Age:                  now.Sub(o.CreatedAt).Truncate(time.Second).String(),
	}
}
