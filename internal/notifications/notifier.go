package notifications

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
)

// Notifier hands messages to the external notification service. Every send is
// fire-and-forget: failures are logged and never returned to the caller.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order models.Order)
	SendNewOrderAlert(ctx context.Context, order models.Order)
	SendLowStockAlert(ctx context.Context, unit models.InventoryUnit)
	SendRefundSuccess(ctx context.Context, order models.Order, refund models.Refund)
	SendRefundFailure(ctx context.Context, order models.Order, refund models.Refund)
	SendCartReminder(ctx context.Context, email string, cart models.Cart, stage int)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OutboxNotifier queues a notification_requested event per message in its own
// transaction. It must be called after the caller's transaction has committed.
type OutboxNotifier struct {
	tx     txRunner
	outbox outboxEmitter
	logg   *logger.Logger
}

// NewOutboxNotifier wires the notifier.
func NewOutboxNotifier(tx txRunner, emitter outboxEmitter, logg *logger.Logger) (*OutboxNotifier, error) {
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &OutboxNotifier{tx: tx, outbox: emitter, logg: logg}, nil
}

func (n *OutboxNotifier) SendOrderConfirmation(ctx context.Context, order models.Order) {
	orderID := order.ID
	n.enqueue(ctx, payloads.NotificationRequestedEvent{
		Type:      enums.NotificationOrderConfirmation,
		Recipient: order.CustomerEmail,
		OrderID:   &orderID,
		Data: map[string]any{
			"order_reference": order.OrderReference,
			"total":           order.Total.StringFixed(2),
			"currency":        order.Currency,
			"customer_name":   order.CustomerName,
		},
	})
}

func (n *OutboxNotifier) SendNewOrderAlert(ctx context.Context, order models.Order) {
	orderID := order.ID
	n.enqueue(ctx, payloads.NotificationRequestedEvent{
		Type:    enums.NotificationNewOrderAlert,
		OrderID: &orderID,
		Data: map[string]any{
			"business_id":     order.BusinessID.String(),
			"order_reference": order.OrderReference,
			"total":           order.Total.StringFixed(2),
			"item_count":      len(order.Items),
		},
	})
}

func (n *OutboxNotifier) SendLowStockAlert(ctx context.Context, unit models.InventoryUnit) {
	skuID := unit.ID
	n.enqueue(ctx, payloads.NotificationRequestedEvent{
		Type:  enums.NotificationLowStockAlert,
		SKUID: &skuID,
		Data: map[string]any{
			"business_id": unit.BusinessID.String(),
			"sku_code":    unit.SKUCode,
			"available":   unit.Available(),
			"threshold":   unit.LowStockThreshold,
		},
	})
}

func (n *OutboxNotifier) SendRefundSuccess(ctx context.Context, order models.Order, refund models.Refund) {
	n.sendRefund(ctx, enums.NotificationRefundSuccess, order, refund)
}

func (n *OutboxNotifier) SendRefundFailure(ctx context.Context, order models.Order, refund models.Refund) {
	n.sendRefund(ctx, enums.NotificationRefundFailure, order, refund)
}

func (n *OutboxNotifier) sendRefund(ctx context.Context, kind enums.NotificationType, order models.Order, refund models.Refund) {
	orderID := order.ID
	data := map[string]any{
		"order_reference":  order.OrderReference,
		"refund_reference": refund.RefundReference,
		"amount_requested": refund.AmountRequested.StringFixed(2),
		"amount_refunded":  refund.AmountRefunded.StringFixed(2),
		"status":           string(refund.Status),
	}
	if refund.FailureReason != nil {
		data["failure_reason"] = *refund.FailureReason
	}
	n.enqueue(ctx, payloads.NotificationRequestedEvent{
		Type:      kind,
		Recipient: order.CustomerEmail,
		OrderID:   &orderID,
		Data:      data,
	})
}

func (n *OutboxNotifier) SendCartReminder(ctx context.Context, email string, cart models.Cart, stage int) {
	cartID := cart.ID
	n.enqueue(ctx, payloads.NotificationRequestedEvent{
		Type:      enums.NotificationCartReminder,
		Recipient: email,
		CartID:    &cartID,
		Stage:     stage,
		Data: map[string]any{
			"subtotal":   cart.Subtotal.StringFixed(2),
			"currency":   cart.Currency,
			"item_count": len(cart.Items),
		},
	})
}

func (n *OutboxNotifier) enqueue(ctx context.Context, payload payloads.NotificationRequestedEvent) {
	logCtx := n.logg.WithField(ctx, "notification_type", string(payload.Type))
	err := n.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventNotificationRequested,
			AggregateType: enums.AggregateNotification,
			AggregateID:   uuid.New(),
			Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleSystem)},
			Data:          payload,
		})
	})
	if err != nil {
		n.logg.Error(logCtx, "failed to enqueue notification", fmt.Errorf("notification %s: %w", payload.Type, err))
	}
}
