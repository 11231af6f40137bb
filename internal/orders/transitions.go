package orders

import (
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
)

// fulfillmentSequence is the only forward path an order or item may take,
// one step at a time.
var fulfillmentSequence = []enums.OrderStatus{
	enums.OrderStatusPending,
	enums.OrderStatusConfirmed,
	enums.OrderStatusProcessing,
	enums.OrderStatusShipped,
	enums.OrderStatusDelivered,
	enums.OrderStatusCompleted,
}

var cancellableFrom = map[enums.OrderStatus]bool{
	enums.OrderStatusPending:    true,
	enums.OrderStatusConfirmed:  true,
	enums.OrderStatusProcessing: true,
}

var returnableFrom = map[enums.OrderStatus]bool{
	enums.OrderStatusProcessing: true,
	enums.OrderStatusShipped:    true,
	enums.OrderStatusDelivered:  true,
}

// stage returns the position of status in the forward sequence, or -1.
func stage(status enums.OrderStatus) int {
	for i, candidate := range fulfillmentSequence {
		if candidate == status {
			return i
		}
	}
	return -1
}

// nextStatus returns the forward successor of status.
func nextStatus(status enums.OrderStatus) (enums.OrderStatus, bool) {
	i := stage(status)
	if i < 0 || i+1 >= len(fulfillmentSequence) {
		return "", false
	}
	return fulfillmentSequence[i+1], true
}

// requiresPayment reports whether reaching status needs a settled payment.
// Everything past CONFIRMED does, except for cash on delivery.
func requiresPayment(status enums.OrderStatus, method enums.PaymentMethod) bool {
	if method == enums.PaymentMethodCashOnDelivery {
		return false
	}
	return stage(status) > stage(enums.OrderStatusConfirmed)
}

// CheckTransition validates a fulfillment move. It reports false without an
// error when from and to are equal.
func CheckTransition(from, to enums.OrderStatus, payment enums.PaymentStatus, method enums.PaymentMethod) (bool, error) {
	if !to.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": string(to)})
	}
	if from == to {
		return false, nil
	}
	if from.IsTerminal() {
		return false, invalidTransition(from, to, "current status is final")
	}

	switch to {
	case enums.OrderStatusCancelled:
		if !cancellableFrom[from] {
			return false, invalidTransition(from, to, "orders can only be cancelled before shipment")
		}
		return true, nil
	case enums.OrderStatusReturned:
		if !returnableFrom[from] {
			return false, invalidTransition(from, to, "nothing has been handed over yet")
		}
		return true, nil
	}

	next, ok := nextStatus(from)
	if !ok || next != to {
		return false, invalidTransition(from, to, "status must advance one step at a time")
	}
	if requiresPayment(to, method) && payment != enums.PaymentStatusPaid {
		return false, invalidTransition(from, to, "payment has not been received")
	}
	return true, nil
}

func invalidTransition(from, to enums.OrderStatus, reason string) error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, "invalid status transition").
		WithDetails(map[string]any{
			"from":   string(from),
			"to":     string(to),
			"reason": reason,
		})
}
