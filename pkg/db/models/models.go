package models

import "github.com/google/uuid"

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&InventoryUnit{},
		&InventoryLedgerEntry{},
		&StockReservation{},
		&Cart{},
		&CartItem{},
		&AbandonedCartTracker{},
		&Order{},
		&OrderItem{},
		&OrderStatusHistory{},
		&PaymentWebhookEvent{},
		&Settlement{},
		&Refund{},
		&RefundTransaction{},
		&LedgerEvent{},
		&OutboxEvent{},
		&OutboxDLQ{},
	}
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
