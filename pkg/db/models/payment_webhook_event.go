package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shopcore/commerce-backend/pkg/enums"
)

// PaymentWebhookEvent is the durable receipt of one gateway notification,
// unique per (transaction reference, event type).
type PaymentWebhookEvent struct {
	ID                   uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Provider             string                   `gorm:"column:provider;not null"`
	TransactionReference string                   `gorm:"column:transaction_reference;not null;uniqueIndex:idx_payment_webhook_events_key"`
	EventType            string                   `gorm:"column:event_type;not null;uniqueIndex:idx_payment_webhook_events_key"`
	PaymentReference     string                   `gorm:"column:payment_reference"`
	Status               enums.WebhookEventStatus `gorm:"column:status;type:text;not null;index"`
	Payload              json.RawMessage          `gorm:"column:payload;type:jsonb;not null"`
	Attempts             int                      `gorm:"column:attempts;not null;default:0"`
	LastError            *string                  `gorm:"column:last_error"`
	NeedsAttention       bool                     `gorm:"column:needs_attention;not null;default:false"`
	ReceivedAt           time.Time                `gorm:"column:received_at;not null"`
	ProcessedAt          *time.Time               `gorm:"column:processed_at"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *PaymentWebhookEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
