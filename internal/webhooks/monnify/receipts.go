package monnifywebhook

import (
	"context"
	"encoding/json"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	providerName    = "monnify"
	maxReceiptError = 1024
)

// Receipts stores one row per (transaction reference, event type) so every
// notification can be inspected and replayed.
type Receipts struct {
	db *gorm.DB
}

func NewReceipts(db *gorm.DB) *Receipts {
	return &Receipts{db: db}
}

// Record inserts the receipt in RECEIVED. An existing row for the same key is
// returned with created=false.
func (r *Receipts) Record(ctx context.Context, cb PaymentCallback, raw []byte, at time.Time) (*models.PaymentWebhookEvent, bool, error) {
	if !json.Valid(raw) {
		encoded, err := json.Marshal(cb)
		if err != nil {
			return nil, false, err
		}
		raw = encoded
	}
	row := &models.PaymentWebhookEvent{
		Provider:             providerName,
		TransactionReference: cb.TransactionReference,
		EventType:            cb.EventType,
		PaymentReference:     cb.PaymentReference,
		Status:               enums.WebhookEventReceived,
		Payload:              json.RawMessage(raw),
		ReceivedAt:           at.UTC(),
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return row, true, nil
	}
	existing, err := r.FindByKey(ctx, cb.TransactionReference, cb.EventType)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Receipts) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentWebhookEvent, error) {
	var row models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Receipts) FindByKey(ctx context.Context, transactionReference, eventType string) (*models.PaymentWebhookEvent, error) {
	var row models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).
		Where("transaction_reference = ? AND event_type = ?", transactionReference, eventType).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Finish stamps the processing outcome and counts the attempt. A failure that
// needs an operator is flagged so the replay sweep leaves it alone.
func (r *Receipts) Finish(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, cause error, at time.Time) error {
	updates := map[string]any{
		"status":          status,
		"attempts":        gorm.Expr("attempts + 1"),
		"processed_at":    at.UTC(),
		"last_error":      nil,
		"needs_attention": false,
	}
	if cause != nil {
		updates["last_error"] = truncateReceiptError(cause.Error())
		updates["needs_attention"] = pkgerrors.ShouldAlert(cause)
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListUnfinished returns receipts that arrived before the cutoff and are still
// RECEIVED, or FAILED with fewer than maxAttempts tries and no operator flag.
// RECEIVED rows come first so exhausted failures cannot crowd them out.
func (r *Receipts) ListUnfinished(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.PaymentWebhookEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.PaymentWebhookEvent
	err := r.db.WithContext(ctx).
		Where("received_at < ?", before.UTC()).
		Where(
			r.db.Where("status = ?", enums.WebhookEventReceived).
				Or("status = ? AND attempts < ? AND needs_attention = ?", enums.WebhookEventFailed, maxAttempts, false),
		).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "CASE WHEN status = ? THEN 0 ELSE 1 END, received_at ASC",
			Vars:               []any{enums.WebhookEventReceived},
			WithoutParentheses: true,
		}}).
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func truncateReceiptError(msg string) string {
	if len(msg) <= maxReceiptError {
		return msg
	}
	cut := maxReceiptError
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
