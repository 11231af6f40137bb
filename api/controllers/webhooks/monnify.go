package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	monnifywebhook "github.com/shopcore/commerce-backend/internal/webhooks/monnify"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/monnify"
)

const maxWebhookBody = 1 << 20

type callbackGuard interface {
	Claim(ctx context.Context, cb monnifywebhook.PaymentCallback) (bool, error)
	Forget(ctx context.Context, cb monnifywebhook.PaymentCallback) error
}

type receiptRecorder interface {
	Record(ctx context.Context, cb monnifywebhook.PaymentCallback, raw []byte, at time.Time) (*models.PaymentWebhookEvent, bool, error)
}

type jobSubmitter interface {
	Submit(ctx context.Context, job monnifywebhook.Job) error
}

type webhookMetrics interface {
	Observe(eventType, outcome string)
}

type MonnifyWebhookParams struct {
	Secret     string
	Guard      callbackGuard
	Receipts   receiptRecorder
	Dispatcher jobSubmitter
	Metrics    webhookMetrics
	Logger     *logger.Logger
	Clock      func() time.Time
}

type webhookAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MonnifyWebhook acknowledges every delivery with 200 and hands accepted
// callbacks to the dispatcher. Rejected payloads are logged and dropped. A
// redelivery whose receipt FAILED is dispatched again; other repeats are acked.
func MonnifyWebhook(params MonnifyWebhookParams) http.HandlerFunc {
	now := params.Clock
	if now == nil {
		now = time.Now
	}
	logg := params.Logger
	observe := func(eventType, outcome string) {
		if params.Metrics != nil {
			params.Metrics.Observe(eventType, outcome)
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			logg.Warn(ctx, "monnify webhook body unreadable")
			writeAck(w, "Webhook received")
			return
		}

		if params.Secret == "" {
			logg.Warn(ctx, "monnify webhook secret not configured; skipping signature check")
		} else if !monnify.VerifySignature(raw, r.Header.Get(monnify.SignatureHeader), params.Secret) {
			logg.Warn(ctx, "monnify webhook signature rejected")
			observe("unknown", "invalid_signature")
			writeAck(w, "Webhook received")
			return
		}

		cb, err := monnifywebhook.Normalize(raw)
		if err != nil {
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "monnify webhook payload rejected")
			observe("unknown", "malformed")
			writeAck(w, "Webhook received")
			return
		}
		ctx = logg.WithPaymentEvent(ctx, cb.TransactionReference, cb.EventType)

		claimed, err := params.Guard.Claim(ctx, cb)
		if err != nil {
			// the receipt's unique key still dedupes when redis is down
			logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook idempotency guard unavailable")
			claimed = true
		}
		if !claimed {
			observe(cb.EventType, "duplicate")
			writeAck(w, "Webhook already processed")
			return
		}

		receipt, created, err := params.Receipts.Record(ctx, cb, raw, now().UTC())
		if err != nil {
			logg.Error(ctx, "persist webhook receipt", err)
			if forgetErr := params.Guard.Forget(ctx, cb); forgetErr != nil {
				logg.Warn(ctx, "release webhook claim failed")
			}
			writeAck(w, "Webhook received")
			return
		}
		if !created && receipt.Status != enums.WebhookEventFailed {
			observe(cb.EventType, "duplicate")
			writeAck(w, "Webhook already processed")
			return
		}
		if !created {
			// provider retry of a receipt whose processing failed
			observe(cb.EventType, "redelivered")
		}

		if err := params.Dispatcher.Submit(ctx, monnifywebhook.Job{ReceiptID: receipt.ID, Callback: cb}); err != nil {
			logg.Warn(logg.WithField(ctx, "receipt_id", receipt.ID.String()), "webhook not queued; left for replay")
		}
		writeAck(w, "Webhook received")
	}
}

func writeAck(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(webhookAck{Success: true, Message: message})
}
