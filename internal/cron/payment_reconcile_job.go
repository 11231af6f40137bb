package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultReconcileAge   = 30 * time.Minute
	defaultReconcileBatch = 50
)

type pendingPaymentLister interface {
	ListPendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
}

type paymentVerifier interface {
	Verify(ctx context.Context, transactionReference string) (*payments.VerifyResult, error)
}

type webhookReplayer interface {
	ReplayStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type PaymentReconcileJobParams struct {
	Logger   *logger.Logger
	Orders   pendingPaymentLister
	Payments paymentVerifier
	// Webhooks replays gateway callbacks that were stored but never finished.
	Webhooks  webhookReplayer
	StaleAge  time.Duration
	BatchSize int
}

// NewPaymentReconcileJob polls the gateway for orders whose callback never
// arrived, and finishes callbacks a crashed worker left half done.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	age := params.StaleAge
	if age <= 0 {
		age = defaultReconcileAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		orders:   params.Orders,
		payments: params.Payments,
		webhooks: params.Webhooks,
		age:      age,
		batch:    batch,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	orders   pendingPaymentLister
	payments paymentVerifier
	webhooks webhookReplayer
	age      time.Duration
	batch    int
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	var errs error
	if j.webhooks != nil {
		replayed, err := j.webhooks.ReplayStale(ctx, j.age, j.batch)
		errs = multierr.Append(errs, err)
		if replayed > 0 {
			j.logg.Info(j.logg.WithField(ctx, "replayed", replayed), "stale webhook receipts replayed")
		}
	}

	pending, err := j.orders.ListPendingPayments(ctx, j.age, j.batch)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("list pending payments: %w", err))
	}
	counts := map[payments.Outcome]int{}
	skipped := 0
	for _, order := range pending {
		if order.TransactionReference == nil || *order.TransactionReference == "" {
			skipped++
			continue
		}
		orderCtx := j.logg.WithTransactionReference(j.logg.WithOrderID(ctx, order.ID.String()), *order.TransactionReference)
		result, err := j.payments.Verify(orderCtx, *order.TransactionReference)
		if pkgerrors.IsCode(err, pkgerrors.CodeGatewayTimeout) {
			// Retried next tick.
			skipped++
			continue
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("verify order %s: %w", order.ID, err))
			continue
		}
		counts[result.Outcome]++
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"paid":       counts[payments.OutcomePaid],
		"failed":     counts[payments.OutcomeFailed],
		"pending":    counts[payments.OutcomePending],
		"skipped":    skipped,
	}), "payment reconcile loop complete")
	return errs
}
