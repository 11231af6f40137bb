package monnifywebhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/monnify"
	"go.uber.org/multierr"
)

const (
	sourceWebhook = "webhook"

	metaOrderID        = "order_id"
	metaOrderReference = "order_reference"

	// DefaultMaxReplayAttempts bounds how often the sweep retries a FAILED receipt.
	DefaultMaxReplayAttempts = 5
)

type orderFinder interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	FindByReference(ctx context.Context, ref string) (*models.Order, error)
}

type paymentApplier interface {
	Apply(ctx context.Context, order *models.Order, txn *monnify.Transaction, source string) (*models.Order, payments.Outcome, error)
}

type receiptStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentWebhookEvent, error)
	Finish(ctx context.Context, id uuid.UUID, status enums.WebhookEventStatus, cause error, at time.Time) error
	ListUnfinished(ctx context.Context, before time.Time, maxAttempts, limit int) ([]models.PaymentWebhookEvent, error)
}

type claimForgetter interface {
	Forget(ctx context.Context, cb PaymentCallback) error
}

type outcomeMetrics interface {
	Observe(eventType, outcome string)
}

// Result is what processing decided for one callback.
type Result struct {
	Status  enums.WebhookEventStatus `json:"status"`
	OrderID *uuid.UUID               `json:"order_id,omitempty"`
	Reason  string                   `json:"reason,omitempty"`
}

type ReconcilerParams struct {
	Orders   orderFinder
	Payments paymentApplier
	Receipts receiptStore
	Guard    claimForgetter
	Metrics  outcomeMetrics
	Logger   *logger.Logger
	Clock    func() time.Time

	MaxReplayAttempts int
}

// Reconciler applies normalized payment callbacks to orders.
type Reconciler struct {
	orders   orderFinder
	payments paymentApplier
	receipts receiptStore
	guard    claimForgetter
	metrics  outcomeMetrics
	logg     *logger.Logger
	now      func() time.Time

	maxAttempts int
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	switch {
	case params.Orders == nil:
		return nil, errors.New("order finder required")
	case params.Payments == nil:
		return nil, errors.New("payment applier required")
	case params.Receipts == nil:
		return nil, errors.New("receipt store required")
	case params.Logger == nil:
		return nil, errors.New("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := params.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	maxAttempts := params.MaxReplayAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxReplayAttempts
	}
	return &Reconciler{
		orders:      params.Orders,
		payments:    params.Payments,
		receipts:    params.Receipts,
		guard:       params.Guard,
		metrics:     metrics,
		logg:        params.Logger,
		now:         clock,
		maxAttempts: maxAttempts,
	}, nil
}

// Process locates the order and applies the callback. Callbacks that match
// no order, or that repeat a state the order already holds, are ignored.
func (r *Reconciler) Process(ctx context.Context, cb PaymentCallback) (Result, error) {
	ctx = r.logg.WithPaymentEvent(ctx, cb.TransactionReference, cb.EventType)

	order, err := r.locate(ctx, cb)
	if err != nil {
		return Result{Status: enums.WebhookEventFailed}, err
	}
	if order == nil {
		r.logg.Warn(ctx, "payment callback matches no order")
		return Result{Status: enums.WebhookEventIgnored, Reason: "order not found"}, nil
	}
	orderID := order.ID
	ctx = r.logg.WithOrderID(ctx, orderID.String())

	outcome := payments.OutcomeFor(cb.PaymentStatus)
	superseded := order.TransactionReference != nil && *order.TransactionReference != cb.TransactionReference
	if reason, done := alreadySettled(order, outcome); done {
		if superseded && outcome == payments.OutcomePaid {
			r.logg.Error(ctx, "second payment captured for a settled order", pkgerrors.New(pkgerrors.CodeConflict, "duplicate capture").
				WithDetails(map[string]any{"order_transaction_reference": *order.TransactionReference}).
				WithAlert())
		}
		return Result{Status: enums.WebhookEventIgnored, OrderID: &orderID, Reason: reason}, nil
	}
	if superseded && outcome != payments.OutcomePaid {
		return Result{Status: enums.WebhookEventIgnored, OrderID: &orderID, Reason: "superseded payment attempt"}, nil
	}
	if outcome == payments.OutcomePending {
		return Result{Status: enums.WebhookEventIgnored, OrderID: &orderID, Reason: "payment still pending"}, nil
	}

	if _, _, err := r.payments.Apply(ctx, order, cb.Transaction(), sourceWebhook); err != nil {
		return Result{Status: enums.WebhookEventFailed, OrderID: &orderID}, err
	}
	r.logg.Info(ctx, "payment callback applied")
	return Result{Status: enums.WebhookEventProcessed, OrderID: &orderID}, nil
}

// Handle processes a persisted receipt and stamps its outcome. A failed
// callback also releases its redis claim; the provider's retry then reaches
// the receipt table, which hands a FAILED receipt back to the dispatcher.
func (r *Reconciler) Handle(ctx context.Context, receiptID uuid.UUID, cb PaymentCallback) error {
	result, err := r.Process(ctx, cb)
	outcome := string(result.Status)
	if err != nil {
		ctx = r.logg.WithPaymentEvent(ctx, cb.TransactionReference, cb.EventType)
		if pkgerrors.ShouldAlert(err) {
			r.logg.Error(ctx, "payment callback needs attention", err)
		} else {
			r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "payment callback failed")
		}
		if r.guard != nil {
			err = multierr.Append(err, r.guard.Forget(ctx, cb))
		}
	}
	r.metrics.Observe(cb.EventType, outcome)
	return multierr.Append(err, r.receipts.Finish(ctx, receiptID, result.Status, err, r.now()))
}

// Replay re-runs a stored receipt, e.g. from the admin dashboard.
func (r *Reconciler) Replay(ctx context.Context, receiptID uuid.UUID) (Result, error) {
	receipt, err := r.receipts.FindByID(ctx, receiptID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load webhook receipt")
	}
	if receipt == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "webhook receipt not found")
	}
	cb, err := Normalize(receipt.Payload)
	if err != nil {
		return Result{}, err
	}
	result, err := r.Process(ctx, cb)
	if finishErr := r.receipts.Finish(ctx, receipt.ID, result.Status, err, r.now()); finishErr != nil {
		err = multierr.Append(err, finishErr)
	}
	return result, err
}

// ReplayStale re-runs receipts that never finished, oldest first. FAILED
// receipts stop being swept once they run out of attempts or are flagged for
// an operator; the admin replay still reaches them.
func (r *Reconciler) ReplayStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	rows, err := r.receipts.ListUnfinished(ctx, r.now().Add(-olderThan), r.maxAttempts, limit)
	if err != nil {
		return 0, err
	}
	var errs error
	replayed := 0
	for _, row := range rows {
		if _, err := r.Replay(ctx, row.ID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		replayed++
	}
	return replayed, errs
}

func (r *Reconciler) locate(ctx context.Context, cb PaymentCallback) (*models.Order, error) {
	lookups := []struct {
		ref  string
		find func(context.Context, string) (*models.Order, error)
	}{
		{cb.TransactionReference, r.orders.FindByTransactionReference},
		{cb.PaymentReference, r.orders.FindByPaymentReference},
		{cb.PaymentReference, r.orders.FindByReference},
	}
	for _, lookup := range lookups {
		if lookup.ref == "" {
			continue
		}
		order, err := lookup.find(ctx, lookup.ref)
		if err == nil {
			return order, nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
	}
	return r.locateByMetadata(ctx, cb)
}

// locateByMetadata finds the order of a superseded attempt, whose references
// were overwritten by a later Initialize, through the metadata echoed back by
// the gateway. The order reference must agree when both are present.
func (r *Reconciler) locateByMetadata(ctx context.Context, cb PaymentCallback) (*models.Order, error) {
	orderID, err := uuid.Parse(cb.Metadata[metaOrderID])
	if err != nil {
		return nil, nil
	}
	order, err := r.orders.Get(ctx, orderID)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ref := cb.Metadata[metaOrderReference]; ref != "" && ref != order.OrderReference {
		r.logg.Warn(r.logg.WithField(ctx, "order_reference", ref), "payment callback metadata does not match order")
		return nil, nil
	}
	return order, nil
}

// alreadySettled reports whether the order already reflects the callback.
func alreadySettled(order *models.Order, outcome payments.Outcome) (string, bool) {
	switch order.PaymentStatus {
	case enums.PaymentStatusPaid, enums.PaymentStatusRefunded:
		if outcome == payments.OutcomePaid {
			return "already paid", true
		}
		if outcome == payments.OutcomeFailed {
			return "payment already settled", true
		}
	case enums.PaymentStatusFailed:
		if outcome == payments.OutcomeFailed {
			return "already failed", true
		}
	}
	return "", false
}

type noopMetrics struct{}

func (noopMetrics) Observe(string, string) {}
