package monnifywebhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/pkg/db/dbtest"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/monnify"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeOrders struct {
	byID  map[uuid.UUID]*models.Order
	byTxn map[string]*models.Order
	byPay map[string]*models.Order
	byRef map[string]*models.Order
}

func lookup(m map[string]*models.Order, ref string) (*models.Order, error) {
	if order, ok := m[ref]; ok {
		return order, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (f *fakeOrders) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if order, ok := f.byID[id]; ok {
		return order, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (f *fakeOrders) FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error) {
	return lookup(f.byTxn, ref)
}

func (f *fakeOrders) FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	return lookup(f.byPay, ref)
}

func (f *fakeOrders) FindByReference(ctx context.Context, ref string) (*models.Order, error) {
	return lookup(f.byRef, ref)
}

type fakeApplier struct {
	mu      sync.Mutex
	applied []string
	err     error
}

func (a *fakeApplier) Apply(ctx context.Context, order *models.Order, txn *monnify.Transaction, source string) (*models.Order, payments.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, "", a.err
	}
	a.applied = append(a.applied, txn.TransactionReference)
	order.PaymentStatus = enums.PaymentStatusPaid
	return order, payments.OutcomeFor(txn.PaymentStatus), nil
}

type fakeStore struct {
	mu   sync.Mutex
	keys map[string]string
}

func newFakeStore() *fakeStore { return &fakeStore{keys: map[string]string{}} }

func (s *fakeStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *fakeStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false, nil
	}
	s.keys[key] = "1"
	return true, nil
}

func (s *fakeStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (s *fakeStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.keys, key)
	}
	return nil
}

type recordingMetrics struct {
	mu       sync.Mutex
	observed []string
}

func (m *recordingMetrics) Observe(eventType, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed = append(m.observed, eventType+"/"+outcome)
}

type fixture struct {
	orders   *fakeOrders
	applier  *fakeApplier
	receipts *Receipts
	guard    *IdempotencyGuard
	metrics  *recordingMetrics
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	guard, err := NewIdempotencyGuard(newFakeStore(), time.Hour)
	require.NoError(t, err)
	f := &fixture{
		orders:   &fakeOrders{byID: map[uuid.UUID]*models.Order{}, byTxn: map[string]*models.Order{}, byPay: map[string]*models.Order{}, byRef: map[string]*models.Order{}},
		applier:  &fakeApplier{},
		receipts: NewReceipts(client.DB()),
		guard:    guard,
		metrics:  &recordingMetrics{},
	}
	f.rec, err = NewReconciler(ReconcilerParams{
		Orders:   f.orders,
		Payments: f.applier,
		Receipts: f.receipts,
		Guard:    guard,
		Metrics:  f.metrics,
		Logger:   logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return f
}

func paidCallback(ref string) PaymentCallback {
	return PaymentCallback{
		EventType:            monnify.EventSuccessfulTransaction,
		TransactionReference: ref,
		PaymentReference:     "ORD-1",
		AmountPaid:           decimal.NewFromInt(1000),
		PaymentStatus:        monnify.StatusPaid,
	}
}

func pendingOrder() *models.Order {
	return &models.Order{
		ID:             uuid.New(),
		OrderReference: "ORD-1",
		PaymentStatus:  enums.PaymentStatusPending,
		Total:          decimal.NewFromInt(1000),
	}
}

func TestProcessUnknownOrderIsIgnored(t *testing.T) {
	f := newFixture(t)

	result, err := f.rec.Process(context.Background(), paidCallback("MNFY|unknown"))
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventIgnored, result.Status)
	require.Empty(t, f.applier.applied)
}

func TestProcessFallsBackToOrderReference(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder()
	f.orders.byRef["ORD-1"] = order

	result, err := f.rec.Process(context.Background(), paidCallback("MNFY|10"))
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventProcessed, result.Status)
	require.Equal(t, order.ID, *result.OrderID)
	require.Equal(t, []string{"MNFY|10"}, f.applier.applied)
}

// reattempted returns an order whose references point at a second
// Initialize, leaving "MNFY|first" findable only through callback metadata.
func (f *fixture) reattempted() (*models.Order, PaymentCallback) {
	order := pendingOrder()
	second, secondPay := "MNFY|second", "ORD-1-1772445600"
	order.TransactionReference = &second
	order.PaymentReference = &secondPay
	f.orders.byID[order.ID] = order
	f.orders.byTxn[second] = order
	f.orders.byPay[secondPay] = order

	cb := paidCallback("MNFY|first")
	cb.PaymentReference = "ORD-1-1772445000"
	cb.Metadata = map[string]string{"order_id": order.ID.String(), "order_reference": order.OrderReference}
	return order, cb
}

func TestProcessPaysSupersededAttempt(t *testing.T) {
	f := newFixture(t)
	order, cb := f.reattempted()

	result, err := f.rec.Process(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventProcessed, result.Status)
	require.Equal(t, order.ID, *result.OrderID)
	require.Equal(t, []string{"MNFY|first"}, f.applier.applied)
}

func TestProcessIgnoresFailureOfSupersededAttempt(t *testing.T) {
	f := newFixture(t)
	order, cb := f.reattempted()
	cb.EventType = monnify.EventFailedTransaction
	cb.PaymentStatus = monnify.StatusFailed

	result, err := f.rec.Process(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventIgnored, result.Status)
	require.Equal(t, "superseded payment attempt", result.Reason)
	require.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	require.Empty(t, f.applier.applied)
}

func TestProcessRejectsMismatchedMetadata(t *testing.T) {
	f := newFixture(t)
	_, cb := f.reattempted()
	cb.Metadata["order_reference"] = "ORD-OTHER"

	result, err := f.rec.Process(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventIgnored, result.Status)
	require.Equal(t, "order not found", result.Reason)
}

func TestDuplicatePaidCallbackIsNoop(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder()
	f.orders.byTxn["MNFY|11"] = order

	first, err := f.rec.Process(context.Background(), paidCallback("MNFY|11"))
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventProcessed, first.Status)

	second, err := f.rec.Process(context.Background(), paidCallback("MNFY|11"))
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventIgnored, second.Status)
	require.Len(t, f.applier.applied, 1)
}

func TestLateFailureAfterPaymentIsIgnored(t *testing.T) {
	f := newFixture(t)
	order := pendingOrder()
	order.PaymentStatus = enums.PaymentStatusPaid
	f.orders.byTxn["MNFY|12"] = order

	cb := paidCallback("MNFY|12")
	cb.EventType = monnify.EventFailedTransaction
	cb.PaymentStatus = monnify.StatusFailed
	result, err := f.rec.Process(context.Background(), cb)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventIgnored, result.Status)
	require.Empty(t, f.applier.applied)
}

func TestHandleRecordsOutcomeAndReleasesClaimOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := pendingOrder()
	f.orders.byTxn["MNFY|13"] = order
	f.applier.err = pkgerrors.New(pkgerrors.CodeInternal, "db down")

	cb := paidCallback("MNFY|13")
	claimed, err := f.guard.Claim(ctx, cb)
	require.NoError(t, err)
	require.True(t, claimed)
	receipt, created, err := f.receipts.Record(ctx, cb, []byte(`{"transactionReference":"MNFY|13","paymentStatus":"PAID","eventType":"SUCCESSFUL_TRANSACTION","amountPaid":1000}`), time.Now())
	require.NoError(t, err)
	require.True(t, created)

	require.Error(t, f.rec.Handle(ctx, receipt.ID, cb))
	stored, err := f.receipts.FindByID(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventFailed, stored.Status)
	require.Equal(t, 1, stored.Attempts)
	require.NotNil(t, stored.LastError)

	// The provider's retry must get through the guard again.
	claimed, err = f.guard.Claim(ctx, cb)
	require.NoError(t, err)
	require.True(t, claimed)

	f.applier.err = nil
	result, err := f.rec.Replay(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventProcessed, result.Status)
	stored, err = f.receipts.FindByID(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventProcessed, stored.Status)
	require.Equal(t, []string{"SUCCESSFUL_TRANSACTION/failed"}, f.metrics.observed)
}

func TestRecordIsUniquePerKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cb := paidCallback("MNFY|14")

	first, created, err := f.receipts.Record(ctx, cb, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.True(t, created)
	second, created, err := f.receipts.Record(ctx, cb, []byte(`{}`), time.Now())
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, second.ID)
}

func TestReplayStaleReachesReceivedBehindFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	for i := 0; i < 50; i++ {
		receipt, _, err := f.receipts.Record(ctx, paidCallback(fmt.Sprintf("MNFY|f%02d", i)), nil, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, f.receipts.Finish(ctx, receipt.ID, enums.WebhookEventFailed, errors.New("db down"), base))
	}
	fresh := paidCallback("MNFY|fresh")
	f.orders.byTxn[fresh.TransactionReference] = pendingOrder()
	received, _, err := f.receipts.Record(ctx, fresh, nil, base.Add(time.Hour))
	require.NoError(t, err)

	rows, err := f.receipts.ListUnfinished(ctx, time.Now().Add(-30*time.Minute), DefaultMaxReplayAttempts, 50)
	require.NoError(t, err)
	require.Len(t, rows, 50)
	require.Equal(t, received.ID, rows[0].ID)

	_, err = f.rec.ReplayStale(ctx, 30*time.Minute, 50)
	require.NoError(t, err)
	require.Equal(t, []string{"MNFY|fresh"}, f.applier.applied)
	stored, err := f.receipts.FindByID(ctx, received.ID)
	require.NoError(t, err)
	require.Equal(t, enums.WebhookEventProcessed, stored.Status)
}

func TestListUnfinishedSkipsExhaustedAndFlaggedFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Now().Add(-time.Hour)
	record := func(ref string) uuid.UUID {
		receipt, _, err := f.receipts.Record(ctx, paidCallback(ref), nil, at)
		require.NoError(t, err)
		return receipt.ID
	}

	retryable := record("MNFY|retry")
	require.NoError(t, f.receipts.Finish(ctx, retryable, enums.WebhookEventFailed, errors.New("db down"), at))

	exhausted := record("MNFY|exhausted")
	for i := 0; i < 3; i++ {
		require.NoError(t, f.receipts.Finish(ctx, exhausted, enums.WebhookEventFailed, errors.New("db down"), at))
	}

	flagged := record("MNFY|flagged")
	cause := pkgerrors.New(pkgerrors.CodeConflict, "stock gone after payment").WithAlert()
	require.NoError(t, f.receipts.Finish(ctx, flagged, enums.WebhookEventFailed, cause, at))
	stored, err := f.receipts.FindByID(ctx, flagged)
	require.NoError(t, err)
	require.True(t, stored.NeedsAttention)

	rows, err := f.receipts.ListUnfinished(ctx, time.Now(), 3, 50)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, retryable, rows[0].ID)
}

func TestFinishTruncatesLongErrorOnRuneBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt, _, err := f.receipts.Record(ctx, paidCallback("MNFY|long"), nil, time.Now())
	require.NoError(t, err)

	cause := errors.New("x" + strings.Repeat("₦", maxReceiptError))
	require.NoError(t, f.receipts.Finish(ctx, receipt.ID, enums.WebhookEventFailed, cause, time.Now()))

	stored, err := f.receipts.FindByID(ctx, receipt.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastError)
	require.LessOrEqual(t, len(*stored.LastError), maxReceiptError)
	require.True(t, utf8.ValidString(*stored.LastError))
	require.True(t, strings.HasPrefix(*stored.LastError, "x₦"))
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	handled := make(chan uuid.UUID, 8)
	handler := handlerFunc(func(ctx context.Context, id uuid.UUID, cb PaymentCallback) error {
		handled <- id
		return errors.New("ignored")
	})
	d, err := NewDispatcher(DispatcherParams{
		Handler:   handler,
		Workers:   2,
		QueueSize: 8,
		Logger:    logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard}),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(ctx, Job{ReceiptID: uuid.New(), Callback: paidCallback("MNFY|d")}))
	}
	// Request cancellation must not abort queued jobs.
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	require.NoError(t, d.Shutdown(shutdownCtx))
	require.Len(t, handled, 5)
	require.ErrorIs(t, d.Submit(context.Background(), Job{}), ErrDispatcherClosed)
}

type handlerFunc func(ctx context.Context, id uuid.UUID, cb PaymentCallback) error

func (f handlerFunc) Handle(ctx context.Context, id uuid.UUID, cb PaymentCallback) error {
	return f(ctx, id, cb)
}
