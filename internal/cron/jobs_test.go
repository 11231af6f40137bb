package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/cart"
	"github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeExpirer struct {
	now    time.Time
	limit  int
	result reservations.ExpireResult
	err    error
}

func (f *fakeExpirer) ExpireStale(ctx context.Context, now time.Time, limit int) (reservations.ExpireResult, error) {
	f.now, f.limit = now, limit
	return f.result, f.err
}

func TestReservationExpiryJobPassesClockAndBatch(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	holds := &fakeExpirer{result: reservations.ExpireResult{Scanned: 3, Expired: 3}}
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger:       quietLogger(),
		Reservations: holds,
		BatchSize:    25,
		Clock:        func() time.Time { return now },
	})
	require.NoError(t, err)
	require.Equal(t, "reservation-expiry", job.Name())

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, now, holds.now)
	require.Equal(t, 25, holds.limit)

	holds.err = errors.New("one row failed")
	require.Error(t, job.Run(context.Background()))
}

type fakeSweeper struct {
	calls int
	err   error
}

func (f *fakeSweeper) Sweep(ctx context.Context, now time.Time) (cart.SweepResult, error) {
	f.calls++
	return cart.SweepResult{Identified: 2, Reminded: 1}, f.err
}

func TestCartAbandonmentJobWrapsSweepError(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("detect failed")}
	job, err := NewCartAbandonmentJob(CartAbandonmentJobParams{Logger: quietLogger(), Abandonment: sweeper})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.ErrorContains(t, err, "detect failed")
	require.Equal(t, 1, sweeper.calls)
}

type fakePendingOrders struct {
	olderThan time.Duration
	orders    []models.Order
}

func (f *fakePendingOrders) ListPendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	f.olderThan = olderThan
	return f.orders, nil
}

type fakeVerifier struct {
	results map[string]error
	seen    []string
}

func (f *fakeVerifier) Verify(ctx context.Context, ref string) (*payments.VerifyResult, error) {
	f.seen = append(f.seen, ref)
	if err := f.results[ref]; err != nil {
		return nil, err
	}
	return &payments.VerifyResult{Outcome: payments.OutcomePaid}, nil
}

type fakeReplayer struct{ calls int }

func (f *fakeReplayer) ReplayStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.calls++
	return 1, nil
}

func TestPaymentReconcileJobSkipsTimeoutsAndMissingReferences(t *testing.T) {
	ref := func(s string) *string { return &s }
	lister := &fakePendingOrders{orders: []models.Order{
		{ID: uuid.New(), TransactionReference: ref("MNFY|1")},
		{ID: uuid.New()},
		{ID: uuid.New(), TransactionReference: ref("MNFY|2")},
		{ID: uuid.New(), TransactionReference: ref("MNFY|3")},
	}}
	verifier := &fakeVerifier{results: map[string]error{
		"MNFY|2": pkgerrors.New(pkgerrors.CodeGatewayTimeout, "gateway timed out"),
	}}
	replayer := &fakeReplayer{}
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:   quietLogger(),
		Orders:   lister,
		Payments: verifier,
		Webhooks: replayer,
		StaleAge: 45 * time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, []string{"MNFY|1", "MNFY|2", "MNFY|3"}, verifier.seen)
	require.Equal(t, 45*time.Minute, lister.olderThan)
	require.Equal(t, 1, replayer.calls)
}

func TestPaymentReconcileJobReportsOtherFailures(t *testing.T) {
	ref := "MNFY|9"
	lister := &fakePendingOrders{orders: []models.Order{{ID: uuid.New(), TransactionReference: &ref}}}
	verifier := &fakeVerifier{results: map[string]error{
		ref: pkgerrors.New(pkgerrors.CodeInternal, "db down"),
	}}
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{Logger: quietLogger(), Orders: lister, Payments: verifier})
	require.NoError(t, err)
	require.Error(t, job.Run(context.Background()))
}
