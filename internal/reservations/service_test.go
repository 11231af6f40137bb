package reservations

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/pkg/db"
	"github.com/shopcore/commerce-backend/pkg/db/dbtest"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	stock   inventory.Service
	manager Manager
	now     time.Time
	client  *db.Client
	logg    *logger.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "reservations-test", Output: io.Discard})
	stock, err := inventory.NewService(inventory.ServiceParams{
		DB:         client,
		Repository: inventory.NewRepository(client.DB()),
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Logger:     logg,
	})
	require.NoError(t, err)

	f := &fixture{stock: stock, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), client: client, logg: logg}
	f.manager, err = NewManager(ManagerParams{
		DB:         client,
		Repository: NewRepository(client.DB()),
		Ledger:     stock,
		Logger:     logg,
		CartTTL:    15 * time.Minute,
		Clock:      func() time.Time { return f.now },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) sku(t *testing.T, stock int) uuid.UUID {
	t.Helper()
	unit, err := f.stock.CreateSKU(context.Background(), inventory.CreateSKUInput{
		BusinessID:   uuid.New(),
		SKUCode:      "SKU-" + uuid.NewString()[:8],
		Name:         "Shea butter",
		UnitPrice:    decimal.NewFromInt(250),
		InitialStock: stock,
	})
	require.NoError(t, err)
	return unit.ID
}

func (f *fixture) available(t *testing.T, skuID uuid.UUID) int {
	t.Helper()
	unit, err := f.stock.GetSKU(context.Background(), skuID)
	require.NoError(t, err)
	return unit.Available()
}

func (f *fixture) requireInvariant(t *testing.T, skuID uuid.UUID) {
	t.Helper()
	audit, err := f.manager.VerifySKU(context.Background(), skuID)
	require.NoError(t, err)
	require.True(t, audit.Consistent, "reserved=%d pending=%d", audit.QuantityReserved, audit.PendingSum)
}

func TestHoldForCartItemMergesQuantities(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 5)
	cartID := uuid.New()

	first, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuID, Quantity: 1})
	require.NoError(t, err)
	second, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuID, Quantity: 2})
	require.NoError(t, err)

	require.Equal(t, 3, second.Quantity)
	require.Equal(t, 2, f.available(t, skuID))

	old, err := f.manager.Get(ctx, nil, first.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ReservationStatusReleased, old.Status)
	require.Equal(t, ReasonMerged, *old.ReleaseReason)
	f.requireInvariant(t, skuID)

	replaced, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuID, Quantity: 1, Replace: true})
	require.NoError(t, err)
	require.Equal(t, 1, replaced.Quantity)
	require.Equal(t, 4, f.available(t, skuID))
	f.requireInvariant(t, skuID)
}

func TestHoldForCartItemInsufficientStockKeepsExistingHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 2)
	cartID := uuid.New()

	held, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuID, Quantity: 2})
	require.NoError(t, err)

	_, err = f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuID, Quantity: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))

	current, err := f.manager.Get(ctx, nil, held.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ReservationStatusPending, current.Status)
	f.requireInvariant(t, skuID)
}

func TestFulfillIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 5)
	held, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: uuid.New(), SKUID: skuID, Quantity: 2})
	require.NoError(t, err)

	orderID := uuid.New()
	mv, err := f.manager.Fulfill(ctx, nil, held.ID, orderID)
	require.NoError(t, err)
	require.NotNil(t, mv)
	require.Equal(t, 3, mv.Unit.QuantityOnHand)

	mv, err = f.manager.Fulfill(ctx, nil, held.ID, orderID)
	require.NoError(t, err)
	require.Nil(t, mv)

	unit, err := f.stock.GetSKU(ctx, skuID)
	require.NoError(t, err)
	require.Equal(t, 3, unit.QuantityOnHand)
	require.Equal(t, 0, unit.QuantityReserved)
	f.requireInvariant(t, skuID)
}

func TestReleaseResolutionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 5)
	held, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: uuid.New(), SKUID: skuID, Quantity: 2})
	require.NoError(t, err)

	released, err := f.manager.Release(ctx, nil, held.ID, ReasonRemoved)
	require.NoError(t, err)
	require.True(t, released)

	released, err = f.manager.Release(ctx, nil, held.ID, ReasonRemoved)
	require.NoError(t, err)
	require.False(t, released)
	require.Equal(t, 5, f.available(t, skuID))

	_, err = f.manager.Fulfill(ctx, nil, held.ID, uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	sold, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: uuid.New(), SKUID: skuID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.manager.Fulfill(ctx, nil, sold.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.manager.Release(ctx, nil, sold.ID, ReasonCancelled)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	f.requireInvariant(t, skuID)
}

func TestExpireStaleReleasesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 5)
	held, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: uuid.New(), SKUID: skuID, Quantity: 2})
	require.NoError(t, err)
	require.Equal(t, 3, f.available(t, skuID))

	result, err := f.manager.ExpireStale(ctx, f.now.Add(5*time.Minute), 100)
	require.NoError(t, err)
	require.Equal(t, 0, result.Scanned)

	result, err = f.manager.ExpireStale(ctx, f.now.Add(16*time.Minute), 100)
	require.NoError(t, err)
	require.Equal(t, ExpireResult{Scanned: 1, Expired: 1}, result)
	require.Equal(t, 5, f.available(t, skuID))

	current, err := f.manager.Get(ctx, nil, held.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ReservationStatusExpired, current.Status)
	require.NotNil(t, current.ResolvedAt)
	f.requireInvariant(t, skuID)
}

// listThenExtend extends a hold after the sweep has listed it, the way a
// checkout racing the expiry loop would.
type listThenExtend struct {
	Repository
	extend func()
}

func (r *listThenExtend) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	rows, err := r.Repository.ListExpired(ctx, now, limit)
	if r.extend != nil {
		r.extend()
		r.extend = nil
	}
	return rows, err
}

func TestExpireStaleSkipsHoldExtendedMidSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 5)
	held, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: uuid.New(), SKUID: skuID, Quantity: 2})
	require.NoError(t, err)

	sweepAt := f.now.Add(16 * time.Minute)
	repo := &listThenExtend{Repository: NewRepository(f.client.DB())}
	repo.extend = func() {
		_, err := f.manager.ExtendForCheckout(ctx, nil, held.ID, uuid.New(), sweepAt.Add(30*time.Minute))
		require.NoError(t, err)
	}
	sweeper, err := NewManager(ManagerParams{
		DB:         f.client,
		Repository: repo,
		Ledger:     f.stock,
		Logger:     f.logg,
		CartTTL:    15 * time.Minute,
		Clock:      func() time.Time { return sweepAt },
	})
	require.NoError(t, err)

	result, err := sweeper.ExpireStale(ctx, sweepAt, 100)
	require.NoError(t, err)
	require.Equal(t, ExpireResult{Scanned: 1, Skipped: 1}, result)

	current, err := f.manager.Get(ctx, nil, held.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ReservationStatusPending, current.Status)
	require.Equal(t, 3, f.available(t, skuID))
	f.requireInvariant(t, skuID)
}

func TestExtendForCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 5)
	held, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: uuid.New(), SKUID: skuID, Quantity: 1})
	require.NoError(t, err)

	orderID := uuid.New()
	_, err = f.manager.ExtendForCheckout(ctx, nil, held.ID, orderID, f.now.Add(10*time.Minute))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	extended, err := f.manager.ExtendForCheckout(ctx, nil, held.ID, orderID, f.now.Add(45*time.Minute))
	require.NoError(t, err)
	require.Equal(t, orderID, *extended.OrderID)

	result, err := f.manager.ExpireStale(ctx, f.now.Add(20*time.Minute), 100)
	require.NoError(t, err)
	require.Zero(t, result.Expired)

	f.now = f.now.Add(time.Hour)
	_, err = f.manager.ExtendForCheckout(ctx, nil, held.ID, orderID, f.now.Add(time.Hour))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestReleaseForCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuA := f.sku(t, 3)
	skuB := f.sku(t, 3)
	cartID := uuid.New()

	_, err := f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuA, Quantity: 1})
	require.NoError(t, err)
	_, err = f.manager.HoldForCartItem(ctx, nil, HoldInput{CartID: cartID, SKUID: skuB, Quantity: 2})
	require.NoError(t, err)

	count, err := f.manager.ReleaseForCart(ctx, nil, cartID, ReasonAbandoned)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, 3, f.available(t, skuA))
	require.Equal(t, 3, f.available(t, skuB))
}

func TestHoldForOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	skuID := f.sku(t, 2)

	_, err := f.manager.HoldForOrder(ctx, nil, OrderHoldInput{OrderID: uuid.New(), SKUID: skuID, Quantity: 1, ExpiresAt: f.now})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	held, err := f.manager.HoldForOrder(ctx, nil, OrderHoldInput{OrderID: uuid.New(), SKUID: skuID, Quantity: 2, ExpiresAt: f.now.Add(time.Hour)})
	require.NoError(t, err)
	require.Nil(t, held.CartID)
	require.Equal(t, 0, f.available(t, skuID))
}
