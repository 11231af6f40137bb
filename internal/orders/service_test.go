package orders

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/cart"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/ledger"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/db"
	"github.com/shopcore/commerce-backend/pkg/db/dbtest"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	pkgpagination "github.com/shopcore/commerce-backend/pkg/pagination"
	"github.com/shopcore/commerce-backend/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu            sync.Mutex
	confirmations []uuid.UUID
	alerts        []uuid.UUID
}

func (n *recordingNotifier) SendOrderConfirmation(ctx context.Context, order models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmations = append(n.confirmations, order.ID)
}

func (n *recordingNotifier) SendNewOrderAlert(ctx context.Context, order models.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, order.ID)
}

type harness struct {
	client     *db.Client
	stock      inventory.Service
	holds      reservations.Manager
	carts      cart.Service
	ledger     ledger.Service
	orders     Service
	notifier   *recordingNotifier
	now        time.Time
	businessID uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	h := &harness{
		client:     client,
		notifier:   &recordingNotifier{},
		now:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		businessID: uuid.New(),
	}
	clock := func() time.Time { return h.now }
	events := outbox.NewService(outbox.NewRepository(client.DB()), logg)

	var err error
	h.stock, err = inventory.NewService(inventory.ServiceParams{
		DB:         client,
		Repository: inventory.NewRepository(client.DB()),
		Outbox:     events,
		Logger:     logg,
	})
	require.NoError(t, err)
	h.holds, err = reservations.NewManager(reservations.ManagerParams{
		DB:         client,
		Repository: reservations.NewRepository(client.DB()),
		Ledger:     h.stock,
		Logger:     logg,
		CartTTL:    15 * time.Minute,
		Clock:      clock,
	})
	require.NoError(t, err)
	h.carts, err = cart.NewService(cart.ServiceParams{
		DB:           client,
		Carts:        cart.NewRepository(client.DB()),
		Trackers:     cart.NewTrackerRepository(client.DB()),
		SKUs:         h.stock,
		Reservations: h.holds,
		Logger:       logg,
		Clock:        clock,
	})
	require.NoError(t, err)
	h.ledger, err = ledger.NewService(ledger.NewRepository(client.DB()))
	require.NoError(t, err)
	h.orders, err = NewService(ServiceParams{
		DB:                client,
		Repository:        NewRepository(client.DB()),
		Carts:             h.carts,
		Stock:             h.stock,
		Reservations:      h.holds,
		Ledger:            h.ledger,
		Outbox:            events,
		Notifier:          h.notifier,
		Logger:            logg,
		CheckoutExtension: 30 * time.Minute,
		Clock:             clock,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) sku(t *testing.T, stock int, price int64) uuid.UUID {
	t.Helper()
	unit, err := h.stock.CreateSKU(context.Background(), inventory.CreateSKUInput{
		BusinessID:   h.businessID,
		SKUCode:      "SKU-" + uuid.NewString()[:8],
		Name:         "Ankara tote",
		UnitPrice:    decimal.NewFromInt(price),
		InitialStock: stock,
	})
	require.NoError(t, err)
	return unit.ID
}

func (h *harness) cartWith(t *testing.T, skuID uuid.UUID, qty int) *models.Cart {
	t.Helper()
	ctx := context.Background()
	c, err := h.carts.CreateCart(ctx, cart.CreateCartInput{
		BusinessID:    h.businessID,
		CustomerID:    uuid.New(),
		CustomerEmail: "tolu@example.com",
	})
	require.NoError(t, err)
	c, err = h.carts.AddItem(ctx, cart.ItemInput{CartID: c.ID, SKUID: skuID, Quantity: qty})
	require.NoError(t, err)
	return c
}

func (h *harness) checkout(t *testing.T, c *models.Cart, method enums.PaymentMethod) *models.Order {
	t.Helper()
	order, err := h.orders.Create(context.Background(), CreateOrderInput{
		CartID:        c.ID,
		ActorID:       c.CustomerID,
		CustomerName:  "Tolu Ade",
		PaymentMethod: method,
		Delivery:      delivery(),
	})
	require.NoError(t, err)
	return order
}

func (h *harness) available(t *testing.T, skuID uuid.UUID) (onHand, available int) {
	t.Helper()
	unit, err := h.stock.GetSKU(context.Background(), skuID)
	require.NoError(t, err)
	return unit.QuantityOnHand, unit.Available()
}

func delivery() types.DeliveryInfo {
	return types.DeliveryInfo{
		RecipientName: "Tolu Ade",
		Phone:         "+2348000000000",
		Line1:         "12 Admiralty Way",
		City:          "Lekki",
		State:         "Lagos",
		Country:       "NG",
	}
}

func paid(order *models.Order, ref string) MarkPaidInput {
	return MarkPaidInput{
		OrderID:              order.ID,
		TransactionReference: ref,
		AmountPaid:           order.Total,
		PaymentMethod:        "CARD",
		Source:               "webhook",
	}
}

func TestCheckoutAndPaymentHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	c := h.cartWith(t, skuID, 2)

	_, available := h.available(t, skuID)
	require.Equal(t, 3, available)

	order := h.checkout(t, c, enums.PaymentMethodCard)
	require.True(t, decimal.NewFromInt(1000).Equal(order.Total))
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Equal(t, enums.PaymentStatusPending, order.PaymentStatus)
	require.Len(t, order.Items, 1)
	require.Equal(t, []uuid.UUID{order.ID}, h.notifier.alerts)

	converted, err := h.carts.GetCart(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CartStatusConverted, converted.Status)

	order, err = h.orders.MarkPaid(ctx, paid(order, "MNFY|1001"))
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	require.Equal(t, enums.OrderStatusConfirmed, order.Status)
	require.Equal(t, enums.OrderStatusConfirmed, order.Items[0].Status)
	require.NotNil(t, order.ConfirmationSentAt)

	hold, err := h.holds.Get(ctx, nil, *order.Items[0].ReservationID)
	require.NoError(t, err)
	require.Equal(t, enums.ReservationStatusFulfilled, hold.Status)

	onHand, available := h.available(t, skuID)
	require.Equal(t, 3, onHand)
	require.Equal(t, 3, available)
	require.Equal(t, []uuid.UUID{order.ID}, h.notifier.confirmations)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCard)

	_, err := h.orders.MarkPaid(ctx, paid(order, "MNFY|2001"))
	require.NoError(t, err)
	again, err := h.orders.MarkPaid(ctx, paid(order, "MNFY|2001"))
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, again.PaymentStatus)

	require.Len(t, h.notifier.confirmations, 1)
	onHand, _ := h.available(t, skuID)
	require.Equal(t, 3, onHand)

	events, err := h.ledger.ListByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, enums.LedgerEventPaymentCollected, events[0].Type)

	var paidEvents int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderPaid, order.ID).
		Count(&paidEvents).Error)
	require.EqualValues(t, 1, paidEvents)
}

func TestMarkPaidRejectsUnderpayment(t *testing.T) {
	h := newHarness(t)
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCard)

	input := paid(order, "MNFY|3001")
	input.AmountPaid = decimal.NewFromInt(999)
	_, err := h.orders.MarkPaid(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.True(t, pkgerrors.ShouldAlert(err))

	reloaded, err := h.orders.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, reloaded.PaymentStatus)
}

func TestCreateRejectsMismatchedTotal(t *testing.T) {
	h := newHarness(t)
	skuID := h.sku(t, 5, 500)
	c := h.cartWith(t, skuID, 1)

	expected := decimal.NewFromInt(400)
	_, err := h.orders.Create(context.Background(), CreateOrderInput{
		CartID:        c.ID,
		PaymentMethod: enums.PaymentMethodCard,
		Delivery:      delivery(),
		ShippingFee:   decimal.NewFromInt(100),
		ExpectedTotal: &expected,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	reloaded, err := h.carts.GetCart(context.Background(), c.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CartStatusActive, reloaded.Status)
}

func TestCreateRejectsExpiredHold(t *testing.T) {
	h := newHarness(t)
	skuID := h.sku(t, 5, 500)
	c := h.cartWith(t, skuID, 1)

	h.now = h.now.Add(20 * time.Minute)
	_, err := h.orders.Create(context.Background(), CreateOrderInput{
		CartID:        c.ID,
		PaymentMethod: enums.PaymentMethodCard,
		Delivery:      delivery(),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateRejectsForeignCustomer(t *testing.T) {
	h := newHarness(t)
	skuID := h.sku(t, 5, 500)
	c := h.cartWith(t, skuID, 1)

	_, err := h.orders.Create(context.Background(), CreateOrderInput{
		CartID:        c.ID,
		ActorID:       uuid.New(),
		PaymentMethod: enums.PaymentMethodCard,
		Delivery:      delivery(),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestUnpaidOrderCannotAdvance(t *testing.T) {
	h := newHarness(t)
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 1), enums.PaymentMethodCard)

	_, err := h.orders.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID: order.ID,
		Status:  enums.OrderStatusShipped,
		Actor:   "merchant",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = h.orders.UpdateStatus(context.Background(), UpdateStatusInput{
		OrderID:    order.ID,
		Status:     enums.OrderStatusConfirmed,
		BusinessID: uuid.New(),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
}

func TestMarkFailedReleasesHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCard)

	failed, err := h.orders.MarkFailed(ctx, MarkFailedInput{OrderID: order.ID, Reason: "card declined", Source: "webhook"})
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusFailed, failed.PaymentStatus)
	require.Equal(t, "card declined", *failed.PaymentFailureReason)

	_, available := h.available(t, skuID)
	require.Equal(t, 5, available)

	// A repeated failure is a no-op.
	_, err = h.orders.MarkFailed(ctx, MarkFailedInput{OrderID: order.ID, Reason: "again"})
	require.NoError(t, err)

	// A late success re-acquires stock.
	order, err = h.orders.MarkPaid(ctx, paid(order, "MNFY|4001"))
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPaid, order.PaymentStatus)
	onHand, available := h.available(t, skuID)
	require.Equal(t, 3, onHand)
	require.Equal(t, 3, available)

	_, err = h.orders.MarkFailed(ctx, MarkFailedInput{OrderID: order.ID, Reason: "late"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestLatePaymentWithoutStockAlerts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 2, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCard)

	_, err := h.orders.MarkFailed(ctx, MarkFailedInput{OrderID: order.ID, Reason: "timeout"})
	require.NoError(t, err)
	h.cartWith(t, skuID, 2)

	_, err = h.orders.MarkPaid(ctx, paid(order, "MNFY|5001"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
	require.True(t, pkgerrors.ShouldAlert(err))
}

func TestReopenForPaymentTakesFreshHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCard)
	original := *order.Items[0].ReservationID

	_, err := h.orders.MarkFailed(ctx, MarkFailedInput{OrderID: order.ID, Reason: "declined"})
	require.NoError(t, err)

	reopened, err := h.orders.ReopenForPayment(ctx, order.ID, "customer")
	require.NoError(t, err)
	require.Equal(t, enums.PaymentStatusPending, reopened.PaymentStatus)
	require.NotEqual(t, original, *reopened.Items[0].ReservationID)

	_, available := h.available(t, skuID)
	require.Equal(t, 3, available)

	_, err = h.orders.ReopenForPayment(ctx, order.ID, "customer")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestCancelReturnsSoldStock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCard)
	_, err := h.orders.MarkPaid(ctx, paid(order, "MNFY|6001"))
	require.NoError(t, err)

	cancelled, err := h.orders.UpdateStatus(ctx, UpdateStatusInput{
		OrderID:    order.ID,
		Status:     enums.OrderStatusCancelled,
		Actor:      "merchant",
		BusinessID: h.businessID,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Items[0].Status)
	require.Equal(t, 2, cancelled.Items[0].ReturnedQuantity)

	onHand, available := h.available(t, skuID)
	require.Equal(t, 5, onHand)
	require.Equal(t, 5, available)

	history, err := h.orders.History(ctx, order.ID)
	require.NoError(t, err)
	var cancelledBy string
	for _, row := range history {
		if row.Axis == axisStatus && row.ToStatus == string(enums.OrderStatusCancelled) {
			cancelledBy = row.Actor
		}
	}
	require.Equal(t, "merchant", cancelledBy)
}

func TestCancelUnpaidOrderReleasesHolds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 3), enums.PaymentMethodCard)

	_, err := h.orders.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled})
	require.NoError(t, err)

	onHand, available := h.available(t, skuID)
	require.Equal(t, 5, onHand)
	require.Equal(t, 5, available)
}

func TestCashOnDeliveryCommitsAtCheckout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 500)
	order := h.checkout(t, h.cartWith(t, skuID, 2), enums.PaymentMethodCashOnDelivery)

	onHand, _ := h.available(t, skuID)
	require.Equal(t, 3, onHand)

	for _, next := range []enums.OrderStatus{enums.OrderStatusConfirmed, enums.OrderStatusProcessing, enums.OrderStatusShipped} {
		updated, err := h.orders.UpdateStatus(ctx, UpdateStatusInput{OrderID: order.ID, Status: next, Actor: "merchant"})
		require.NoError(t, err)
		require.Equal(t, next, updated.Status)
	}
}

func TestItemStatusRollsUpToOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.sku(t, 5, 500)
	second := h.sku(t, 5, 300)
	c := h.cartWith(t, first, 1)
	_, err := h.carts.AddItem(ctx, cart.ItemInput{CartID: c.ID, SKUID: second, Quantity: 1})
	require.NoError(t, err)
	order := h.checkout(t, c, enums.PaymentMethodCard)
	order, err = h.orders.MarkPaid(ctx, paid(order, "MNFY|7001"))
	require.NoError(t, err)
	require.Len(t, order.Items, 2)

	// An item cannot skip ahead of its order.
	_, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusInput{
		OrderID: order.ID, ItemID: order.Items[0].ID, Status: enums.OrderStatusShipped,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	updated, err := h.orders.UpdateItemStatus(ctx, UpdateItemStatusInput{
		OrderID: order.ID, ItemID: order.Items[0].ID, Status: enums.OrderStatusProcessing,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusConfirmed, updated.Status)

	updated, err = h.orders.UpdateItemStatus(ctx, UpdateItemStatusInput{
		OrderID: order.ID, ItemID: order.Items[1].ID, Status: enums.OrderStatusProcessing,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusProcessing, updated.Status)
}

func TestListStuckPaginates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 10, 100)
	for i := 0; i < 3; i++ {
		h.checkout(t, h.cartWith(t, skuID, 1), enums.PaymentMethodCard)
		h.now = h.now.Add(time.Minute)
	}
	h.now = h.now.Add(2 * time.Hour)

	page, err := h.orders.ListStuck(ctx, StuckParams{OlderThan: time.Hour, Params: pkgpagination.Params{Limit: 2}})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	rest, err := h.orders.ListStuck(ctx, StuckParams{OlderThan: time.Hour, Params: pkgpagination.Params{Limit: 2, Cursor: page.NextCursor}})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.NextCursor)
}
