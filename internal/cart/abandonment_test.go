package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/stretchr/testify/require"
)

func (h *harness) tracker(t *testing.T, cartID uuid.UUID) *models.AbandonedCartTracker {
	t.Helper()
	var tracker models.AbandonedCartTracker
	require.NoError(t, h.client.DB().Where("cart_id = ?", cartID).First(&tracker).Error)
	return &tracker
}

func TestSweepReminderSequence(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 200)
	cart := h.cart(t)
	_, err := h.carts.AddItem(ctx, ItemInput{CartID: cart.ID, SKUID: skuID, Quantity: 1})
	require.NoError(t, err)
	empty := h.cart(t)

	result, err := h.sweeper.Sweep(ctx, h.now.Add(30*time.Minute))
	require.NoError(t, err)
	require.Zero(t, result.Identified)

	start := h.now.Add(2 * time.Hour)
	result, err = h.sweeper.Sweep(ctx, start)
	require.NoError(t, err)
	require.Equal(t, 1, result.Identified)
	require.Zero(t, result.Reminded)

	loaded, err := h.carts.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CartStatusAbandoned, loaded.Status)
	untouched, err := h.carts.GetCart(ctx, empty.ID)
	require.NoError(t, err)
	require.Equal(t, enums.CartStatusActive, untouched.Status)

	result, err = h.sweeper.Sweep(ctx, start.Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, result.Identified)
	require.Zero(t, result.Reminded)

	for stage := 1; stage <= 3; stage++ {
		result, err = h.sweeper.Sweep(ctx, start.Add(time.Duration(stage)*24*time.Hour+time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, result.Reminded, "stage %d", stage)
	}

	result, err = h.sweeper.Sweep(ctx, start.Add(4*24*time.Hour+time.Minute))
	require.NoError(t, err)
	require.Zero(t, result.Reminded)

	require.Len(t, h.reminders.sent, 3)
	for i, sent := range h.reminders.sent {
		require.Equal(t, i+1, sent.stage)
		require.Equal(t, "ada@example.com", sent.email)
	}

	tracker := h.tracker(t, cart.ID)
	require.Equal(t, enums.AbandonmentStatusReminder3Sent, tracker.Status)
	require.NotNil(t, tracker.Reminder1SentAt)
	require.NotNil(t, tracker.Reminder2SentAt)
	require.NotNil(t, tracker.Reminder3SentAt)
	require.Nil(t, tracker.NextReminderAt)
}

func TestSweepExpiresAfterRetention(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 200)
	cart := h.cart(t)
	_, err := h.carts.AddItem(ctx, ItemInput{CartID: cart.ID, SKUID: skuID, Quantity: 2})
	require.NoError(t, err)

	start := h.now.Add(2 * time.Hour)
	_, err = h.sweeper.Detect(ctx, start)
	require.NoError(t, err)

	expired, err := h.sweeper.Expire(ctx, start.Add(6*24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, expired)

	expired, err = h.sweeper.Expire(ctx, start.Add(7*24*time.Hour+time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	loaded, err := h.carts.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	require.Empty(t, loaded.Items)
	require.True(t, loaded.Subtotal.IsZero())
	require.Equal(t, enums.AbandonmentStatusExpired, h.tracker(t, cart.ID).Status)

	unit, err := h.stock.GetSKU(ctx, skuID)
	require.NoError(t, err)
	require.Equal(t, 5, unit.Available())
}

func TestTouchingAbandonedCartRecoversIt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	skuID := h.sku(t, 5, 200)
	cart := h.cart(t)
	_, err := h.carts.AddItem(ctx, ItemInput{CartID: cart.ID, SKUID: skuID, Quantity: 1})
	require.NoError(t, err)

	identified, err := h.sweeper.Detect(ctx, h.now.Add(2*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, identified)

	h.now = h.now.Add(3 * time.Hour)
	updated, err := h.carts.AddItem(ctx, ItemInput{CartID: cart.ID, SKUID: skuID, Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, enums.CartStatusActive, updated.Status)

	tracker := h.tracker(t, cart.ID)
	require.Equal(t, enums.AbandonmentStatusRecovered, tracker.Status)
	require.NotNil(t, tracker.RecoveredAt)

	reminded, err := h.sweeper.Remind(ctx, h.now.Add(48*time.Hour))
	require.NoError(t, err)
	require.Zero(t, reminded)
}
