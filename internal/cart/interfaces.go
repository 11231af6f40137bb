package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	Create(ctx context.Context, cart *models.Cart) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	FindItem(ctx context.Context, cartID, skuID uuid.UUID) (*models.CartItem, error)
	SaveItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, cartID, skuID uuid.UUID) error
	DeleteItems(ctx context.Context, cartID uuid.UUID) error
	Touch(ctx context.Context, cartID uuid.UUID, subtotal decimal.Decimal, status enums.CartStatus, at time.Time) error
	UpdateStatus(ctx context.Context, cartID uuid.UUID, from []enums.CartStatus, to enums.CartStatus, fields map[string]any) (bool, error)
	ListIdle(ctx context.Context, before time.Time, limit int) ([]models.Cart, error)
}

// TrackerRepository persists abandoned cart trackers.
type TrackerRepository interface {
	WithTx(tx *gorm.DB) TrackerRepository
	Create(ctx context.Context, tracker *models.AbandonedCartTracker) error
	FindByCartID(ctx context.Context, cartID uuid.UUID) (*models.AbandonedCartTracker, error)
	ListDue(ctx context.Context, statuses []enums.AbandonmentStatus, now time.Time, limit int) ([]models.AbandonedCartTracker, error)
	ListExpirable(ctx context.Context, identifiedBefore time.Time, limit int) ([]models.AbandonedCartTracker, error)
	Advance(ctx context.Context, id uuid.UUID, from, to enums.AbandonmentStatus, fields map[string]any) (bool, error)
}
