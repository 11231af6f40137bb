package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository persists carts and their items.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to the provided GORM handle.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	if cart.Status == "" {
		cart.Status = enums.CartStatusActive
	}
	return r.db.WithContext(ctx).Create(cart).Error
}

// FindByID returns the cart with its items, or nil when missing.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cart, nil
}

func (r *Repository) FindItem(ctx context.Context, cartID, skuID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND sku_id = ?", cartID, skuID).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *Repository) SaveItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *Repository) DeleteItem(ctx context.Context, cartID, skuID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ? AND sku_id = ?", cartID, skuID).
		Delete(&models.CartItem{}).Error
}

func (r *Repository) DeleteItems(ctx context.Context, cartID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).Error
}

// Touch stamps activity and the recomputed subtotal.
func (r *Repository) Touch(ctx context.Context, cartID uuid.UUID, subtotal decimal.Decimal, status enums.CartStatus, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ?", cartID).
		Updates(map[string]any{
			"subtotal":         subtotal,
			"status":           status,
			"last_activity_at": at,
		}).Error
}

func (r *Repository) UpdateStatus(ctx context.Context, cartID uuid.UUID, from []enums.CartStatus, to enums.CartStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND status IN ?", cartID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListIdle returns active, never-tracked carts with items whose last activity
// predates before.
func (r *Repository) ListIdle(ctx context.Context, before time.Time, limit int) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Where("status = ? AND last_activity_at < ?", enums.CartStatusActive, before).
		Where("EXISTS (SELECT 1 FROM cart_items WHERE cart_items.cart_id = carts.id)").
		Where("NOT EXISTS (SELECT 1 FROM abandoned_cart_trackers WHERE abandoned_cart_trackers.cart_id = carts.id)").
		Order("last_activity_at ASC").
		Limit(limit).
		Find(&carts).Error
	return carts, err
}

// TrackerRepo persists abandoned cart trackers.
type TrackerRepo struct {
	db *gorm.DB
}

func NewTrackerRepository(db *gorm.DB) *TrackerRepo {
	return &TrackerRepo{db: db}
}

func (r *TrackerRepo) WithTx(tx *gorm.DB) TrackerRepository {
	if tx == nil {
		return r
	}
	return &TrackerRepo{db: tx}
}

func (r *TrackerRepo) Create(ctx context.Context, tracker *models.AbandonedCartTracker) error {
	return r.db.WithContext(ctx).Create(tracker).Error
}

func (r *TrackerRepo) FindByCartID(ctx context.Context, cartID uuid.UUID) (*models.AbandonedCartTracker, error) {
	var tracker models.AbandonedCartTracker
	err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).First(&tracker).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tracker, nil
}

func (r *TrackerRepo) ListDue(ctx context.Context, statuses []enums.AbandonmentStatus, now time.Time, limit int) ([]models.AbandonedCartTracker, error) {
	var trackers []models.AbandonedCartTracker
	err := r.db.WithContext(ctx).
		Where("status IN ? AND next_reminder_at IS NOT NULL AND next_reminder_at <= ?", statuses, now).
		Order("next_reminder_at ASC").
		Limit(limit).
		Find(&trackers).Error
	return trackers, err
}

// ListExpirable returns trackers identified before the cutoff that are neither
// recovered nor expired.
func (r *TrackerRepo) ListExpirable(ctx context.Context, identifiedBefore time.Time, limit int) ([]models.AbandonedCartTracker, error) {
	var trackers []models.AbandonedCartTracker
	err := r.db.WithContext(ctx).
		Where("status NOT IN ? AND identified_at < ?", []enums.AbandonmentStatus{
			enums.AbandonmentStatusRecovered,
			enums.AbandonmentStatusExpired,
		}, identifiedBefore).
		Order("identified_at ASC").
		Limit(limit).
		Find(&trackers).Error
	return trackers, err
}

func (r *TrackerRepo) Advance(ctx context.Context, id uuid.UUID, from, to enums.AbandonmentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.AbandonedCartTracker{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
