package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository persists stock reservations. Status changes are compare-and-set
// updates so a reservation is resolved at most once.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.StockReservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error)
	FindPendingForCartSKU(ctx context.Context, cartID, skuID uuid.UUID) (*models.StockReservation, error)
	ListPendingForCart(ctx context.Context, cartID uuid.UUID) ([]models.StockReservation, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus, fields map[string]any) (bool, error)
	Expire(ctx context.Context, id uuid.UUID, now time.Time, fields map[string]any) (bool, error)
	Extend(ctx context.Context, id uuid.UUID, orderID uuid.UUID, now, expiresAt time.Time) (bool, error)
	SumPendingForSKU(ctx context.Context, skuID uuid.UUID) (int, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindPendingForCartSKU(ctx context.Context, cartID, skuID uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND sku_id = ? AND status = ?", cartID, skuID, enums.ReservationStatusPending).
		Order("created_at DESC").
		First(&reservation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) ListPendingForCart(ctx context.Context, cartID uuid.UUID) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND status = ?", cartID, enums.ReservationStatusPending).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]models.StockReservation, error) {
	var rows []models.StockReservation
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.ReservationStatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Expire moves a pending hold to EXPIRED only while expires_at is still at or
// before now; a hold extended since it was listed is left alone.
func (r *repository) Expire(ctx context.Context, id uuid.UUID, now time.Time, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": enums.ReservationStatusExpired}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ? AND expires_at <= ?", id, enums.ReservationStatusPending, now).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Extend(ctx context.Context, id uuid.UUID, orderID uuid.UUID, now, expiresAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, enums.ReservationStatusPending, now).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"order_id":   orderID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SumPendingForSKU(ctx context.Context, skuID uuid.UUID) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("sku_id = ? AND status = ?", skuID, enums.ReservationStatusPending).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	return int(total), err
}
