package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository persists settlements and refunds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateSettlement(ctx context.Context, row *models.Settlement) error
	FindSettlementByOrder(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error)
	CreateRefund(ctx context.Context, refund *models.Refund) error
	FindRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error)
	ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
	TransitionRefund(ctx context.Context, id uuid.UUID, from, to enums.RefundStatus, fields map[string]any) (bool, error)
	CreateTransaction(ctx context.Context, txn *models.RefundTransaction) error
	SaveTransaction(ctx context.Context, txn *models.RefundTransaction) error
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

func (r *repository) CreateSettlement(ctx context.Context, row *models.Settlement) error {
	return r.db.WithContext(ctx).Create(row).Error
}

func (r *repository) FindSettlementByOrder(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error) {
	var row models.Settlement
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) CreateRefund(ctx context.Context, refund *models.Refund) error {
	return r.db.WithContext(ctx).Omit("Transactions").Create(refund).Error
}

func (r *repository) FindRefund(ctx context.Context, id uuid.UUID) (*models.Refund, error) {
	var refund models.Refund
	err := r.db.WithContext(ctx).
		Preload("Transactions", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, side ASC") }).
		Where("id = ?", id).
		First(&refund).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	var rows []models.Refund
	err := r.db.WithContext(ctx).
		Preload("Transactions").
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) TransitionRefund(ctx context.Context, id uuid.UUID, from, to enums.RefundStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Refund{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.RefundTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) SaveTransaction(ctx context.Context, txn *models.RefundTransaction) error {
	return r.db.WithContext(ctx).
		Model(&models.RefundTransaction{}).
		Where("id = ?", txn.ID).
		Updates(map[string]any{
			"status":             txn.Status,
			"provider_reference": txn.ProviderReference,
			"error":              txn.Error,
		}).Error
}
