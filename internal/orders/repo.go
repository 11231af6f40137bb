package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgpagination "github.com/shopcore/commerce-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository persists orders. Every status write is a compare-and-set on the
// expected current value.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error)
	FindByReference(ctx context.Context, ref string) (*models.Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error)
	UpdateItemStatus(ctx context.Context, orderID, itemID uuid.UUID, from, to enums.OrderStatus) (bool, error)
	AdvanceItems(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) error
	TransitionPayment(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, fields map[string]any) (bool, error)
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error
	SetItemReservation(ctx context.Context, itemID, reservationID uuid.UUID) error
	AddReturnedQuantity(ctx context.Context, itemID uuid.UUID, qty int) (bool, error)
	AddRefundedAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error)
	MarkSettled(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reference string, at time.Time) (bool, error)
	InsertHistory(ctx context.Context, entry *models.OrderStatusHistory) error
	ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	ListStuck(ctx context.Context, query stuckQuery) ([]models.Order, error)
	ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error)
}

type stuckQuery struct {
	createdBefore time.Time
	limit         int
	cursor        *pkgpagination.Cursor
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

func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *repository) FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error) {
	return r.findOne(ctx, "transaction_reference = ?", ref)
}

func (r *repository) FindByReference(ctx context.Context, ref string) (*models.Order, error) {
	return r.findOne(ctx, "order_reference = ?", ref)
}

func (r *repository) FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	return r.findOne(ctx, "payment_reference = ?", ref)
}

func (r *repository) findOne(ctx context.Context, where string, arg any) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where(where, arg).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) UpdateItemStatus(ctx context.Context, orderID, itemID uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND order_id = ? AND status = ?", itemID, orderID, from).
		Update("status", to)
	return res.RowsAffected == 1, res.Error
}

// AdvanceItems moves every item still at from to to.
func (r *repository) AdvanceItems(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND status = ?", orderID, from).
		Update("status", to).Error
}

func (r *repository) TransitionPayment(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, to enums.PaymentStatus, fields map[string]any) (bool, error) {
	updates := map[string]any{"payment_status": to}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repository) SetItemReservation(ctx context.Context, itemID, reservationID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ?", itemID).
		Update("reservation_id", reservationID).Error
}

// AddReturnedQuantity fails (false) when the item would exceed its quantity.
func (r *repository) AddReturnedQuantity(ctx context.Context, itemID uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id = ? AND returned_quantity + ? <= quantity", itemID, qty).
		Update("returned_quantity", gorm.Expr("returned_quantity + ?", qty))
	return res.RowsAffected == 1, res.Error
}

// AddRefundedAmount fails (false) when the total would be exceeded.
func (r *repository) AddRefundedAmount(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND refunded_amount + ? <= total", id, amount).
		Update("refunded_amount", gorm.Expr("refunded_amount + ?", amount))
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkSettled(ctx context.Context, id uuid.UUID, amount decimal.Decimal, reference string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND is_business_settled = ? AND payment_status = ?", id, false, enums.PaymentStatusPaid).
		Updates(map[string]any{
			"is_business_settled":  true,
			"settlement_amount":    amount,
			"settlement_reference": reference,
			"settled_at":           at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) InsertHistory(ctx context.Context, entry *models.OrderStatusHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListHistory(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	var rows []models.OrderStatusHistory
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListStuck returns unpaid orders older than the cutoff, newest first.
func (r *repository) ListStuck(ctx context.Context, query stuckQuery) ([]models.Order, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("payment_status = ? AND status = ? AND created_at < ?", enums.PaymentStatusPending, enums.OrderStatusPending, query.createdBefore)
	if query.cursor != nil {
		q = q.Where("((created_at < ?) OR (created_at = ? AND id < ?))", query.cursor.CreatedAt, query.cursor.CreatedAt, query.cursor.ID)
	}

	var rows []models.Order
	err := q.Order("created_at DESC").Order("id DESC").Limit(query.limit).Find(&rows).Error
	return rows, err
}

// ListPendingPayments returns unpaid orders that already reached the gateway.
func (r *repository) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("payment_status = ? AND status = ? AND transaction_reference IS NOT NULL AND created_at < ?",
			enums.PaymentStatusPending, enums.OrderStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
