package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"gorm.io/gorm"
)

// guard is one extra WHERE predicate a stock change must satisfy.
type guard struct {
	expr string
	args []any
}

// stockChange describes a single atomic counter update.
type stockChange struct {
	delta         int
	reservedDelta int
	guards        []guard
}

// Repository persists inventory units and ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, unit *models.InventoryUnit) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryUnit, error)
	Apply(ctx context.Context, id uuid.UUID, change stockChange) (bool, error)
	InsertEntry(ctx context.Context, entry *models.InventoryLedgerEntry) error
	ListEntries(ctx context.Context, skuID uuid.UUID, limit int) ([]models.InventoryLedgerEntry, error)
	AllEntries(ctx context.Context, skuID uuid.UUID) ([]models.InventoryLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to a database handle.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, unit *models.InventoryUnit) error {
	return r.db.WithContext(ctx).Create(unit).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.InventoryUnit, error) {
	var unit models.InventoryUnit
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&unit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &unit, nil
}

// Apply runs one conditional UPDATE. The row lock taken by the UPDATE
// linearises concurrent changes to the same SKU; false means a guard failed
// or the SKU does not exist.
func (r *repository) Apply(ctx context.Context, id uuid.UUID, change stockChange) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.InventoryUnit{}).
		Where("id = ?", id)
	for _, g := range change.guards {
		query = query.Where(g.expr, g.args...)
	}
	res := query.Updates(map[string]any{
		"quantity_on_hand":  gorm.Expr("quantity_on_hand + ?", change.delta),
		"quantity_reserved": gorm.Expr("quantity_reserved + ?", change.reservedDelta),
		"ledger_sequence":   gorm.Expr("ledger_sequence + 1"),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertEntry(ctx context.Context, entry *models.InventoryLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, skuID uuid.UUID, limit int) ([]models.InventoryLedgerEntry, error) {
	var entries []models.InventoryLedgerEntry
	err := r.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		Order("sequence DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *repository) AllEntries(ctx context.Context, skuID uuid.UUID) ([]models.InventoryLedgerEntry, error) {
	var entries []models.InventoryLedgerEntry
	err := r.db.WithContext(ctx).
		Where("sku_id = ?", skuID).
		Order("sequence ASC").
		Find(&entries).Error
	return entries, err
}
