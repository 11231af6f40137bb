package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	defaultEntryLimit = 50
	maxEntryLimit     = 500
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type lowStockNotifier interface {
	SendLowStockAlert(ctx context.Context, unit models.InventoryUnit)
}

type movementMetrics interface {
	IncMovement(reason string)
	IncInsufficientStock()
}

// Service is the only writer of on-hand and reserved stock counters.
//
// Reserve, Release, Commit and Return join the caller's transaction when tx is
// non-nil. In that case the caller must pass the returned movements to
// AlertIfLow once the transaction has committed.
type Service interface {
	CreateSKU(ctx context.Context, input CreateSKUInput) (*models.InventoryUnit, error)
	GetSKU(ctx context.Context, skuID uuid.UUID) (*models.InventoryUnit, error)
	Reserve(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error)
	Release(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error)
	Commit(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error)
	Return(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error)
	Restock(ctx context.Context, input RestockInput) (*Movement, error)
	Adjust(ctx context.Context, input AdjustInput) (*Movement, error)
	VerifyLedger(ctx context.Context, skuID uuid.UUID) (*LedgerReport, error)
	ListEntries(ctx context.Context, skuID uuid.UUID, limit int) ([]models.InventoryLedgerEntry, error)
	AlertIfLow(ctx context.Context, movements ...*Movement)
}

// EntryRef carries the audit context written onto a ledger entry.
type EntryRef struct {
	OrderID       *uuid.UUID
	ReservationID *uuid.UUID
	Actor         string
	Note          string
}

// Movement is the result of one ledger write.
type Movement struct {
	Unit     models.InventoryUnit
	Entry    models.InventoryLedgerEntry
	LowStock bool
}

type CreateSKUInput struct {
	BusinessID        uuid.UUID
	SKUCode           string
	Name              string
	UnitPrice         decimal.Decimal
	InitialStock      int
	LowStockThreshold int
	Actor             string
}

type RestockInput struct {
	SKUID    uuid.UUID
	Quantity int
	Actor    string
	Note     string
}

type AdjustInput struct {
	SKUID  uuid.UUID
	Delta  int
	Reason enums.InventoryReason
	Actor  string
	Note   string
}

// LedgerReport is the outcome of replaying a SKU's ledger.
type LedgerReport struct {
	SKUID            uuid.UUID `json:"sku_id"`
	Entries          int       `json:"entries"`
	QuantityOnHand   int       `json:"quantity_on_hand"`
	ReplayedOnHand   int       `json:"replayed_on_hand"`
	QuantityReserved int       `json:"quantity_reserved"`
	ReplayedReserved int       `json:"replayed_reserved"`
	Consistent       bool      `json:"consistent"`
}

type noopMetrics struct{}

func (noopMetrics) IncMovement(string) {}
func (noopMetrics) IncInsufficientStock() {}

type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Outbox     outboxEmitter
	Notifier   lowStockNotifier
	Metrics    movementMetrics
	Logger     *logger.Logger
}

type service struct {
	db       txRunner
	repo     Repository
	outbox   outboxEmitter
	notifier lowStockNotifier
	metrics  movementMetrics
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	var metrics movementMetrics = noopMetrics{}
	if params.Metrics != nil {
		metrics = params.Metrics
	}
	return &service{
		db:       params.DB,
		repo:     params.Repository,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		metrics:  metrics,
		logg:     params.Logger,
	}, nil
}

func (s *service) CreateSKU(ctx context.Context, input CreateSKUInput) (*models.InventoryUnit, error) {
	if input.BusinessID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id is required")
	}
	code := strings.TrimSpace(input.SKUCode)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku code is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if input.UnitPrice.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	if input.InitialStock < 0 || input.LowStockThreshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock quantities must not be negative")
	}

	unit := &models.InventoryUnit{
		BusinessID:        input.BusinessID,
		SKUCode:           code,
		Name:              name,
		UnitPrice:         input.UnitPrice.Round(2),
		LowStockThreshold: input.LowStockThreshold,
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, unit); err != nil {
			return err
		}
		if input.InitialStock == 0 {
			return nil
		}
		mv, err := s.apply(ctx, tx, unit.ID, enums.InventoryReasonRestock, stockChange{delta: input.InitialStock}, EntryRef{Actor: input.Actor, Note: "initial stock"})
		if err != nil {
			return err
		}
		*unit = mv.Unit
		return nil
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return nil, err
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create sku")
	}
	return unit, nil
}

func (s *service) GetSKU(ctx context.Context, skuID uuid.UUID) (*models.InventoryUnit, error) {
	unit, err := s.repo.FindByID(ctx, skuID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load sku")
	}
	if unit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
	}
	return unit, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error) {
	if err := validateQty(qty); err != nil {
		return nil, err
	}
	change := stockChange{
		reservedDelta: qty,
		guards:        []guard{{expr: "quantity_on_hand - quantity_reserved >= ?", args: []any{qty}}},
	}
	return s.run(ctx, tx, skuID, enums.InventoryReasonReservation, change, ref)
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error) {
	if err := validateQty(qty); err != nil {
		return nil, err
	}
	change := stockChange{
		reservedDelta: -qty,
		guards:        []guard{{expr: "quantity_reserved >= ?", args: []any{qty}}},
	}
	return s.run(ctx, tx, skuID, enums.InventoryReasonRelease, change, ref)
}

func (s *service) Commit(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error) {
	if err := validateQty(qty); err != nil {
		return nil, err
	}
	change := stockChange{
		delta:         -qty,
		reservedDelta: -qty,
		guards: []guard{
			{expr: "quantity_reserved >= ?", args: []any{qty}},
			{expr: "quantity_on_hand >= ?", args: []any{qty}},
		},
	}
	return s.run(ctx, tx, skuID, enums.InventoryReasonSale, change, ref)
}

func (s *service) Return(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref EntryRef) (*Movement, error) {
	if err := validateQty(qty); err != nil {
		return nil, err
	}
	return s.run(ctx, tx, skuID, enums.InventoryReasonReturn, stockChange{delta: qty}, ref)
}

func (s *service) Restock(ctx context.Context, input RestockInput) (*Movement, error) {
	if err := validateQty(input.Quantity); err != nil {
		return nil, err
	}
	ref := EntryRef{Actor: input.Actor, Note: input.Note}
	return s.run(ctx, nil, input.SKUID, enums.InventoryReasonRestock, stockChange{delta: input.Quantity}, ref)
}

func (s *service) Adjust(ctx context.Context, input AdjustInput) (*Movement, error) {
	if input.Reason != enums.InventoryReasonAdjustment && input.Reason != enums.InventoryReasonDamaged {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment reason must be adjustment or damaged")
	}
	if input.Reason.RequiresNote() && strings.TrimSpace(input.Note) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "note is required for stock adjustments")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delta must not be zero")
	}
	if input.Reason == enums.InventoryReasonDamaged && input.Delta > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "damaged stock must be a negative delta")
	}

	change := stockChange{delta: input.Delta}
	if input.Delta < 0 {
		change.guards = []guard{{expr: "quantity_on_hand - quantity_reserved >= ?", args: []any{-input.Delta}}}
	}
	ref := EntryRef{Actor: input.Actor, Note: strings.TrimSpace(input.Note)}
	return s.run(ctx, nil, input.SKUID, input.Reason, change, ref)
}

func (s *service) VerifyLedger(ctx context.Context, skuID uuid.UUID) (*LedgerReport, error) {
	unit, err := s.GetSKU(ctx, skuID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.AllEntries(ctx, skuID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load ledger entries")
	}

	report := &LedgerReport{
		SKUID:            skuID,
		Entries:          len(entries),
		QuantityOnHand:   unit.QuantityOnHand,
		QuantityReserved: unit.QuantityReserved,
	}
	if len(entries) > 0 {
		report.ReplayedOnHand = entries[0].QuantityBefore
		report.ReplayedReserved = entries[0].ReservedBefore
	}
	for _, entry := range entries {
		report.ReplayedOnHand += entry.Delta
		report.ReplayedReserved += entry.ReservedDelta
	}
	report.Consistent = report.ReplayedOnHand == unit.QuantityOnHand &&
		report.ReplayedReserved == unit.QuantityReserved
	return report, nil
}

func (s *service) ListEntries(ctx context.Context, skuID uuid.UUID, limit int) ([]models.InventoryLedgerEntry, error) {
	if limit <= 0 {
		limit = defaultEntryLimit
	}
	if limit > maxEntryLimit {
		limit = maxEntryLimit
	}
	if _, err := s.GetSKU(ctx, skuID); err != nil {
		return nil, err
	}
	entries, err := s.repo.ListEntries(ctx, skuID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list ledger entries")
	}
	return entries, nil
}

// AlertIfLow sends low-stock alerts for movements that crossed their threshold.
func (s *service) AlertIfLow(ctx context.Context, movements ...*Movement) {
	if s.notifier == nil {
		return
	}
	for _, mv := range movements {
		if mv == nil || !mv.LowStock {
			continue
		}
		s.notifier.SendLowStockAlert(ctx, mv.Unit)
	}
}

// run joins tx when given, otherwise opens its own transaction and fires any
// low-stock alert after commit.
func (s *service) run(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, reason enums.InventoryReason, change stockChange, ref EntryRef) (*Movement, error) {
	if skuID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku id is required")
	}
	if tx != nil {
		return s.apply(ctx, tx, skuID, reason, change, ref)
	}

	var mv *Movement
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		mv, err = s.apply(ctx, tx, skuID, reason, change, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.AlertIfLow(ctx, mv)
	return mv, nil
}

func (s *service) apply(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, reason enums.InventoryReason, change stockChange, ref EntryRef) (*Movement, error) {
	repo := s.repo.WithTx(tx)
	ok, err := repo.Apply(ctx, skuID, change)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update stock counters")
	}
	if !ok {
		return nil, s.rejected(ctx, repo, skuID, reason)
	}

	unit, err := repo.FindByID(ctx, skuID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload sku")
	}
	if unit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
	}

	actor := ref.Actor
	if actor == "" {
		actor = string(enums.ActorRoleSystem)
	}
	entry := models.InventoryLedgerEntry{
		SKUID:          skuID,
		Delta:          change.delta,
		ReservedDelta:  change.reservedDelta,
		Reason:         reason,
		QuantityBefore: unit.QuantityOnHand - change.delta,
		QuantityAfter:  unit.QuantityOnHand,
		ReservedBefore: unit.QuantityReserved - change.reservedDelta,
		ReservedAfter:  unit.QuantityReserved,
		RelatedOrderID: ref.OrderID,
		ReservationID:  ref.ReservationID,
		Actor:          actor,
		Sequence:       unit.LedgerSequence,
	}
	if ref.Note != "" {
		note := ref.Note
		entry.Note = &note
	}
	if err := repo.InsertEntry(ctx, &entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "append ledger entry")
	}
	s.metrics.IncMovement(string(reason))

	mv := &Movement{Unit: *unit, Entry: entry}
	if reducesAvailable(reason, change) && unit.LowStockThreshold > 0 && unit.Available() <= unit.LowStockThreshold {
		mv.LowStock = true
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInventoryLowStock,
			AggregateType: enums.AggregateInventoryUnit,
			AggregateID:   unit.ID,
			Actor:         &outbox.ActorRef{BusinessID: &unit.BusinessID, Role: actor},
			Data: payloads.InventoryLowStockEvent{
				SKUID:      unit.ID,
				BusinessID: unit.BusinessID,
				SKUCode:    unit.SKUCode,
				Available:  unit.Available(),
				Threshold:  unit.LowStockThreshold,
			},
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit low stock event")
		}
	}
	return mv, nil
}

func (s *service) rejected(ctx context.Context, repo Repository, skuID uuid.UUID, reason enums.InventoryReason) error {
	unit, err := repo.FindByID(ctx, skuID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load sku")
	}
	if unit == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
	}

	details := map[string]any{
		"sku_id":            skuID.String(),
		"quantity_on_hand":  unit.QuantityOnHand,
		"quantity_reserved": unit.QuantityReserved,
	}
	switch reason {
	case enums.InventoryReasonReservation, enums.InventoryReasonAdjustment, enums.InventoryReasonDamaged:
		s.metrics.IncInsufficientStock()
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock available").WithDetails(details)
	default:
		// Release and commit only fail when counters disagree with reservations.
		s.logg.Error(s.logg.WithField(ctx, "sku_id", skuID.String()), "reserved counter below requested "+string(reason), nil)
		return pkgerrors.New(pkgerrors.CodeConflict, "reserved stock does not cover "+string(reason)).
			WithDetails(details).
			WithAlert()
	}
}

// Commits and negative adjustments are the only changes that can cross the
// low-stock threshold. Reservations do not touch on-hand stock.
func reducesAvailable(reason enums.InventoryReason, change stockChange) bool {
	switch reason {
	case enums.InventoryReasonSale:
		return true
	case enums.InventoryReasonAdjustment, enums.InventoryReasonDamaged:
		return change.delta < 0
	}
	return false
}

func validateQty(qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
