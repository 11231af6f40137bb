package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	ReasonMerged        = "merged"
	ReasonRemoved       = "removed_from_cart"
	ReasonPaymentFailed = "payment_failed"
	ReasonCancelled     = "order_cancelled"
	ReasonAbandoned     = "cart_abandoned"
	ReasonTTL           = "ttl_expired"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockLedger interface {
	Reserve(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref inventory.EntryRef) (*inventory.Movement, error)
	Release(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref inventory.EntryRef) (*inventory.Movement, error)
	Commit(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref inventory.EntryRef) (*inventory.Movement, error)
	GetSKU(ctx context.Context, skuID uuid.UUID) (*models.InventoryUnit, error)
}

// Manager turns cart and checkout activity into stock holds and resolves them.
type Manager interface {
	HoldForCartItem(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.StockReservation, error)
	HoldForOrder(ctx context.Context, tx *gorm.DB, input OrderHoldInput) (*models.StockReservation, error)
	ExtendForCheckout(ctx context.Context, tx *gorm.DB, reservationID, orderID uuid.UUID, newExpiry time.Time) (*models.StockReservation, error)
	Fulfill(ctx context.Context, tx *gorm.DB, reservationID, orderID uuid.UUID) (*inventory.Movement, error)
	Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, reason string) (bool, error)
	ReleaseForCart(ctx context.Context, tx *gorm.DB, cartID uuid.UUID, reason string) (int, error)
	ExpireStale(ctx context.Context, now time.Time, limit int) (ExpireResult, error)
	Get(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.StockReservation, error)
	VerifySKU(ctx context.Context, skuID uuid.UUID) (*SKUAudit, error)
}

// HoldInput requests stock for a cart line. Quantity is added to any existing
// hold for the same cart and SKU unless Replace is set.
type HoldInput struct {
	CartID   uuid.UUID
	SKUID    uuid.UUID
	Quantity int
	Replace  bool
	Actor    string
}

// OrderHoldInput requests a fresh hold for an order being retried.
type OrderHoldInput struct {
	OrderID   uuid.UUID
	SKUID     uuid.UUID
	Quantity  int
	ExpiresAt time.Time
}

// ExpireResult counts one sweep. Skipped holds were extended, fulfilled or
// released between the listing and their expiry transaction.
type ExpireResult struct {
	Scanned int
	Expired int
	Skipped int
}

// SKUAudit compares the reserved counter with the sum of pending holds.
type SKUAudit struct {
	SKUID            uuid.UUID `json:"sku_id"`
	QuantityReserved int       `json:"quantity_reserved"`
	PendingSum       int       `json:"pending_sum"`
	Consistent       bool      `json:"consistent"`
}

type ManagerParams struct {
	DB         txRunner
	Repository Repository
	Ledger     stockLedger
	Logger     *logger.Logger
	CartTTL    time.Duration
	Clock      func() time.Time
}

type manager struct {
	db     txRunner
	repo   Repository
	ledger stockLedger
	logg   *logger.Logger
	ttl    time.Duration
	now    func() time.Time
}

func NewManager(params ManagerParams) (Manager, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.CartTTL <= 0 {
		return nil, fmt.Errorf("cart ttl must be positive")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &manager{
		db:     params.DB,
		repo:   params.Repository,
		ledger: params.Ledger,
		logg:   params.Logger,
		ttl:    params.CartTTL,
		now:    func() time.Time { return clock().UTC() },
	}, nil
}

// HoldForCartItem keeps at most one pending hold per cart and SKU: an existing
// hold is released and replaced by one covering the merged quantity.
func (m *manager) HoldForCartItem(ctx context.Context, tx *gorm.DB, input HoldInput) (*models.StockReservation, error) {
	if input.CartID == uuid.Nil || input.SKUID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id and sku id are required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	var held *models.StockReservation
	err := m.within(ctx, tx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		existing, err := repo.FindPendingForCartSKU(ctx, input.CartID, input.SKUID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load existing hold")
		}

		total := input.Quantity
		if existing != nil {
			if !input.Replace {
				total += existing.Quantity
			}
			if _, err := m.release(ctx, tx, existing, ReasonMerged); err != nil {
				return err
			}
		}

		cartID := input.CartID
		reservation := &models.StockReservation{
			SKUID:     input.SKUID,
			Quantity:  total,
			Status:    enums.ReservationStatusPending,
			ExpiresAt: m.now().Add(m.ttl),
			CartID:    &cartID,
		}
		if err := m.reserve(ctx, tx, reservation, input.Actor); err != nil {
			return err
		}
		held = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return held, nil
}

func (m *manager) HoldForOrder(ctx context.Context, tx *gorm.DB, input OrderHoldInput) (*models.StockReservation, error) {
	if input.OrderID == uuid.Nil || input.SKUID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and sku id are required")
	}
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	expiresAt := input.ExpiresAt.UTC()
	if !expiresAt.After(m.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiry must be in the future")
	}

	orderID := input.OrderID
	reservation := &models.StockReservation{
		SKUID:     input.SKUID,
		Quantity:  input.Quantity,
		Status:    enums.ReservationStatusPending,
		ExpiresAt: expiresAt,
		OrderID:   &orderID,
	}
	err := m.within(ctx, tx, func(tx *gorm.DB) error {
		return m.reserve(ctx, tx, reservation, "")
	})
	if err != nil {
		return nil, err
	}
	return reservation, nil
}

func (m *manager) ExtendForCheckout(ctx context.Context, tx *gorm.DB, reservationID, orderID uuid.UUID, newExpiry time.Time) (*models.StockReservation, error) {
	newExpiry = newExpiry.UTC()
	var extended *models.StockReservation
	err := m.within(ctx, tx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		current, err := m.load(ctx, repo, reservationID)
		if err != nil {
			return err
		}
		if current.Status != enums.ReservationStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "reservation already "+string(current.Status))
		}
		if !newExpiry.After(current.ExpiresAt) {
			return pkgerrors.New(pkgerrors.CodeValidation, "new expiry must be later than the current expiry")
		}
		ok, err := repo.Extend(ctx, reservationID, orderID, m.now(), newExpiry)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "extend reservation")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "reservation expired before checkout")
		}
		current.ExpiresAt = newExpiry
		current.OrderID = &orderID
		extended = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extended, nil
}

// Fulfill converts a pending hold into a sale. A hold that is already
// fulfilled returns a nil movement.
func (m *manager) Fulfill(ctx context.Context, tx *gorm.DB, reservationID, orderID uuid.UUID) (*inventory.Movement, error) {
	var mv *inventory.Movement
	err := m.within(ctx, tx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		current, err := m.load(ctx, repo, reservationID)
		if err != nil {
			return err
		}

		resolvedAt := m.now()
		ok, err := repo.Transition(ctx, reservationID, enums.ReservationStatusPending, enums.ReservationStatusFulfilled, map[string]any{
			"order_id":    orderID,
			"resolved_at": resolvedAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fulfil reservation")
		}
		if !ok {
			latest, err := m.load(ctx, repo, reservationID)
			if err != nil {
				return err
			}
			if latest.Status == enums.ReservationStatusFulfilled {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeConflict, "reservation already "+string(latest.Status)).
				WithDetails(map[string]any{"reservation_id": reservationID.String()})
		}

		mv, err = m.ledger.Commit(ctx, tx, current.SKUID, current.Quantity, inventory.EntryRef{
			OrderID:       &orderID,
			ReservationID: &reservationID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return mv, nil
}

// Release frees a pending hold. It reports false when the hold was already
// released or expired.
func (m *manager) Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, reason string) (bool, error) {
	var released bool
	err := m.within(ctx, tx, func(tx *gorm.DB) error {
		current, err := m.load(ctx, m.repo.WithTx(tx), reservationID)
		if err != nil {
			return err
		}
		released, err = m.release(ctx, tx, current, reason)
		return err
	})
	return released, err
}

func (m *manager) ReleaseForCart(ctx context.Context, tx *gorm.DB, cartID uuid.UUID, reason string) (int, error) {
	var count int
	err := m.within(ctx, tx, func(tx *gorm.DB) error {
		pending, err := m.repo.WithTx(tx).ListPendingForCart(ctx, cartID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list cart holds")
		}
		for i := range pending {
			ok, err := m.release(ctx, tx, &pending[i], reason)
			if err != nil {
				return err
			}
			if ok {
				count++
			}
		}
		return nil
	})
	return count, err
}

// ExpireStale expires pending holds past their TTL, one transaction each, so a
// single bad row does not block the rest of the batch.
func (m *manager) ExpireStale(ctx context.Context, now time.Time, limit int) (ExpireResult, error) {
	var result ExpireResult
	stale, err := m.repo.ListExpired(ctx, now.UTC(), limit)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list expired reservations")
	}
	result.Scanned = len(stale)

	var errs error
	for i := range stale {
		id := stale[i].ID
		var expired bool
		err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			expired, err = m.expire(ctx, tx, id, now.UTC())
			return err
		})
		switch {
		case err != nil:
			errs = multierr.Append(errs, fmt.Errorf("expire reservation %s: %w", id, err))
		case expired:
			result.Expired++
		default:
			result.Skipped++
		}
	}
	return result, errs
}

// expire rechecks the deadline in the UPDATE itself and releases the quantity
// read back under the row lock, not the one seen by the listing.
func (m *manager) expire(ctx context.Context, tx *gorm.DB, id uuid.UUID, now time.Time) (bool, error) {
	repo := m.repo.WithTx(tx)
	ok, err := repo.Expire(ctx, id, now, map[string]any{
		"resolved_at":    m.now(),
		"release_reason": ReasonTTL,
	})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expire reservation")
	}
	if !ok {
		return false, nil
	}
	reservation, err := m.load(ctx, repo, id)
	if err != nil {
		return false, err
	}
	return true, m.returnStock(ctx, tx, reservation, ReasonTTL)
}

func (m *manager) Get(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.StockReservation, error) {
	return m.load(ctx, m.repo.WithTx(tx), reservationID)
}

func (m *manager) VerifySKU(ctx context.Context, skuID uuid.UUID) (*SKUAudit, error) {
	unit, err := m.ledger.GetSKU(ctx, skuID)
	if err != nil {
		return nil, err
	}
	sum, err := m.repo.SumPendingForSKU(ctx, skuID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum pending reservations")
	}
	return &SKUAudit{
		SKUID:            skuID,
		QuantityReserved: unit.QuantityReserved,
		PendingSum:       sum,
		Consistent:       unit.QuantityReserved == sum,
	}, nil
}

func (m *manager) reserve(ctx context.Context, tx *gorm.DB, reservation *models.StockReservation, actor string) error {
	if err := m.repo.WithTx(tx).Create(ctx, reservation); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create reservation")
	}
	reservationID := reservation.ID
	_, err := m.ledger.Reserve(ctx, tx, reservation.SKUID, reservation.Quantity, inventory.EntryRef{
		OrderID:       reservation.OrderID,
		ReservationID: &reservationID,
		Actor:         actor,
	})
	return err
}

// release moves a pending hold to RELEASED and returns the stock. Already released or expired holds are a no-op; fulfilled holds conflict.
func (m *manager) release(ctx context.Context, tx *gorm.DB, reservation *models.StockReservation, reason string) (bool, error) {
	fields := map[string]any{"resolved_at": m.now()}
	if reason != "" {
		fields["release_reason"] = reason
	}
	repo := m.repo.WithTx(tx)
	ok, err := repo.Transition(ctx, reservation.ID, enums.ReservationStatusPending, enums.ReservationStatusReleased, fields)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release reservation")
	}
	if !ok {
		latest, err := m.load(ctx, repo, reservation.ID)
		if err != nil {
			return false, err
		}
		if latest.Status == enums.ReservationStatusFulfilled {
			return false, pkgerrors.New(pkgerrors.CodeConflict, "reservation already fulfilled").
				WithDetails(map[string]any{"reservation_id": reservation.ID.String()})
		}
		return false, nil
	}

	if err := m.returnStock(ctx, tx, reservation, reason); err != nil {
		return false, err
	}
	return true, nil
}

func (m *manager) returnStock(ctx context.Context, tx *gorm.DB, reservation *models.StockReservation, reason string) error {
	reservationID := reservation.ID
	_, err := m.ledger.Release(ctx, tx, reservation.SKUID, reservation.Quantity, inventory.EntryRef{
		OrderID:       reservation.OrderID,
		ReservationID: &reservationID,
		Note:          reason,
	})
	return err
}

func (m *manager) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.StockReservation, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	reservation, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reservation")
	}
	if reservation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	return reservation, nil
}

func (m *manager) within(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return m.db.WithTx(ctx, fn)
}
