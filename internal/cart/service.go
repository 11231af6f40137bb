package cart

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const defaultCurrency = "NGN"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type skuLoader interface {
	GetSKU(ctx context.Context, skuID uuid.UUID) (*models.InventoryUnit, error)
}

type holdManager interface {
	HoldForCartItem(ctx context.Context, tx *gorm.DB, input reservations.HoldInput) (*models.StockReservation, error)
	Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, reason string) (bool, error)
}

// Service exposes cart operations. Every item change goes through the
// reservation manager so a cart line always has a matching stock hold.
type Service interface {
	CreateCart(ctx context.Context, input CreateCartInput) (*models.Cart, error)
	GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, input ItemInput) (*models.Cart, error)
	UpdateItem(ctx context.Context, input ItemInput) (*models.Cart, error)
	RemoveItem(ctx context.Context, cartID, skuID uuid.UUID) (*models.Cart, error)
	MarkConverted(ctx context.Context, tx *gorm.DB, cartID, orderID uuid.UUID) error
}

type CreateCartInput struct {
	BusinessID    uuid.UUID
	CustomerID    uuid.UUID
	CustomerEmail string
	Currency      string
}

// ItemInput sets (UpdateItem) or adds (AddItem) a quantity of one SKU.
type ItemInput struct {
	CartID   uuid.UUID
	SKUID    uuid.UUID
	Quantity int
	Actor    string
}

type ServiceParams struct {
	DB           txRunner
	Carts        CartRepository
	Trackers     TrackerRepository
	SKUs         skuLoader
	Reservations holdManager
	Logger       *logger.Logger
	Clock        func() time.Time
}

type service struct {
	db           txRunner
	carts        CartRepository
	trackers     TrackerRepository
	skus         skuLoader
	reservations holdManager
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Trackers == nil {
		return nil, fmt.Errorf("tracker repository required")
	}
	if params.SKUs == nil {
		return nil, fmt.Errorf("sku loader required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		db:           params.DB,
		carts:        params.Carts,
		trackers:     params.Trackers,
		skus:         params.SKUs,
		reservations: params.Reservations,
		logg:         params.Logger,
		now:          func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) CreateCart(ctx context.Context, input CreateCartInput) (*models.Cart, error) {
	if input.BusinessID == uuid.Nil || input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "business id and customer id are required")
	}
	email := strings.TrimSpace(input.CustomerEmail)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email is invalid")
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	cart := &models.Cart{
		BusinessID:     input.BusinessID,
		CustomerID:     input.CustomerID,
		CustomerEmail:  email,
		Status:         enums.CartStatusActive,
		Currency:       currency,
		Subtotal:       decimal.Zero,
		LastActivityAt: s.now(),
	}
	if err := s.carts.Create(ctx, cart); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart")
	}
	return cart, nil
}

func (s *service) GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	return s.load(ctx, s.carts, cartID)
}

func (s *service) AddItem(ctx context.Context, input ItemInput) (*models.Cart, error) {
	if input.Quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return s.setItem(ctx, input, false)
}

// UpdateItem sets the line quantity; zero removes the line.
func (s *service) UpdateItem(ctx context.Context, input ItemInput) (*models.Cart, error) {
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}
	if input.Quantity == 0 {
		return s.RemoveItem(ctx, input.CartID, input.SKUID)
	}
	return s.setItem(ctx, input, true)
}

func (s *service) RemoveItem(ctx context.Context, cartID, skuID uuid.UUID) (*models.Cart, error) {
	var updated *models.Cart
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		carts := s.carts.WithTx(tx)
		cart, err := s.loadMutable(ctx, carts, cartID)
		if err != nil {
			return err
		}
		item, err := carts.FindItem(ctx, cartID, skuID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart item")
		}
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		if item.ReservationID != nil {
			if _, err := s.reservations.Release(ctx, tx, *item.ReservationID, reservations.ReasonRemoved); err != nil {
				return err
			}
		}
		if err := carts.DeleteItem(ctx, cartID, skuID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete cart item")
		}
		updated, err = s.touch(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkConverted flags the cart as checked out and closes any open
// abandonment tracker as recovered.
func (s *service) MarkConverted(ctx context.Context, tx *gorm.DB, cartID, orderID uuid.UUID) error {
	ok, err := s.carts.WithTx(tx).UpdateStatus(ctx, cartID,
		[]enums.CartStatus{enums.CartStatusActive, enums.CartStatusAbandoned},
		enums.CartStatusConverted,
		map[string]any{"converted_order_id": orderID, "last_activity_at": s.now()},
	)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "convert cart")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "cart already converted")
	}
	return s.recoverTracker(ctx, tx, cartID)
}

func (s *service) setItem(ctx context.Context, input ItemInput, replace bool) (*models.Cart, error) {
	if input.CartID == uuid.Nil || input.SKUID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id and sku id are required")
	}
	unit, err := s.skus.GetSKU(ctx, input.SKUID)
	if err != nil {
		return nil, err
	}

	var updated *models.Cart
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		carts := s.carts.WithTx(tx)
		cart, err := s.loadMutable(ctx, carts, input.CartID)
		if err != nil {
			return err
		}
		if cart.BusinessID != unit.BusinessID {
			return pkgerrors.New(pkgerrors.CodeValidation, "sku belongs to a different business")
		}

		hold, err := s.reservations.HoldForCartItem(ctx, tx, reservations.HoldInput{
			CartID:   cart.ID,
			SKUID:    unit.ID,
			Quantity: input.Quantity,
			Replace:  replace,
			Actor:    input.Actor,
		})
		if err != nil {
			return err
		}

		item, err := carts.FindItem(ctx, cart.ID, unit.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart item")
		}
		if item == nil {
			item = &models.CartItem{CartID: cart.ID, SKUID: unit.ID}
		}
		holdID := hold.ID
		item.Quantity = hold.Quantity
		item.UnitPrice = unit.UnitPrice
		item.ReservationID = &holdID
		if err := carts.SaveItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save cart item")
		}

		updated, err = s.touch(ctx, tx, cart)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// touch recomputes the subtotal, stamps activity and recovers an abandoned cart.
func (s *service) touch(ctx context.Context, tx *gorm.DB, cart *models.Cart) (*models.Cart, error) {
	carts := s.carts.WithTx(tx)
	fresh, err := s.load(ctx, carts, cart.ID)
	if err != nil {
		return nil, err
	}
	subtotal := decimal.Zero
	for _, item := range fresh.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if err := carts.Touch(ctx, cart.ID, subtotal.Round(2), enums.CartStatusActive, s.now()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "touch cart")
	}
	if cart.Status == enums.CartStatusAbandoned {
		if err := s.recoverTracker(ctx, tx, cart.ID); err != nil {
			return nil, err
		}
		s.logg.Info(s.logg.WithField(ctx, "cart_id", cart.ID.String()), "abandoned cart recovered")
	}
	return s.load(ctx, carts, cart.ID)
}

func (s *service) recoverTracker(ctx context.Context, tx *gorm.DB, cartID uuid.UUID) error {
	trackers := s.trackers.WithTx(tx)
	tracker, err := trackers.FindByCartID(ctx, cartID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load abandonment tracker")
	}
	if tracker == nil || tracker.Status.IsTerminal() {
		return nil
	}
	if _, err := trackers.Advance(ctx, tracker.ID, tracker.Status, enums.AbandonmentStatusRecovered, map[string]any{
		"recovered_at":     s.now(),
		"next_reminder_at": nil,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recover abandonment tracker")
	}
	return nil
}

func (s *service) loadMutable(ctx context.Context, carts CartRepository, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := s.load(ctx, carts, cartID)
	if err != nil {
		return nil, err
	}
	if cart.Status == enums.CartStatusConverted {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart already checked out")
	}
	return cart, nil
}

func (s *service) load(ctx context.Context, carts CartRepository, cartID uuid.UUID) (*models.Cart, error) {
	if cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	cart, err := carts.FindByID(ctx, cartID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	if cart == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return cart, nil
}
