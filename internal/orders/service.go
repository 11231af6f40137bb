package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/ledger"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
	pkgpagination "github.com/shopcore/commerce-backend/pkg/pagination"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type cartStore interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error)
	MarkConverted(ctx context.Context, tx *gorm.DB, cartID, orderID uuid.UUID) error
}

type stockLedger interface {
	GetSKU(ctx context.Context, skuID uuid.UUID) (*models.InventoryUnit, error)
	Return(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref inventory.EntryRef) (*inventory.Movement, error)
	AlertIfLow(ctx context.Context, movements ...*inventory.Movement)
}

type reservationManager interface {
	Get(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID) (*models.StockReservation, error)
	HoldForOrder(ctx context.Context, tx *gorm.DB, input reservations.OrderHoldInput) (*models.StockReservation, error)
	ExtendForCheckout(ctx context.Context, tx *gorm.DB, reservationID, orderID uuid.UUID, newExpiry time.Time) (*models.StockReservation, error)
	Fulfill(ctx context.Context, tx *gorm.DB, reservationID, orderID uuid.UUID) (*inventory.Movement, error)
	Release(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, reason string) (bool, error)
}

type moneyLedger interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input ledger.RecordLedgerEventInput) (*models.LedgerEvent, error)
}

type orderNotifier interface {
	SendOrderConfirmation(ctx context.Context, order models.Order)
	SendNewOrderAlert(ctx context.Context, order models.Order)
}

// Service is the order aggregate: the single place that decides what an
// order may do next.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error)
	UpdateItemStatus(ctx context.Context, input UpdateItemStatusInput) (*models.Order, error)
	MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Order, error)
	MarkFailed(ctx context.Context, input MarkFailedInput) (*models.Order, error)
	ReopenForPayment(ctx context.Context, orderID uuid.UUID, actor string) (*models.Order, error)
	AttachTransactionReference(ctx context.Context, orderID uuid.UUID, transactionReference, paymentReference string) error
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error)
	FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error)
	FindByReference(ctx context.Context, ref string) (*models.Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error)
	ListStuck(ctx context.Context, params StuckParams) (*StuckOrderList, error)
	ListPendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error)
}

type ServiceParams struct {
	DB                txRunner
	Repository        Repository
	Carts             cartStore
	Stock             stockLedger
	Reservations      reservationManager
	Ledger            moneyLedger
	Outbox            outboxPublisher
	Notifier          orderNotifier
	Logger            *logger.Logger
	CheckoutExtension time.Duration
	Clock             func() time.Time
}

type service struct {
	db           txRunner
	repo         Repository
	carts        cartStore
	stock        stockLedger
	reservations reservationManager
	ledger       moneyLedger
	outbox       outboxPublisher
	notifier     orderNotifier
	logg         *logger.Logger
	extension    time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Carts == nil:
		return nil, fmt.Errorf("cart store required")
	case params.Stock == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Reservations == nil:
		return nil, fmt.Errorf("reservation manager required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("money ledger required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.CheckoutExtension <= 0:
		return nil, fmt.Errorf("checkout extension must be positive")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		db:           params.DB,
		repo:         params.Repository,
		carts:        params.Carts,
		stock:        params.Stock,
		reservations: params.Reservations,
		ledger:       params.Ledger,
		outbox:       params.Outbox,
		notifier:     params.Notifier,
		logg:         params.Logger,
		extension:    params.CheckoutExtension,
		now:          func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.CartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id is required")
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method")
	}
	if err := input.Delivery.Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery details")
	}
	if input.ShippingFee.IsNegative() || input.Tax.IsNegative() || input.Discount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amounts must not be negative")
	}

	cart, err := s.carts.GetCart(ctx, input.CartID)
	if err != nil {
		return nil, err
	}
	if input.ActorID != uuid.Nil && cart.CustomerID != input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "cart does not belong to caller")
	}
	if cart.Status == enums.CartStatusConverted {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart already checked out")
	}
	if len(cart.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	now := s.now()
	orderID := uuid.New()
	order := &models.Order{
		ID:             orderID,
		OrderReference: newOrderReference(now),
		BusinessID:     cart.BusinessID,
		CustomerID:     cart.CustomerID,
		CustomerEmail:  cart.CustomerEmail,
		CustomerName:   strings.TrimSpace(input.CustomerName),
		CartID:         &cart.ID,
		Status:         enums.OrderStatusPending,
		PaymentStatus:  enums.PaymentStatusPending,
		PaymentMethod:  input.PaymentMethod,
		Currency:       cart.Currency,
		ShippingFee:    input.ShippingFee.Round(2),
		Tax:            input.Tax.Round(2),
		Discount:       input.Discount.Round(2),
		RefundedAmount: decimal.Zero,
		Delivery:       input.Delivery,
		CreatedAt:      now,
	}

	subtotal := decimal.Zero
	for _, line := range cart.Items {
		if line.ReservationID == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart item has no stock hold").
				WithDetails(map[string]any{"sku_id": line.SKUID.String()})
		}
		unit, err := s.stock.GetSKU(ctx, line.SKUID)
		if err != nil {
			return nil, err
		}
		lineTotal := unit.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2)
		subtotal = subtotal.Add(lineTotal)
		order.Items = append(order.Items, models.OrderItem{
			ID:            uuid.New(),
			OrderID:       orderID,
			SKUID:         unit.ID,
			ReservationID: line.ReservationID,
			SKUCode:       unit.SKUCode,
			Name:          unit.Name,
			UnitPrice:     unit.UnitPrice,
			Quantity:      line.Quantity,
			LineTotal:     lineTotal,
			Status:        enums.OrderStatusPending,
		})
	}
	order.Subtotal = subtotal
	order.Total = subtotal.Add(order.ShippingFee).Add(order.Tax).Sub(order.Discount)
	if order.Total.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "discount exceeds order value")
	}
	if input.ExpectedTotal != nil && !input.ExpectedTotal.Round(2).Equal(order.Total) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total does not reconcile").
			WithDetails(map[string]any{
				"expected": input.ExpectedTotal.StringFixed(2),
				"computed": order.Total.StringFixed(2),
			})
	}

	var movements []*inventory.Movement
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		movements = nil
		for _, item := range order.Items {
			held, err := s.reservations.ExtendForCheckout(ctx, tx, *item.ReservationID, orderID, now.Add(s.extension))
			if err != nil {
				if pkgerrors.IsCode(err, pkgerrors.CodeConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
					return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stock hold is no longer active").
						WithDetails(map[string]any{"sku_id": item.SKUID.String()})
				}
				return err
			}
			if held.SKUID != item.SKUID || held.Quantity != item.Quantity {
				return pkgerrors.New(pkgerrors.CodeValidation, "stock hold does not match cart item").
					WithDetails(map[string]any{"sku_id": item.SKUID.String()})
			}
			// Cash on delivery has no payment step to wait for.
			if order.PaymentMethod == enums.PaymentMethodCashOnDelivery {
				mv, err := s.reservations.Fulfill(ctx, tx, held.ID, orderID)
				if err != nil {
					return err
				}
				movements = append(movements, mv)
			}
		}

		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		if err := s.carts.MarkConverted(ctx, tx, cart.ID, orderID); err != nil {
			return err
		}
		if err := s.recordHistory(ctx, repo, orderID, nil, axisStatus, "", string(enums.OrderStatusPending), customerActor(input.ActorID), nil, nil); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{ActorID: actorIDPtr(input.ActorID), BusinessID: &order.BusinessID, Role: string(enums.ActorRoleCustomer)},
			Data: payloads.OrderCreatedEvent{
				OrderID:        orderID,
				OrderReference: order.OrderReference,
				BusinessID:     order.BusinessID,
				CustomerID:     order.CustomerID,
				Total:          order.Total,
				Currency:       order.Currency,
				PaymentMethod:  order.PaymentMethod,
				ItemCount:      len(order.Items),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.stock.AlertIfLow(ctx, movements...)
	created, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notifier.SendNewOrderAlert(ctx, *created)
	return created, nil
}

func (s *service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	actor := defaultActor(input.Actor)

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOwned(ctx, repo, input.OrderID, input.BusinessID)
		if err != nil {
			return err
		}
		changed, err := CheckTransition(order.Status, input.Status, order.PaymentStatus, order.PaymentMethod)
		if err != nil || !changed {
			return err
		}
		return s.moveOrder(ctx, tx, order, input.Status, actor, input.Notes, input.Metadata)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, input.OrderID)
}

func (s *service) UpdateItemStatus(ctx context.Context, input UpdateItemStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil || input.ItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and item id are required")
	}
	actor := defaultActor(input.Actor)

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.loadOwned(ctx, repo, input.OrderID, input.BusinessID)
		if err != nil {
			return err
		}
		item := findItem(order, input.ItemID)
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
		}
		if order.Status.IsTerminal() {
			return invalidTransition(order.Status, input.Status, "order is closed")
		}
		changed, err := CheckTransition(item.Status, input.Status, order.PaymentStatus, order.PaymentMethod)
		if err != nil || !changed {
			return err
		}
		// Items may run at most one step ahead of their order.
		if next, ok := nextStatus(order.Status); stage(input.Status) > stage(order.Status) && (!ok || input.Status != next) {
			return invalidTransition(item.Status, input.Status, "order has not reached the previous step")
		}

		ok, err := repo.UpdateItemStatus(ctx, order.ID, item.ID, item.Status, input.Status)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update item status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "item changed concurrently")
		}
		from := item.Status
		item.Status = input.Status

		if input.Status == enums.OrderStatusCancelled {
			if err := s.restoreItemStock(ctx, tx, order, item, actor); err != nil {
				return err
			}
		}
		if err := s.recordHistory(ctx, repo, order.ID, &item.ID, axisItem, string(from), string(input.Status), actor, input.Notes, input.Metadata); err != nil {
			return err
		}
		if err := s.emitStatusChanged(ctx, tx, order, &item.ID, from, input.Status, actor); err != nil {
			return err
		}
		return s.rollUpItems(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, input.OrderID)
}

// rollUpItems advances the order once every live item has reached the next
// step, and cancels it when every item was cancelled.
func (s *service) rollUpItems(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	live := 0
	next, hasNext := nextStatus(order.Status)
	allNext := hasNext
	for _, item := range order.Items {
		if item.Status == enums.OrderStatusCancelled {
			continue
		}
		live++
		if item.Status != next {
			allNext = false
		}
	}

	switch {
	case live == 0 && cancellableFrom[order.Status]:
		return s.moveOrder(ctx, tx, order, enums.OrderStatusCancelled, actorSystem, nil, nil)
	case live > 0 && allNext:
		if _, err := CheckTransition(order.Status, next, order.PaymentStatus, order.PaymentMethod); err != nil {
			return nil
		}
		return s.moveOrder(ctx, tx, order, next, actorSystem, nil, nil)
	}
	return nil
}

// moveOrder applies an already validated order-level transition.
func (s *service) moveOrder(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor string, notes *string, metadata map[string]any) error {
	repo := s.repo.WithTx(tx)
	from := order.Status
	ok, err := repo.UpdateStatus(ctx, order.ID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently")
	}
	order.Status = to

	if to == enums.OrderStatusCancelled {
		for i := range order.Items {
			item := &order.Items[i]
			if item.Status == enums.OrderStatusCancelled || item.Status.IsTerminal() {
				continue
			}
			if _, err := repo.UpdateItemStatus(ctx, order.ID, item.ID, item.Status, to); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel order item")
			}
			item.Status = to
			if err := s.restoreItemStock(ctx, tx, order, item, actor); err != nil {
				return err
			}
		}
	} else if err := repo.AdvanceItems(ctx, order.ID, from, to); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order items")
	}

	if err := s.recordHistory(ctx, repo, order.ID, nil, axisStatus, string(from), string(to), actor, notes, metadata); err != nil {
		return err
	}
	return s.emitStatusChanged(ctx, tx, order, nil, from, to, actor)
}

// restoreItemStock releases a pending hold, or returns stock that was already
// sold, for a cancelled item.
func (s *service) restoreItemStock(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem, actor string) error {
	if item.ReservationID == nil {
		return nil
	}
	hold, err := s.reservations.Get(ctx, tx, *item.ReservationID)
	if err != nil {
		return err
	}
	switch hold.Status {
	case enums.ReservationStatusPending:
		_, err := s.reservations.Release(ctx, tx, hold.ID, reservations.ReasonCancelled)
		return err
	case enums.ReservationStatusFulfilled:
		qty := item.Quantity - item.ReturnedQuantity
		if qty <= 0 {
			return nil
		}
		ok, err := s.repo.WithTx(tx).AddReturnedQuantity(ctx, item.ID, qty)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record returned quantity")
		}
		if !ok {
			return nil
		}
		item.ReturnedQuantity += qty
		orderID := order.ID
		_, err = s.stock.Return(ctx, tx, item.SKUID, qty, inventory.EntryRef{
			OrderID:       &orderID,
			ReservationID: &hold.ID,
			Actor:         actor,
			Note:          "order cancelled",
		})
		return err
	}
	return nil
}

func (s *service) AttachTransactionReference(ctx context.Context, orderID uuid.UUID, transactionReference, paymentReference string) error {
	transactionReference = strings.TrimSpace(transactionReference)
	if transactionReference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	fields := map[string]any{"transaction_reference": transactionReference}
	if paymentReference != "" {
		fields["payment_reference"] = paymentReference
	}
	ok, err := s.repo.TransitionPayment(ctx, orderID, []enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusPending, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "attach transaction reference")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "order is not awaiting payment")
	}
	return nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.load(ctx, s.repo, orderID)
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusHistory, error) {
	rows, err := s.repo.ListHistory(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list order history")
	}
	return rows, nil
}

func (s *service) FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error) {
	return s.find(ctx, s.repo.FindByTransactionReference, ref)
}

func (s *service) FindByReference(ctx context.Context, ref string) (*models.Order, error) {
	return s.find(ctx, s.repo.FindByReference, ref)
}

func (s *service) FindByPaymentReference(ctx context.Context, ref string) (*models.Order, error) {
	return s.find(ctx, s.repo.FindByPaymentReference, ref)
}

func (s *service) find(ctx context.Context, lookup func(context.Context, string) (*models.Order, error), ref string) (*models.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	order, err := lookup(ctx, ref)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "find order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) ListStuck(ctx context.Context, params StuckParams) (*StuckOrderList, error) {
	if params.OlderThan <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "older_than must be positive")
	}
	cursor, err := params.Decode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	now := s.now()
	rows, err := s.repo.ListStuck(ctx, stuckQuery{
		createdBefore: now.Add(-params.OlderThan),
		limit:         pkgpagination.FetchLimit(params.Limit),
		cursor:        cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stuck orders")
	}
	rows, nextCursor := pkgpagination.Trim(rows, params.Limit, func(o models.Order) pkgpagination.Cursor {
		return pkgpagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})

	items := make([]StuckOrder, len(rows))
	for i, row := range rows {
		items[i] = toStuckOrder(row, now)
	}
	return &StuckOrderList{Items: items, NextCursor: nextCursor}, nil
}

func (s *service) ListPendingPayments(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	rows, err := s.repo.ListPendingPayments(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pending payments")
	}
	return rows, nil
}

func (s *service) loadOwned(ctx context.Context, repo Repository, orderID, businessID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, repo, orderID)
	if err != nil {
		return nil, err
	}
	if businessID != uuid.Nil && order.BusinessID != businessID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to business")
	}
	return order, nil
}

func (s *service) load(ctx context.Context, repo Repository, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) recordHistory(ctx context.Context, repo Repository, orderID uuid.UUID, itemID *uuid.UUID, axis, from, to, actor string, notes *string, metadata map[string]any) error {
	entry := &models.OrderStatusHistory{
		OrderID:    orderID,
		ItemID:     itemID,
		Axis:       axis,
		FromStatus: from,
		ToStatus:   to,
		Actor:      actor,
		Notes:      notes,
		Metadata:   metadata,
		CreatedAt:  s.now(),
	}
	if err := repo.InsertHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record status history")
	}
	return nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, itemID *uuid.UUID, from, to enums.OrderStatus, actor string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{BusinessID: &order.BusinessID, Role: actor},
		Data: payloads.OrderStatusChangedEvent{
			OrderID:        order.ID,
			OrderReference: order.OrderReference,
			BusinessID:     order.BusinessID,
			ItemID:         itemID,
			From:           from,
			To:             to,
			Actor:          actor,
		},
	})
}

func findItem(order *models.Order, itemID uuid.UUID) *models.OrderItem {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return &order.Items[i]
		}
	}
	return nil
}

// newOrderReference builds the customer-facing reference, e.g. ORD-20260301-3F9A1C2B.
func newOrderReference(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.Format("20060102"), suffix)
}

func defaultActor(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return actorSystem
	}
	return actor
}

func customerActor(id uuid.UUID) string {
	if id == uuid.Nil {
		return string(enums.ActorRoleCustomer)
	}
	return id.String()
}

func actorIDPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
