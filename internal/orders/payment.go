package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/ledger"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
	"github.com/shopcore/commerce-backend/pkg/types"
	"gorm.io/gorm"
)

// MarkPaid records a successful payment. It is idempotent: an order that is
// already paid is returned unchanged and nothing is emitted twice.
func (s *service) MarkPaid(ctx context.Context, input MarkPaidInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	if input.TransactionReference != "" {
		ctx = s.logg.WithTransactionReference(ctx, input.TransactionReference)
	}
	paidAt := input.PaidAt.UTC()
	if input.PaidAt.IsZero() {
		paidAt = s.now()
	}

	var (
		movements []*inventory.Movement
		confirmed bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		movements = nil
		confirmed = false
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		switch order.PaymentStatus {
		case enums.PaymentStatusPaid, enums.PaymentStatusRefunded:
			return nil
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeConflict, "payment received for cancelled order").
				WithDetails(map[string]any{"order_id": order.ID.String()}).
				WithAlert()
		}
		if input.AmountPaid.LessThan(order.Total) {
			return pkgerrors.New(pkgerrors.CodeConflict, "amount paid is below order total").
				WithDetails(map[string]any{
					"order_id":    order.ID.String(),
					"amount_paid": input.AmountPaid.StringFixed(2),
					"total":       order.Total.StringFixed(2),
				}).
				WithAlert()
		}

		fields := map[string]any{
			"amount_paid":            input.AmountPaid.Round(2),
			"paid_at":                paidAt,
			"payment_failure_reason": nil,
		}
		if input.TransactionReference != "" {
			fields["transaction_reference"] = input.TransactionReference
		}
		if input.PaymentReference != "" {
			fields["payment_reference"] = input.PaymentReference
		}
		from := order.PaymentStatus
		ok, err := repo.TransitionPayment(ctx, order.ID, []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusFailed}, enums.PaymentStatusPaid, fields)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
		}
		if !ok {
			// Lost the race to a concurrent confirmation.
			return nil
		}
		order.PaymentStatus = enums.PaymentStatusPaid

		for i := range order.Items {
			mv, err := s.commitItemStock(ctx, tx, order, &order.Items[i])
			if err != nil {
				return err
			}
			if mv != nil {
				movements = append(movements, mv)
			}
		}

		if err := s.recordHistory(ctx, repo, order.ID, nil, axisPayment, string(from), string(enums.PaymentStatusPaid), sourceActor(input.Source), nil, types.JSONMap{
			"transaction_reference": input.TransactionReference,
			"amount_paid":           input.AmountPaid.StringFixed(2),
		}); err != nil {
			return err
		}
		if order.Status == enums.OrderStatusPending {
			if err := s.moveOrder(ctx, tx, order, enums.OrderStatusConfirmed, actorSystem, nil, nil); err != nil {
				return err
			}
		}
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:    order.ID,
			BusinessID: order.BusinessID,
			Type:       enums.LedgerEventPaymentCollected,
			Amount:     input.AmountPaid,
			Reference:  input.TransactionReference,
			Actor:      sourceActor(input.Source),
			Metadata:   types.JSONMap{"payment_method": input.PaymentMethod},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment in ledger")
		}
		// Settlement consumes order_paid; one per order even across a reopen.
		if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{BusinessID: &order.BusinessID, Role: string(enums.ActorRoleSystem)},
			Data: payloads.OrderPaidEvent{
				OrderID:              order.ID,
				OrderReference:       order.OrderReference,
				BusinessID:           order.BusinessID,
				TransactionReference: input.TransactionReference,
				AmountPaid:           input.AmountPaid,
				Total:                order.Total,
				PaidAt:               paidAt,
				Source:               input.Source,
			},
		}); err != nil {
			return err
		}
		if err := repo.UpdateFields(ctx, order.ID, map[string]any{"confirmation_sent_at": s.now()}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stamp confirmation")
		}
		confirmed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	order, err := s.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if confirmed {
		s.logg.Info(ctx, "order payment confirmed")
		s.stock.AlertIfLow(ctx, movements...)
		s.notifier.SendOrderConfirmation(ctx, *order)
	}
	return order, nil
}

// commitItemStock turns the item's hold into a sale. A hold that lapsed while
// the buyer was paying is re-acquired; if the stock is gone the payment needs
// manual attention.
func (s *service) commitItemStock(ctx context.Context, tx *gorm.DB, order *models.Order, item *models.OrderItem) (*inventory.Movement, error) {
	if item.Status == enums.OrderStatusCancelled {
		return nil, nil
	}
	if item.ReservationID != nil {
		mv, err := s.reservations.Fulfill(ctx, tx, *item.ReservationID, order.ID)
		if err == nil {
			return mv, nil
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			return nil, err
		}
		s.logg.Warn(s.logg.WithField(ctx, "reservation_id", item.ReservationID.String()), "stock hold lapsed before payment; re-acquiring")
	}

	hold, err := s.reservations.HoldForOrder(ctx, tx, reservations.OrderHoldInput{
		OrderID:   order.ID,
		SKUID:     item.SKUID,
		Quantity:  item.Quantity,
		ExpiresAt: s.now().Add(s.extension),
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "stock no longer available for paid order").
				WithDetails(map[string]any{
					"order_id": order.ID.String(),
					"sku_id":   item.SKUID.String(),
				}).
				WithAlert()
		}
		return nil, err
	}
	if err := s.repo.WithTx(tx).SetItemReservation(ctx, item.ID, hold.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link replacement hold")
	}
	item.ReservationID = &hold.ID
	return s.reservations.Fulfill(ctx, tx, hold.ID, order.ID)
}

// MarkFailed records a failed payment attempt and frees the order's stock.
func (s *service) MarkFailed(ctx context.Context, input MarkFailedInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = "payment failed"
	}
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		switch order.PaymentStatus {
		case enums.PaymentStatusFailed:
			return nil
		case enums.PaymentStatusPending:
		default:
			return pkgerrors.New(pkgerrors.CodeConflict, "order payment already settled").
				WithDetails(map[string]any{"payment_status": string(order.PaymentStatus)})
		}

		ok, err := repo.TransitionPayment(ctx, order.ID, []enums.PaymentStatus{enums.PaymentStatusPending}, enums.PaymentStatusFailed, map[string]any{
			"payment_failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark payment failed")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order payment changed concurrently")
		}

		for _, item := range order.Items {
			if item.ReservationID == nil {
				continue
			}
			if _, err := s.reservations.Release(ctx, tx, *item.ReservationID, reservations.ReasonPaymentFailed); err != nil {
				return err
			}
		}

		if err := s.recordHistory(ctx, repo, order.ID, nil, axisPayment, string(enums.PaymentStatusPending), string(enums.PaymentStatusFailed), sourceActor(input.Source), &reason, nil); err != nil {
			return err
		}
		txRef := ""
		if order.TransactionReference != nil {
			txRef = *order.TransactionReference
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{BusinessID: &order.BusinessID, Role: string(enums.ActorRoleSystem)},
			Data: payloads.PaymentFailedEvent{
				OrderID:              order.ID,
				OrderReference:       order.OrderReference,
				TransactionReference: txRef,
				Reason:               reason,
				Source:               input.Source,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, input.OrderID)
}

// ReopenForPayment lets the buyer retry a failed payment. Fresh holds are
// taken because the originals were released when the attempt failed.
func (s *service) ReopenForPayment(ctx context.Context, orderID uuid.UUID, actor string) (*models.Order, error) {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if order.PaymentStatus != enums.PaymentStatusFailed {
			return pkgerrors.New(pkgerrors.CodeConflict, "only failed payments can be retried")
		}
		if order.Status != enums.OrderStatusPending {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is no longer awaiting payment")
		}

		for _, item := range order.Items {
			if item.Status == enums.OrderStatusCancelled {
				continue
			}
			hold, err := s.reservations.HoldForOrder(ctx, tx, reservations.OrderHoldInput{
				OrderID:   order.ID,
				SKUID:     item.SKUID,
				Quantity:  item.Quantity,
				ExpiresAt: s.now().Add(s.extension),
			})
			if err != nil {
				return err
			}
			if err := repo.SetItemReservation(ctx, item.ID, hold.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link retry hold")
			}
		}

		ok, err := repo.TransitionPayment(ctx, order.ID, []enums.PaymentStatus{enums.PaymentStatusFailed}, enums.PaymentStatusPending, map[string]any{
			"payment_failure_reason": nil,
			"transaction_reference":  nil,
			"payment_reference":      nil,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reopen payment")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order payment changed concurrently")
		}
		return s.recordHistory(ctx, repo, order.ID, nil, axisPayment, string(enums.PaymentStatusFailed), string(enums.PaymentStatusPending), defaultActor(actor), nil, nil)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func sourceActor(source string) string {
	if source == "" {
		return actorSystem
	}
	return source
}
