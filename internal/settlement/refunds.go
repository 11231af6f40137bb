package settlement

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/ledger"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/monnify"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
	"github.com/shopcore/commerce-backend/pkg/wallet"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RefundInput requests money back on a paid order. Amount may be left zero
// for a FULL refund.
type RefundInput struct {
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	Type        enums.RefundType
	Method      enums.RefundMethod
	Reason      string
	ReturnItems []models.ReturnItem
	Actor       string
}

func (s *service) RequestRefund(ctx context.Context, input RefundInput) (*models.Refund, error) {
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported refund type")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported refund method")
	}
	order, err := s.loadOrder(ctx, s.orders, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "only paid orders can be refunded").
			WithDetails(map[string]any{"payment_status": string(order.PaymentStatus)})
	}
	if input.Method == enums.RefundMethodOriginalPayment && order.TransactionReference == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no gateway payment to reverse")
	}

	refundable := order.RefundableAmount()
	amount := input.Amount.Round(2)
	if input.Type == enums.RefundTypeFull {
		if amount.IsZero() {
			amount = refundable
		}
		if !amount.Equal(refundable) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "full refund must cover the refundable amount").
				WithDetails(map[string]any{"refundable": refundable.StringFixed(2)})
		}
	}
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	if amount.GreaterThan(refundable) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds refundable amount").
			WithDetails(map[string]any{
				"requested":  amount.StringFixed(2),
				"refundable": refundable.StringFixed(2),
			})
	}
	if err := validateReturnItems(order, input.ReturnItems); err != nil {
		return nil, err
	}

	now := s.now()
	refund := &models.Refund{
		OrderID:         order.ID,
		RefundReference: newReference("RFD", now),
		Type:            input.Type,
		Method:          input.Method,
		Reason:          strings.TrimSpace(input.Reason),
		Status:          enums.RefundStatusRequested,
		AmountRequested: amount,
		AmountApproved:  amount,
		AmountRefunded:  decimal.Zero,
		ReturnItems:     input.ReturnItems,
		RequestedBy:     actorOrSystem(input.Actor),
		CreatedAt:       now,
	}
	if err := s.repo.CreateRefund(ctx, refund); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create refund")
	}
	return refund, nil
}

func validateReturnItems(order *models.Order, items []models.ReturnItem) error {
	seen := map[uuid.UUID]bool{}
	for _, ret := range items {
		if seen[ret.OrderItemID] {
			return pkgerrors.New(pkgerrors.CodeValidation, "return item listed twice")
		}
		seen[ret.OrderItemID] = true
		var line *models.OrderItem
		for i := range order.Items {
			if order.Items[i].ID == ret.OrderItemID {
				line = &order.Items[i]
			}
		}
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "return item is not on the order")
		}
		if ret.Quantity <= 0 || ret.Quantity > line.Quantity-line.ReturnedQuantity {
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid return quantity").
				WithDetails(map[string]any{"order_item_id": line.ID.String()})
		}
	}
	return nil
}

// ProcessRefund executes the money movements of a requested refund. The
// platform side reverses the customer payment; when the business has already
// been settled its share is clawed back separately. Each side succeeds or
// fails on its own.
func (s *service) ProcessRefund(ctx context.Context, refundID uuid.UUID) (*models.Refund, error) {
	var (
		refund *models.Refund
		order  *models.Order
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		refund, err = s.loadRefund(ctx, repo, refundID)
		if err != nil {
			return err
		}
		if refund.Status != enums.RefundStatusRequested {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund is not awaiting processing").
				WithDetails(map[string]any{"status": string(refund.Status)})
		}
		order, err = s.loadOrder(ctx, s.orders.WithTx(tx), refund.OrderID)
		if err != nil {
			return err
		}
		if refund.AmountApproved.GreaterThan(order.RefundableAmount()) {
			return pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds refundable amount")
		}

		ok, err := repo.TransitionRefund(ctx, refund.ID, enums.RefundStatusRequested, enums.RefundStatusProcessing, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "start refund")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund changed concurrently")
		}
		refund.Status = enums.RefundStatusProcessing

		refund.Transactions = nil
		for _, leg := range s.split(ctx, repo, order, refund) {
			txn := &models.RefundTransaction{
				RefundID:    refund.ID,
				Side:        leg.side,
				Destination: leg.destination,
				Amount:      leg.amount,
				Status:      enums.RefundTransactionPending,
			}
			if err := repo.CreateTransaction(ctx, txn); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create refund transaction")
			}
			refund.Transactions = append(refund.Transactions, *txn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithFields(s.logg.WithOrderID(ctx, order.ID.String()), map[string]any{"refund_reference": refund.RefundReference})
	for i := range refund.Transactions {
		s.execute(ctx, order, refund, &refund.Transactions[i])
	}

	succeeded := decimal.Zero
	for _, txn := range refund.Transactions {
		if txn.Status == enums.RefundTransactionSucceeded {
			succeeded = succeeded.Add(txn.Amount)
		}
	}
	final := finalStatus(refund.Transactions)

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		return s.finish(ctx, tx, order, refund, succeeded, final)
	})
	if err != nil {
		// Money has already moved; the row stays PROCESSING for manual repair.
		s.logg.Error(ctx, "refund outcome could not be recorded", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record refund outcome").WithAlert()
	}

	refund, err = s.loadRefund(ctx, s.repo, refund.ID)
	if err != nil {
		return nil, err
	}
	if final == enums.RefundStatusFailed {
		s.logg.Warn(ctx, "refund failed")
		s.notifier.SendRefundFailure(ctx, *order, *refund)
	} else {
		s.notifier.SendRefundSuccess(ctx, *order, *refund)
	}
	return refund, nil
}

type refundLeg struct {
	side        enums.RefundSide
	destination enums.RefundMethod
	amount      decimal.Decimal
}

func (s *service) split(ctx context.Context, repo Repository, order *models.Order, refund *models.Refund) []refundLeg {
	amount := refund.AmountApproved
	if !order.IsBusinessSettled {
		return []refundLeg{{side: enums.RefundSidePlatform, destination: refund.Method, amount: amount}}
	}
	share := s.shares.For(order.BusinessID)
	if row, err := repo.FindSettlementByOrder(ctx, order.ID); err == nil && row != nil {
		share = row.SharePercent
	}
	business := portion(amount, share)
	legs := []refundLeg{}
	if platform := amount.Sub(business); platform.IsPositive() {
		legs = append(legs, refundLeg{side: enums.RefundSidePlatform, destination: refund.Method, amount: platform})
	}
	if business.IsPositive() {
		legs = append(legs, refundLeg{side: enums.RefundSideBusiness, destination: enums.RefundMethodWallet, amount: business})
	}
	return legs
}

// execute runs one money movement and records its result on txn.
func (s *service) execute(ctx context.Context, order *models.Order, refund *models.Refund, txn *models.RefundTransaction) {
	reference := refund.RefundReference + "-" + strings.ToUpper(string(txn.Side[:1]))
	var (
		providerRef string
		err         error
	)
	switch {
	case txn.Side == enums.RefundSideBusiness:
		var transfer *wallet.Transfer
		transfer, err = s.wallet.ReverseSettlement(ctx, wallet.ReversalRequest{
			BusinessID: order.BusinessID,
			Amount:     txn.Amount,
			Reference:  reference,
			Narration:  "Refund " + refund.RefundReference + " on order " + order.OrderReference,
		})
		if err == nil {
			providerRef, err = transferOutcome(transfer)
		}
	case txn.Destination == enums.RefundMethodWallet:
		var transfer *wallet.Transfer
		transfer, err = s.wallet.CreditCustomer(ctx, wallet.CreditRequest{
			CustomerID: order.CustomerID,
			Amount:     txn.Amount,
			Reference:  reference,
			Narration:  "Refund for order " + order.OrderReference,
		})
		if err == nil {
			providerRef, err = transferOutcome(transfer)
		}
	default:
		var result *monnify.RefundResult
		result, err = s.gateway.InitiateRefund(ctx, monnify.RefundRequest{
			TransactionReference: *order.TransactionReference,
			RefundReference:      reference,
			Amount:               txn.Amount,
			Reason:               refund.Reason,
			CustomerNote:         "Refund for order " + order.OrderReference,
		})
		if err == nil {
			providerRef = result.RefundReference
			if strings.EqualFold(result.RefundStatus, monnify.RefundFailed) {
				err = pkgerrors.New(pkgerrors.CodeDependency, "gateway rejected refund: "+result.Comment)
			}
		}
	}

	if providerRef != "" {
		txn.ProviderReference = &providerRef
	}
	if err != nil {
		msg := err.Error()
		txn.Error = &msg
		txn.Status = enums.RefundTransactionFailed
		if pkgerrors.IsCode(err, pkgerrors.CodeGatewayTimeout) {
			s.logg.Error(s.logg.WithField(ctx, "side", string(txn.Side)), "refund outcome unknown; check with provider before retrying", err)
		} else {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"side": string(txn.Side), "error": msg}), "refund transaction failed")
		}
		return
	}
	txn.Status = enums.RefundTransactionSucceeded
}

func transferOutcome(transfer *wallet.Transfer) (string, error) {
	if transfer == nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "wallet returned no transfer")
	}
	if strings.EqualFold(transfer.Status, "failed") {
		return transfer.Reference, pkgerrors.New(pkgerrors.CodeDependency, "wallet transfer failed")
	}
	return transfer.Reference, nil
}

func finalStatus(txns []models.RefundTransaction) enums.RefundStatus {
	ok := 0
	for _, txn := range txns {
		if txn.Status == enums.RefundTransactionSucceeded {
			ok++
		}
	}
	switch {
	case len(txns) > 0 && ok == len(txns):
		return enums.RefundStatusCompleted
	case ok > 0:
		return enums.RefundStatusPartiallyCompleted
	default:
		return enums.RefundStatusFailed
	}
}

func (s *service) finish(ctx context.Context, tx *gorm.DB, order *models.Order, refund *models.Refund, succeeded decimal.Decimal, final enums.RefundStatus) error {
	repo := s.repo.WithTx(tx)
	for i := range refund.Transactions {
		if err := repo.SaveTransaction(ctx, &refund.Transactions[i]); err != nil {
			return err
		}
	}
	fields := map[string]any{
		"amount_refunded": succeeded,
		"processed_at":    s.now(),
	}
	if final == enums.RefundStatusFailed {
		fields["failure_reason"] = "all refund transactions failed"
	}
	ok, err := repo.TransitionRefund(ctx, refund.ID, enums.RefundStatusProcessing, final, fields)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "refund changed concurrently")
	}
	refund.Status = final
	refund.AmountRefunded = succeeded
	if !succeeded.IsPositive() {
		return s.emitProcessed(ctx, tx, refund)
	}

	orderRepo := s.orders.WithTx(tx)
	ok, err = orderRepo.AddRefundedAmount(ctx, order.ID, succeeded)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "refunds exceed order total")
	}
	// Decide on the committed sum: another refund may have landed since the
	// order was loaded.
	current, err := orderRepo.FindByID(ctx, order.ID)
	if err != nil {
		return err
	}
	order.RefundedAmount = current.RefundedAmount
	if current.RefundedAmount.GreaterThanOrEqual(current.Total) {
		if _, err := orderRepo.TransitionPayment(ctx, order.ID, []enums.PaymentStatus{enums.PaymentStatusPaid}, enums.PaymentStatusRefunded, nil); err != nil {
			return err
		}
	}

	for _, txn := range refund.Transactions {
		if txn.Status != enums.RefundTransactionSucceeded {
			continue
		}
		kind := enums.LedgerEventRefundPlatform
		if txn.Side == enums.RefundSideBusiness {
			kind = enums.LedgerEventRefundBusiness
		}
		if _, err := s.ledger.RecordEvent(ctx, tx, ledger.RecordLedgerEventInput{
			OrderID:    order.ID,
			BusinessID: order.BusinessID,
			Type:       kind,
			Amount:     txn.Amount,
			Reference:  refund.RefundReference,
			Actor:      refund.RequestedBy,
		}); err != nil {
			return err
		}
	}

	for _, ret := range refund.ReturnItems {
		if err := s.returnItem(ctx, tx, order, refund, ret); err != nil {
			return err
		}
	}
	return s.emitProcessed(ctx, tx, refund)
}

func (s *service) returnItem(ctx context.Context, tx *gorm.DB, order *models.Order, refund *models.Refund, ret models.ReturnItem) error {
	var line *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == ret.OrderItemID {
			line = &order.Items[i]
		}
	}
	if line == nil {
		return nil
	}
	ok, err := s.orders.WithTx(tx).AddReturnedQuantity(ctx, line.ID, ret.Quantity)
	if err != nil {
		return err
	}
	if !ok {
		s.logg.Warn(s.logg.WithField(ctx, "order_item_id", line.ID.String()), "return quantity already restocked")
		return nil
	}
	orderID := order.ID
	_, err = s.stock.Return(ctx, tx, line.SKUID, ret.Quantity, inventory.EntryRef{
		OrderID:       &orderID,
		ReservationID: line.ReservationID,
		Actor:         refund.RequestedBy,
		Note:          "refund " + refund.RefundReference,
	})
	return err
}

func (s *service) emitProcessed(ctx context.Context, tx *gorm.DB, refund *models.Refund) error {
	summary := make([]payloads.RefundTransactionSummary, len(refund.Transactions))
	for i, txn := range refund.Transactions {
		summary[i] = payloads.RefundTransactionSummary{Side: txn.Side, Amount: txn.Amount, Status: txn.Status}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundProcessed,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Actor:         &outbox.ActorRef{Role: string(enums.ActorRoleAdmin)},
		Data: payloads.RefundProcessedEvent{
			RefundID:        refund.ID,
			OrderID:         refund.OrderID,
			RefundReference: refund.RefundReference,
			Status:          refund.Status,
			AmountRequested: refund.AmountRequested,
			AmountRefunded:  refund.AmountRefunded,
			Transactions:    summary,
		},
	})
}

func (s *service) Refund(ctx context.Context, input RefundInput) (*models.Refund, error) {
	refund, err := s.RequestRefund(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.ProcessRefund(ctx, refund.ID)
}

func (s *service) CancelRefund(ctx context.Context, refundID uuid.UUID, actor string) (*models.Refund, error) {
	refund, err := s.loadRefund(ctx, s.repo, refundID)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.TransitionRefund(ctx, refund.ID, enums.RefundStatusRequested, enums.RefundStatusCancelled, map[string]any{
		"failure_reason": "cancelled by " + actorOrSystem(actor),
		"processed_at":   s.now(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel refund")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "only requested refunds can be cancelled")
	}
	return s.loadRefund(ctx, s.repo, refund.ID)
}

func (s *service) GetRefund(ctx context.Context, refundID uuid.UUID) (*models.Refund, error) {
	return s.loadRefund(ctx, s.repo, refundID)
}

func (s *service) ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error) {
	rows, err := s.repo.ListRefunds(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list refunds")
	}
	return rows, nil
}

func (s *service) loadRefund(ctx context.Context, repo Repository, refundID uuid.UUID) (*models.Refund, error) {
	if refundID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
	}
	refund, err := repo.FindRefund(ctx, refundID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load refund")
	}
	if refund == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found")
	}
	return refund, nil
}
