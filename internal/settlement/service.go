package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/ledger"
	"github.com/shopcore/commerce-backend/internal/orders"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/monnify"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/outbox/payloads"
	"github.com/shopcore/commerce-backend/pkg/wallet"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type moneyLedger interface {
	RecordEvent(ctx context.Context, tx *gorm.DB, input ledger.RecordLedgerEventInput) (*models.LedgerEvent, error)
}

type stockReturner interface {
	Return(ctx context.Context, tx *gorm.DB, skuID uuid.UUID, qty int, ref inventory.EntryRef) (*inventory.Movement, error)
}

type refundGateway interface {
	InitiateRefund(ctx context.Context, req monnify.RefundRequest) (*monnify.RefundResult, error)
}

type walletClient interface {
	ResolveSettlementAccount(ctx context.Context, businessID uuid.UUID) (*wallet.SettlementAccount, error)
	CreditCustomer(ctx context.Context, req wallet.CreditRequest) (*wallet.Transfer, error)
	ReverseSettlement(ctx context.Context, req wallet.ReversalRequest) (*wallet.Transfer, error)
}

type refundNotifier interface {
	SendRefundSuccess(ctx context.Context, order models.Order, refund models.Refund)
	SendRefundFailure(ctx context.Context, order models.Order, refund models.Refund)
}

// Service settles paid orders with their business and executes refunds.
type Service interface {
	Settle(ctx context.Context, input SettleInput) (*models.Settlement, error)
	RequestRefund(ctx context.Context, input RefundInput) (*models.Refund, error)
	ProcessRefund(ctx context.Context, refundID uuid.UUID) (*models.Refund, error)
	Refund(ctx context.Context, input RefundInput) (*models.Refund, error)
	CancelRefund(ctx context.Context, refundID uuid.UUID, actor string) (*models.Refund, error)
	GetRefund(ctx context.Context, refundID uuid.UUID) (*models.Refund, error)
	ListRefunds(ctx context.Context, orderID uuid.UUID) ([]models.Refund, error)
}

type SettleInput struct {
	OrderID uuid.UUID
	Actor   string
}

type ServiceParams struct {
	DB         txRunner
	Repository Repository
	Orders     orders.Repository
	Stock      stockReturner
	Ledger     moneyLedger
	Outbox     outboxPublisher
	Gateway    refundGateway
	Wallet     walletClient
	Notifier   refundNotifier
	Shares     *SharePolicy
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	db       txRunner
	repo     Repository
	orders   orders.Repository
	stock    stockReturner
	ledger   moneyLedger
	outbox   outboxPublisher
	gateway  refundGateway
	wallet   walletClient
	notifier refundNotifier
	shares   *SharePolicy
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("settlement repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Stock == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("money ledger required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("refund gateway required")
	case params.Wallet == nil:
		return nil, fmt.Errorf("wallet client required")
	case params.Notifier == nil:
		return nil, fmt.Errorf("notifier required")
	case params.Shares == nil:
		return nil, fmt.Errorf("share policy required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		db:       params.DB,
		repo:     params.Repository,
		orders:   params.Orders,
		stock:    params.Stock,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		gateway:  params.Gateway,
		wallet:   params.Wallet,
		notifier: params.Notifier,
		shares:   params.Shares,
		logg:     params.Logger,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

// Settle credits the business its share of a paid order. The payout itself is
// carried out by the payout service consuming settlement_recorded.
func (s *service) Settle(ctx context.Context, input SettleInput) (*models.Settlement, error) {
	order, err := s.loadOrder(ctx, s.orders, input.OrderID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())
	if err := settleable(order); err != nil {
		return nil, err
	}

	share := s.shares.For(order.BusinessID)
	amount := portion(order.Total, share)
	fee := order.Total.Sub(amount)

	account, err := s.wallet.ResolveSettlementAccount(ctx, order.BusinessID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	row := &models.Settlement{
		OrderID:            order.ID,
		BusinessID:         order.BusinessID,
		Reference:          newReference("STL", now),
		Amount:             amount,
		PlatformFee:        fee,
		SharePercent:       share,
		DestinationBank:    account.BankCode,
		DestinationAccount: account.AccountNumber,
		DestinationName:    account.AccountName,
		Actor:              actorOrSystem(input.Actor),
		CreatedAt:          now,
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.orders.WithTx(tx).MarkSettled(ctx, order.ID, amount, row.Reference, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "flag order settled")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already settled")
		}
		if err := s.repo.WithTx(tx).CreateSettlement(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create settlement")
		}
		for _, entry := range []ledger.RecordLedgerEventInput{
			{Type: enums.LedgerEventBusinessSettlement, Amount: amount},
			{Type: enums.LedgerEventPlatformFee, Amount: fee},
		} {
			entry.OrderID = order.ID
			entry.BusinessID = order.BusinessID
			entry.Reference = row.Reference
			entry.Actor = row.Actor
			if _, err := s.ledger.RecordEvent(ctx, tx, entry); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record settlement in ledger")
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementRecorded,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   row.ID,
			Actor:         &outbox.ActorRef{BusinessID: &order.BusinessID, Role: string(enums.ActorRoleSystem)},
			Data: payloads.SettlementRecordedEvent{
				SettlementID: row.ID,
				OrderID:      order.ID,
				BusinessID:   order.BusinessID,
				Reference:    row.Reference,
				Amount:       amount,
				PlatformFee:  fee,
				Currency:     order.Currency,
				Destination: payloads.PayoutDestination{
					BankCode:      account.BankCode,
					AccountNumber: account.AccountNumber,
					AccountName:   account.AccountName,
				},
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "settlement_reference", row.Reference), "order settled")
	return row, nil
}

func settleable(order *models.Order) error {
	switch {
	case order.IsBusinessSettled:
		return pkgerrors.New(pkgerrors.CodeConflict, "order already settled")
	case order.PaymentStatus != enums.PaymentStatusPaid:
		return pkgerrors.New(pkgerrors.CodeConflict, "only paid orders can be settled").
			WithDetails(map[string]any{"payment_status": string(order.PaymentStatus)})
	case !order.RefundableAmount().IsPositive():
		return pkgerrors.New(pkgerrors.CodeConflict, "order has been fully refunded")
	}
	return nil
}

func (s *service) loadOrder(ctx context.Context, repo orders.Repository, orderID uuid.UUID) (*models.Order, error) {
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

// newReference builds references like STL-20260302-9F1C2A7B.
func newReference(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}

func actorOrSystem(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return string(enums.ActorRoleSystem)
	}
	return actor
}
