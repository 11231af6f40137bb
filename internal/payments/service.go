package payments

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/internal/orders"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/monnify"
)

const sourceVerify = "verify"

type gateway interface {
	InitializeTransaction(ctx context.Context, req monnify.InitRequest) (*monnify.InitResult, error)
	GetTransactionStatus(ctx context.Context, transactionReference string) (*monnify.Transaction, error)
}

type orderService interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByTransactionReference(ctx context.Context, ref string) (*models.Order, error)
	MarkPaid(ctx context.Context, input orders.MarkPaidInput) (*models.Order, error)
	MarkFailed(ctx context.Context, input orders.MarkFailedInput) (*models.Order, error)
	ReopenForPayment(ctx context.Context, orderID uuid.UUID, actor string) (*models.Order, error)
	AttachTransactionReference(ctx context.Context, orderID uuid.UUID, transactionReference, paymentReference string) error
}

// Service starts payments with the gateway and re-checks them on demand.
type Service interface {
	Initialize(ctx context.Context, input InitializeInput) (*InitializeResult, error)
	Verify(ctx context.Context, transactionReference string) (*VerifyResult, error)
	ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*VerifyResult, error)
	Apply(ctx context.Context, order *models.Order, tx *monnify.Transaction, source string) (*models.Order, Outcome, error)
}

type InitializeInput struct {
	OrderID       uuid.UUID
	ActorID       uuid.UUID
	PaymentMethod enums.PaymentMethod
	RedirectURL   string
}

type InitializeResult struct {
	OrderID              uuid.UUID `json:"order_id"`
	TransactionReference string    `json:"transaction_reference"`
	PaymentReference     string    `json:"payment_reference"`
	CheckoutURL          string    `json:"checkout_url"`
}

type VerifyResult struct {
	Order         *models.Order `json:"order"`
	GatewayStatus string        `json:"gateway_status"`
	Outcome       Outcome       `json:"outcome"`
}

type ServiceParams struct {
	Gateway gateway
	Orders  orderService
	Logger  *logger.Logger
	Clock   func() time.Time
}

type service struct {
	gateway gateway
	orders  orderService
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		gateway: params.Gateway,
		orders:  params.Orders,
		logg:    params.Logger,
		now:     clock,
	}, nil
}

func (s *service) Initialize(ctx context.Context, input InitializeInput) (*InitializeResult, error) {
	order, err := s.orders.Get(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if input.ActorID != uuid.Nil && order.CustomerID != input.ActorID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to caller")
	}
	if order.PaymentMethod == enums.PaymentMethodCashOnDelivery {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cash on delivery orders are paid on delivery")
	}
	switch order.PaymentStatus {
	case enums.PaymentStatusPaid, enums.PaymentStatusRefunded:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is already paid")
	}
	if order.Status == enums.OrderStatusCancelled {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "order is cancelled")
	}

	retry := order.PaymentStatus == enums.PaymentStatusFailed
	if retry {
		order, err = s.orders.ReopenForPayment(ctx, order.ID, customerActor(input.ActorID))
		if err != nil {
			return nil, err
		}
	}

	// Each attempt needs its own merchant reference; the first one is the
	// order reference itself.
	paymentRef := order.OrderReference
	if retry || order.TransactionReference != nil {
		paymentRef = fmt.Sprintf("%s-%d", order.OrderReference, s.now().Unix())
	}

	req := monnify.InitRequest{
		Amount:             order.Total,
		CustomerName:       order.CustomerName,
		CustomerEmail:      order.CustomerEmail,
		PaymentReference:   paymentRef,
		PaymentDescription: "Order " + order.OrderReference,
		RedirectURL:        strings.TrimSpace(input.RedirectURL),
		PaymentMethods:     gatewayMethods(input.PaymentMethod),
		Metadata: map[string]string{
			"order_id":        order.ID.String(),
			"order_reference": order.OrderReference,
		},
	}
	result, err := s.gateway.InitializeTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.orders.AttachTransactionReference(ctx, order.ID, result.TransactionReference, paymentRef); err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithTransactionReference(s.logg.WithOrderID(ctx, order.ID.String()), result.TransactionReference), "payment initialized")
	return &InitializeResult{
		OrderID:              order.ID,
		TransactionReference: result.TransactionReference,
		PaymentReference:     paymentRef,
		CheckoutURL:          result.CheckoutURL,
	}, nil
}

// Verify asks the gateway for the authoritative status and applies it. A
// timeout is returned as is: the outcome is unknown and the order is left
// untouched.
func (s *service) Verify(ctx context.Context, transactionReference string) (*VerifyResult, error) {
	transactionReference = strings.TrimSpace(transactionReference)
	if transactionReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}
	order, err := s.orders.FindByTransactionReference(ctx, transactionReference)
	if err != nil {
		return nil, err
	}
	return s.verifyOrder(ctx, order, transactionReference)
}

func (s *service) ReconcileOrder(ctx context.Context, orderID uuid.UUID) (*VerifyResult, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.TransactionReference == nil || *order.TransactionReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no gateway transaction")
	}
	return s.verifyOrder(ctx, order, *order.TransactionReference)
}

func (s *service) verifyOrder(ctx context.Context, order *models.Order, transactionReference string) (*VerifyResult, error) {
	ctx = s.logg.WithTransactionReference(s.logg.WithOrderID(ctx, order.ID.String()), transactionReference)
	txn, err := s.gateway.GetTransactionStatus(ctx, transactionReference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeGatewayTimeout) {
			s.logg.Warn(ctx, "payment status unknown; gateway timed out")
		}
		return nil, err
	}
	updated, outcome, err := s.Apply(ctx, order, txn, sourceVerify)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{Order: updated, GatewayStatus: txn.PaymentStatus, Outcome: outcome}, nil
}

// Apply drives the order from a gateway transaction. A failure report for an
// order that is already paid is ignored.
func (s *service) Apply(ctx context.Context, order *models.Order, txn *monnify.Transaction, source string) (*models.Order, Outcome, error) {
	outcome := OutcomeFor(txn.PaymentStatus)
	switch outcome {
	case OutcomePaid:
		paidAt, _ := monnify.ParsePaidOn(txn.PaidOn)
		updated, err := s.orders.MarkPaid(ctx, orders.MarkPaidInput{
			OrderID:              order.ID,
			TransactionReference: txn.TransactionReference,
			PaymentReference:     txn.PaymentReference,
			AmountPaid:           txn.AmountPaid,
			PaymentMethod:        txn.PaymentMethod,
			PaidAt:               paidAt,
			Source:               source,
		})
		return updated, outcome, err
	case OutcomeFailed:
		updated, err := s.orders.MarkFailed(ctx, orders.MarkFailedInput{
			OrderID: order.ID,
			Reason:  "gateway reported " + strings.ToUpper(txn.PaymentStatus),
			Source:  source,
		})
		if err != nil && pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
			s.logg.Warn(ctx, "ignoring failure report for settled payment")
			return order, outcome, nil
		}
		return updated, outcome, err
	default:
		return order, outcome, nil
	}
}

func gatewayMethods(method enums.PaymentMethod) []string {
	switch method {
	case enums.PaymentMethodCard:
		return []string{"CARD"}
	case enums.PaymentMethodAccountTransfer:
		return []string{"ACCOUNT_TRANSFER"}
	case enums.PaymentMethodUSSD:
		return []string{"USSD"}
	default:
		return nil
	}
}

func customerActor(id uuid.UUID) string {
	if id == uuid.Nil {
		return string(enums.ActorRoleCustomer)
	}
	return id.String()
}
