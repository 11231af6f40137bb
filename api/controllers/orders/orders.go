package orders

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	internalorders "github.com/shopcore/commerce-backend/internal/orders"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/types"
	"github.com/shopspring/decimal"
)

const maxNoteLength = 500

type checkoutRequest struct {
	CartID        string             `json:"cart_id" validate:"required,uuid"`
	CustomerName  string             `json:"customer_name"`
	PaymentMethod string             `json:"payment_method" validate:"required"`
	Delivery      types.DeliveryInfo `json:"delivery"`
	ShippingFee   decimal.Decimal    `json:"shipping_fee" validate:"money"`
	Tax           decimal.Decimal    `json:"tax" validate:"money"`
	Discount      decimal.Decimal    `json:"discount" validate:"money"`
	ExpectedTotal *decimal.Decimal   `json:"expected_total,omitempty" validate:"omitempty,money"`
}

type statusRequest struct {
	Status   string        `json:"status" validate:"required"`
	Notes    string        `json:"notes"`
	Metadata types.JSONMap `json:"metadata,omitempty"`
}

// Checkout converts the caller's cart into a PENDING order.
func Checkout(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		method, err := enums.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method"))
			return
		}

		order, err := svc.Create(r.Context(), internalorders.CreateOrderInput{
			CartID:        uuid.MustParse(req.CartID),
			ActorID:       actorID,
			CustomerName:  validators.SanitizeString(req.CustomerName, 200),
			PaymentMethod: method,
			Delivery:      req.Delivery,
			ShippingFee:   req.ShippingFee,
			Tax:           req.Tax,
			Discount:      req.Discount,
			ExpectedTotal: req.ExpectedTotal,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewOrder(order))
	}
}

// Get returns an order to its customer, its merchant, or an admin.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !canView(r.Context(), order) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

// UpdateStatus moves the whole order on the fulfilment axis.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		businessID, status, req, err := decodeStatus(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.UpdateStatus(r.Context(), internalorders.UpdateStatusInput{
			OrderID:    orderID,
			Status:     status,
			Actor:      middleware.Actor(r.Context()),
			BusinessID: businessID,
			Notes:      notes(req.Notes),
			Metadata:   req.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

func UpdateItemStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.PathUUID(r, "itemId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		businessID, status, req, err := decodeStatus(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.UpdateItemStatus(r.Context(), internalorders.UpdateItemStatusInput{
			OrderID:    orderID,
			ItemID:     itemID,
			Status:     status,
			Actor:      middleware.Actor(r.Context()),
			BusinessID: businessID,
			Notes:      notes(req.Notes),
			Metadata:   req.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewOrder(order))
	}
}

func decodeStatus(r *http.Request) (uuid.UUID, enums.OrderStatus, statusRequest, error) {
	var req statusRequest
	businessID, ok := middleware.BusinessIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, "", req, pkgerrors.New(pkgerrors.CodeForbidden, "business context required")
	}
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		return uuid.Nil, "", req, err
	}
	status, err := enums.ParseOrderStatus(req.Status)
	if err != nil {
		return uuid.Nil, "", req, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown order status")
	}
	return businessID, status, req, nil
}

func notes(raw string) *string {
	clean := validators.SanitizeString(raw, maxNoteLength)
	if clean == "" {
		return nil
	}
	return &clean
}

func canView(ctx context.Context, order *models.Order) bool {
	switch middleware.RoleFromContext(ctx) {
	case enums.ActorRoleAdmin:
		return true
	case enums.ActorRoleMerchant:
		businessID, ok := middleware.BusinessIDFromContext(ctx)
		return ok && businessID == order.BusinessID
	default:
		return middleware.UserIDFromContext(ctx) == order.CustomerID.String()
	}
}
