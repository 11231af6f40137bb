package payments

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	internalpayments "github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
)

type initializeRequest struct {
	OrderID       string `json:"order_id" validate:"required,uuid"`
	PaymentMethod string `json:"payment_method"`
	RedirectURL   string `json:"redirect_url" validate:"omitempty,url"`
}

type verifyRequest struct {
	TransactionReference string `json:"transaction_reference" validate:"required"`
}

// VerifyResponse is the verification outcome with the order as it stands afterwards.
type VerifyResponse struct {
	Order         dto.Order                `json:"order"`
	GatewayStatus string                   `json:"gateway_status"`
	Outcome       internalpayments.Outcome `json:"outcome"`
}

func NewVerifyResponse(res *internalpayments.VerifyResult) VerifyResponse {
	return VerifyResponse{
		Order:         dto.NewOrder(res.Order),
		GatewayStatus: res.GatewayStatus,
		Outcome:       res.Outcome,
	}
}

// Initialize opens a gateway checkout for a pending or failed order.
func Initialize(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing"))
			return
		}

		var req initializeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var method enums.PaymentMethod
		if req.PaymentMethod != "" {
			if method, err = enums.ParsePaymentMethod(req.PaymentMethod); err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unsupported payment method"))
				return
			}
		}

		res, err := svc.Initialize(r.Context(), internalpayments.InitializeInput{
			OrderID:       uuid.MustParse(req.OrderID),
			ActorID:       actorID,
			PaymentMethod: method,
			RedirectURL:   req.RedirectURL,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, res)
	}
}

// Verify asks the gateway for the authoritative status and applies it.
func Verify(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		res, err := svc.Verify(r.Context(), req.TransactionReference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if middleware.RoleFromContext(r.Context()) == enums.ActorRoleCustomer &&
			middleware.UserIDFromContext(r.Context()) != res.Order.CustomerID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
			return
		}
		responses.WriteSuccess(w, NewVerifyResponse(res))
	}
}
