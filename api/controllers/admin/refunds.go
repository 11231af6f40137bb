package admin

import (
	"net/http"

	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	"github.com/shopcore/commerce-backend/internal/settlement"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

const maxReasonLength = 500

type refundRequest struct {
	Amount      decimal.Decimal     `json:"amount" validate:"money"`
	Type        string              `json:"type" validate:"required"`
	Method      string              `json:"method" validate:"required"`
	Reason      string              `json:"reason"`
	ReturnItems []models.ReturnItem `json:"return_items,omitempty"`
	Process     bool                `json:"process"`
}

// RequestRefund opens a refund on an order. With "process": true the
// refund is executed in the same call.
func RequestRefund(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refundType, err := enums.ParseRefundType(req.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown refund type"))
			return
		}
		method, err := enums.ParseRefundMethod(req.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown refund method"))
			return
		}

		input := settlement.RefundInput{
			OrderID:     orderID,
			Amount:      req.Amount,
			Type:        refundType,
			Method:      method,
			Reason:      validators.SanitizeString(req.Reason, maxReasonLength),
			ReturnItems: req.ReturnItems,
			Actor:       middleware.Actor(r.Context()),
		}
		ctx := logg.WithOrderID(r.Context(), orderID.String())

		var refund *models.Refund
		if req.Process {
			refund, err = svc.Refund(ctx, input)
		} else {
			refund, err = svc.RequestRefund(ctx, input)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewRefund(refund))
	}
}

func ListRefunds(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.ListRefunds(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]dto.Refund, 0, len(rows))
		for i := range rows {
			out = append(out, dto.NewRefund(&rows[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// ProcessRefund executes a REQUESTED refund. Partial failures are reported
// in the refund body, not as an HTTP error.
func ProcessRefund(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.PathUUID(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refund, err := svc.ProcessRefund(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewRefund(refund))
	}
}

func CancelRefund(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refundID, err := validators.PathUUID(r, "refundId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		refund, err := svc.CancelRefund(r.Context(), refundID, middleware.Actor(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewRefund(refund))
	}
}
