package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/controllers/payments"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	internalorders "github.com/shopcore/commerce-backend/internal/orders"
	internalpayments "github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/internal/settlement"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/pagination"
)

const defaultStuckAge = 30 * time.Minute

// StuckOrders lists orders whose payment has been pending longer than older_than.
func StuckOrders(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		olderThan := defaultStuckAge
		if raw := strings.TrimSpace(r.URL.Query().Get("older_than")); raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil || parsed <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "older_than must be a positive duration").WithDetails(map[string]any{"field": "older_than"}))
				return
			}
			olderThan = parsed
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.ListStuck(r.Context(), internalorders.StuckParams{
			OlderThan: olderThan,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// Reconcile re-verifies one order against the gateway.
func Reconcile(svc internalpayments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		res, err := svc.ReconcileOrder(logg.WithOrderID(r.Context(), orderID.String()), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payments.NewVerifyResponse(res))
	}
}

// Settle records the merchant payout for a paid order.
func Settle(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.PathUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		row, err := svc.Settle(logg.WithOrderID(r.Context(), orderID.String()), settlement.SettleInput{
			OrderID: orderID,
			Actor:   middleware.Actor(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewSettlement(row))
	}
}
