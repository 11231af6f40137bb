package skus

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
	maxNoteLength      = 500
)

type createRequest struct {
	SKUCode           string          `json:"sku_code" validate:"required,max=64"`
	Name              string          `json:"name" validate:"required,max=200"`
	UnitPrice         decimal.Decimal `json:"unit_price" validate:"money"`
	InitialStock      int             `json:"initial_stock" validate:"min=0"`
	LowStockThreshold int             `json:"low_stock_threshold" validate:"min=0"`
}

type restockRequest struct {
	Quantity int    `json:"quantity" validate:"required,min=1"`
	Note     string `json:"note"`
}

type adjustRequest struct {
	Delta  int    `json:"delta" validate:"required"`
	Reason string `json:"reason" validate:"required"`
	Note   string `json:"note"`
}

// Create registers a SKU for the merchant's business.
func Create(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, ok := middleware.BusinessIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "business context required"))
			return
		}

		var req createRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		unit, err := svc.CreateSKU(r.Context(), inventory.CreateSKUInput{
			BusinessID:        businessID,
			SKUCode:           req.SKUCode,
			Name:              validators.SanitizeString(req.Name, 200),
			UnitPrice:         req.UnitPrice,
			InitialStock:      req.InitialStock,
			LowStockThreshold: req.LowStockThreshold,
			Actor:             middleware.Actor(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewSKU(unit))
	}
}

func Get(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewSKU(unit))
	}
}

func Restock(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req restockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		mv, err := svc.Restock(r.Context(), inventory.RestockInput{
			SKUID:    unit.ID,
			Quantity: req.Quantity,
			Actor:    middleware.Actor(r.Context()),
			Note:     validators.SanitizeString(req.Note, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewMovement(mv.Unit, mv.Entry, mv.LowStock))
	}
}

// Adjust applies a signed correction with an explicit reason code.
func Adjust(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adjustRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		reason, err := enums.ParseInventoryReason(req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown adjustment reason"))
			return
		}

		mv, err := svc.Adjust(r.Context(), inventory.AdjustInput{
			SKUID:  unit.ID,
			Delta:  req.Delta,
			Reason: reason,
			Actor:  middleware.Actor(r.Context()),
			Note:   validators.SanitizeString(req.Note, maxNoteLength),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewMovement(mv.Unit, mv.Entry, mv.LowStock))
	}
}

// Ledger lists the SKU's most recent ledger entries.
func Ledger(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		unit, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultLedgerLimit, 1, maxLedgerLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.ListEntries(r.Context(), unit.ID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewLedgerEntries(entries))
	}
}

type reservationAuditor interface {
	VerifySKU(ctx context.Context, skuID uuid.UUID) (*reservations.SKUAudit, error)
}

// AuditReport joins the ledger replay with the reservation invariant.
type AuditReport struct {
	Ledger       *inventory.LedgerReport `json:"ledger"`
	Reservations *reservations.SKUAudit  `json:"reservations"`
	Consistent   bool                    `json:"consistent"`
}

// Audit replays the SKU ledger against its counters and pending holds.
func Audit(svc inventory.Service, holds reservationAuditor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		skuID, err := validators.PathUUID(r, "skuId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ledgerReport, err := svc.VerifyLedger(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		holdReport, err := holds.VerifySKU(r.Context(), skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report := AuditReport{
			Ledger:       ledgerReport,
			Reservations: holdReport,
			Consistent:   ledgerReport.Consistent && holdReport.Consistent,
		}
		if !report.Consistent {
			logg.Warn(logg.WithField(r.Context(), "sku_id", skuID.String()), "inventory audit found drift")
		}
		responses.WriteSuccess(w, report)
	}
}

// loadOwned hides SKUs of other businesses behind a 404.
func loadOwned(r *http.Request, svc inventory.Service) (*models.InventoryUnit, error) {
	skuID, err := validators.PathUUID(r, "skuId")
	if err != nil {
		return nil, err
	}
	unit, err := svc.GetSKU(r.Context(), skuID)
	if err != nil {
		return nil, err
	}
	if middleware.RoleFromContext(r.Context()) == enums.ActorRoleAdmin {
		return unit, nil
	}
	businessID, ok := middleware.BusinessIDFromContext(r.Context())
	if !ok || businessID != unit.BusinessID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sku not found")
	}
	return unit, nil
}
