package carts

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/api/controllers/dto"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/api/responses"
	"github.com/shopcore/commerce-backend/api/validators"
	"github.com/shopcore/commerce-backend/internal/cart"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	pkgerrors "github.com/shopcore/commerce-backend/pkg/errors"
	"github.com/shopcore/commerce-backend/pkg/logger"
)

type createCartRequest struct {
	BusinessID    string `json:"business_id" validate:"required,uuid"`
	CustomerEmail string `json:"customer_email" validate:"required,email"`
	Currency      string `json:"currency" validate:"omitempty,len=3"`
}

type addItemRequest struct {
	SKUID    string `json:"sku_id" validate:"required,uuid"`
	Quantity int    `json:"quantity" validate:"required,min=1"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

// Create opens a cart for the authenticated customer.
func Create(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createCartRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		created, err := svc.CreateCart(r.Context(), cart.CreateCartInput{
			BusinessID:    uuid.MustParse(req.BusinessID),
			CustomerID:    customerID,
			CustomerEmail: req.CustomerEmail,
			Currency:      req.Currency,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, dto.NewCart(created))
	}
}

func Get(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewCart(c))
	}
}

// AddItem reserves stock for a new line, or tops up an existing one.
func AddItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req addItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.AddItem(r.Context(), cart.ItemInput{
			CartID:   c.ID,
			SKUID:    uuid.MustParse(req.SKUID),
			Quantity: req.Quantity,
			Actor:    middleware.Actor(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewCart(updated))
	}
}

// UpdateItem sets the line quantity; zero removes the line.
func UpdateItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		skuID, err := validators.PathUUID(r, "skuId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updateItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.UpdateItem(r.Context(), cart.ItemInput{
			CartID:   c.ID,
			SKUID:    skuID,
			Quantity: req.Quantity,
			Actor:    middleware.Actor(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewCart(updated))
	}
}

func RemoveItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := loadOwned(r, svc)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		skuID, err := validators.PathUUID(r, "skuId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := svc.RemoveItem(r.Context(), c.ID, skuID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.NewCart(updated))
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(middleware.UserIDFromContext(r.Context()))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller identity missing")
	}
	return id, nil
}

// loadOwned fetches the path cart and hides carts that belong to someone else.
func loadOwned(r *http.Request, svc cart.Service) (*models.Cart, error) {
	cartID, err := validators.PathUUID(r, "cartId")
	if err != nil {
		return nil, err
	}
	c, err := svc.GetCart(r.Context(), cartID)
	if err != nil {
		return nil, err
	}
	if !canAccess(r.Context(), c.CustomerID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	return c, nil
}

func canAccess(ctx context.Context, owner uuid.UUID) bool {
	if middleware.RoleFromContext(ctx) == enums.ActorRoleAdmin {
		return true
	}
	return middleware.UserIDFromContext(ctx) == owner.String()
}
