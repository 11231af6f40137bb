package orders

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopcore/commerce-backend/api/middleware"
	internalorders "github.com/shopcore/commerce-backend/internal/orders"
	"github.com/shopcore/commerce-backend/pkg/db/models"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/stretchr/testify/require"
)

type stubOrders struct {
	internalorders.Service
	order   *models.Order
	created *internalorders.CreateOrderInput
	updated *internalorders.UpdateStatusInput
}

func (s *stubOrders) Create(_ context.Context, input internalorders.CreateOrderInput) (*models.Order, error) {
	s.created = &input
	return s.order, nil
}

func (s *stubOrders) Get(context.Context, uuid.UUID) (*models.Order, error) {
	return s.order, nil
}

func (s *stubOrders) UpdateStatus(_ context.Context, input internalorders.UpdateStatusInput) (*models.Order, error) {
	s.updated = &input
	return s.order, nil
}

func newRouter(svc internalorders.Service) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	r := chi.NewRouter()
	r.Post("/checkout", Checkout(svc, logg))
	r.Get("/orders/{orderId}", Get(svc, logg))
	r.Patch("/orders/{orderId}/status", UpdateStatus(svc, logg))
	return r
}

func call(router http.Handler, method, path, userID string, role enums.ActorRole, businessID *uuid.UUID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(middleware.WithIdentity(req.Context(), userID, role, businessID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestCheckoutSanitizesAndParses(t *testing.T) {
	svc := &stubOrders{order: &models.Order{ID: uuid.New(), Status: enums.OrderStatusPending}}
	customer := uuid.New()
	cartID := uuid.New()

	resp := call(newRouter(svc), http.MethodPost, "/checkout", customer.String(), enums.ActorRoleCustomer, nil,
		`{"cart_id":"`+cartID.String()+`","customer_name":"  Ada Lovelace ","payment_method":"card","shipping_fee":"1500"}`)

	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.NotNil(t, svc.created)
	require.Equal(t, cartID, svc.created.CartID)
	require.Equal(t, customer, svc.created.ActorID)
	require.Equal(t, enums.PaymentMethodCard, svc.created.PaymentMethod)
	require.Equal(t, "Ada Lovelace", svc.created.CustomerName)
	require.Equal(t, "1500", svc.created.ShippingFee.String())
}

func TestCheckoutRejectsUnknownPaymentMethod(t *testing.T) {
	svc := &stubOrders{}

	resp := call(newRouter(svc), http.MethodPost, "/checkout", uuid.NewString(), enums.ActorRoleCustomer, nil,
		`{"cart_id":"`+uuid.NewString()+`","payment_method":"barter"}`)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Nil(t, svc.created)
}

func TestGetVisibility(t *testing.T) {
	customer := uuid.New()
	business := uuid.New()
	otherBusiness := uuid.New()
	svc := &stubOrders{order: &models.Order{ID: uuid.New(), CustomerID: customer, BusinessID: business}}
	router := newRouter(svc)
	path := "/orders/" + svc.order.ID.String()

	cases := []struct {
		name       string
		userID     string
		role       enums.ActorRole
		businessID *uuid.UUID
		want       int
	}{
		{"owner", customer.String(), enums.ActorRoleCustomer, nil, http.StatusOK},
		{"other customer", uuid.NewString(), enums.ActorRoleCustomer, nil, http.StatusNotFound},
		{"merchant of order", uuid.NewString(), enums.ActorRoleMerchant, &business, http.StatusOK},
		{"other merchant", uuid.NewString(), enums.ActorRoleMerchant, &otherBusiness, http.StatusNotFound},
		{"admin", uuid.NewString(), enums.ActorRoleAdmin, nil, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(router, http.MethodGet, path, tc.userID, tc.role, tc.businessID, "")
			require.Equal(t, tc.want, resp.Code)
		})
	}
}

func TestUpdateStatusRequiresBusinessContext(t *testing.T) {
	svc := &stubOrders{order: &models.Order{ID: uuid.New()}}

	resp := call(newRouter(svc), http.MethodPatch, "/orders/"+svc.order.ID.String()+"/status", uuid.NewString(), enums.ActorRoleAdmin, nil,
		`{"status":"shipped"}`)

	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Nil(t, svc.updated)
}

func TestUpdateStatusForwardsMerchantScope(t *testing.T) {
	business := uuid.New()
	merchant := uuid.New()
	svc := &stubOrders{order: &models.Order{ID: uuid.New(), BusinessID: business}}

	resp := call(newRouter(svc), http.MethodPatch, "/orders/"+svc.order.ID.String()+"/status", merchant.String(), enums.ActorRoleMerchant, &business,
		`{"status":"shipped","notes":"  handed to courier  "}`)

	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	require.NotNil(t, svc.updated)
	require.Equal(t, enums.OrderStatusShipped, svc.updated.Status)
	require.Equal(t, business, svc.updated.BusinessID)
	require.Equal(t, "merchant:"+merchant.String(), svc.updated.Actor)
	require.NotNil(t, svc.updated.Notes)
	require.Equal(t, "handed to courier", *svc.updated.Notes)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	business := uuid.New()
	svc := &stubOrders{order: &models.Order{ID: uuid.New()}}

	resp := call(newRouter(svc), http.MethodPatch, "/orders/"+svc.order.ID.String()+"/status", uuid.NewString(), enums.ActorRoleMerchant, &business,
		`{"status":"teleported"}`)

	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Nil(t, svc.updated)
}
