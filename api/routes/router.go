package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopcore/commerce-backend/api/controllers"
	"github.com/shopcore/commerce-backend/api/controllers/admin"
	"github.com/shopcore/commerce-backend/api/controllers/carts"
	ordercontrollers "github.com/shopcore/commerce-backend/api/controllers/orders"
	paymentcontrollers "github.com/shopcore/commerce-backend/api/controllers/payments"
	"github.com/shopcore/commerce-backend/api/controllers/skus"
	webhookcontrollers "github.com/shopcore/commerce-backend/api/controllers/webhooks"
	"github.com/shopcore/commerce-backend/api/middleware"
	"github.com/shopcore/commerce-backend/internal/cart"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/orders"
	"github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/internal/settlement"
	monnifywebhook "github.com/shopcore/commerce-backend/internal/webhooks/monnify"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/enums"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	pkgredis "github.com/shopcore/commerce-backend/pkg/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps is everything the HTTP surface needs, built once in cmd/api.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Health       map[string]controllers.Pinger
	Metrics      http.Handler
	Idempotency  pkgredis.IdempotencyStore
	RateLimiter  middleware.RateLimitStore
	Carts        cart.Service
	Orders       orders.Service
	Payments     payments.Service
	Inventory    inventory.Service
	Reservations reservations.Manager
	Settlement   settlement.Service
	DLQ          *outbox.DLQRepository
	Replayer     *monnifywebhook.Reconciler
	Webhook      webhookcontrollers.MonnifyWebhookParams
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		otelhttp.NewMiddleware(cfg.Service.Kind),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	paymentsLimit := middleware.RateLimit(
		middleware.NewRateLimitPolicy("payments", cfg.RateLimit.Window, cfg.RateLimit.PaymentsIPLimit, cfg.RateLimit.PaymentsActorLimit),
		deps.RateLimiter,
		logg,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps.Health, logg))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Post("/orders/webhook/monnify", webhookcontrollers.MonnifyWebhook(deps.Webhook))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleCustomer, enums.ActorRoleAdmin))

			r.Post("/carts", carts.Create(deps.Carts, logg))
			r.Route("/carts/{cartId}", func(r chi.Router) {
				r.Get("/", carts.Get(deps.Carts, logg))
				r.Post("/items", carts.AddItem(deps.Carts, logg))
				r.Patch("/items/{skuId}", carts.UpdateItem(deps.Carts, logg))
				r.Delete("/items/{skuId}", carts.RemoveItem(deps.Carts, logg))
			})

			r.Post("/checkout", ordercontrollers.Checkout(deps.Orders, logg))
			r.With(paymentsLimit).Post("/payments/initialize", paymentcontrollers.Initialize(deps.Payments, logg))
			r.With(paymentsLimit).Post("/payments/verify", paymentcontrollers.Verify(deps.Payments, logg))
		})

		r.With(middleware.RequireRole(logg, enums.ActorRoleCustomer, enums.ActorRoleMerchant, enums.ActorRoleAdmin)).
			Get("/orders/{orderId}", ordercontrollers.Get(deps.Orders, logg))

		r.Route("/merchant", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleMerchant))

			r.Patch("/orders/{orderId}/status", ordercontrollers.UpdateStatus(deps.Orders, logg))
			r.Patch("/orders/{orderId}/items/{itemId}/status", ordercontrollers.UpdateItemStatus(deps.Orders, logg))

			r.Post("/skus", skus.Create(deps.Inventory, logg))
			r.Route("/skus/{skuId}", func(r chi.Router) {
				r.Get("/", skus.Get(deps.Inventory, logg))
				r.Post("/restock", skus.Restock(deps.Inventory, logg))
				r.Post("/adjust", skus.Adjust(deps.Inventory, logg))
				r.Get("/ledger", skus.Ledger(deps.Inventory, logg))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

			r.Get("/orders/stuck", admin.StuckOrders(deps.Orders, logg))
			r.Post("/orders/{orderId}/reconcile", admin.Reconcile(deps.Payments, logg))
			r.Post("/orders/{orderId}/settle", admin.Settle(deps.Settlement, logg))
			r.Post("/orders/{orderId}/refunds", admin.RequestRefund(deps.Settlement, logg))
			r.Get("/orders/{orderId}/refunds", admin.ListRefunds(deps.Settlement, logg))
			r.Post("/refunds/{refundId}/process", admin.ProcessRefund(deps.Settlement, logg))
			r.Post("/refunds/{refundId}/cancel", admin.CancelRefund(deps.Settlement, logg))
			r.Get("/skus/{skuId}/audit", skus.Audit(deps.Inventory, deps.Reservations, logg))
			r.Get("/outbox/dlq", admin.OutboxDLQ(deps.DLQ, logg))
			r.Post("/webhooks/{receiptId}/replay", admin.ReplayWebhook(deps.Replayer, logg))
		})
	})

	return r
}
