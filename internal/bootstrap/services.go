package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopcore/commerce-backend/internal/cart"
	"github.com/shopcore/commerce-backend/internal/inventory"
	"github.com/shopcore/commerce-backend/internal/ledger"
	"github.com/shopcore/commerce-backend/internal/notifications"
	"github.com/shopcore/commerce-backend/internal/orders"
	"github.com/shopcore/commerce-backend/internal/payments"
	"github.com/shopcore/commerce-backend/internal/reservations"
	"github.com/shopcore/commerce-backend/internal/settlement"
	monnifywebhook "github.com/shopcore/commerce-backend/internal/webhooks/monnify"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/db"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/metrics"
	"github.com/shopcore/commerce-backend/pkg/monnify"
	"github.com/shopcore/commerce-backend/pkg/outbox"
	"github.com/shopcore/commerce-backend/pkg/redis"
	"github.com/shopcore/commerce-backend/pkg/wallet"
)

// Params are the shared clients every binary opens before building services.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *db.Client
	Redis    *redis.Client
	Registry prometheus.Registerer
}

// Services is the domain graph. Binaries pick the pieces they run.
type Services struct {
	Outbox       *outbox.Service
	OutboxRepo   *outbox.Repository
	DLQ          *outbox.DLQRepository
	Notifier     *notifications.OutboxNotifier
	Inventory    inventory.Service
	Reservations reservations.Manager
	Carts        cart.Service
	Abandonment  *cart.Abandonment
	Ledger       ledger.Service
	OrderRepo    orders.Repository
	Orders       orders.Service
	Gateway      *monnify.Client
	Payments     payments.Service
	Settlement   settlement.Service

	WebhookGuard    *monnifywebhook.IdempotencyGuard
	WebhookReceipts *monnifywebhook.Receipts
	WebhookMetrics  *metrics.WebhookMetrics
	Reconciler      *monnifywebhook.Reconciler
}

// Build wires the domain services bottom-up: stock, holds, carts, orders,
// payments, settlement and the webhook reconciler.
func Build(p Params) (*Services, error) {
	if p.Config == nil || p.Logger == nil || p.DB == nil || p.Redis == nil {
		return nil, fmt.Errorf("config, logger, db and redis are required")
	}
	cfg := p.Config
	logg := p.Logger
	gdb := p.DB.DB()
	reg := p.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	s := &Services{
		OutboxRepo: outbox.NewRepository(gdb),
		DLQ:        outbox.NewDLQRepository(gdb),
	}
	s.Outbox = outbox.NewService(s.OutboxRepo, logg)

	var err error
	if s.Notifier, err = notifications.NewOutboxNotifier(p.DB, s.Outbox, logg); err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}

	if s.Inventory, err = inventory.NewService(inventory.ServiceParams{
		DB:         p.DB,
		Repository: inventory.NewRepository(gdb),
		Outbox:     s.Outbox,
		Notifier:   s.Notifier,
		Metrics:    metrics.NewInventoryMetrics(reg),
		Logger:     logg,
	}); err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}

	if s.Reservations, err = reservations.NewManager(reservations.ManagerParams{
		DB:         p.DB,
		Repository: reservations.NewRepository(gdb),
		Ledger:     s.Inventory,
		Logger:     logg,
		CartTTL:    cfg.Reservation.CartTTL,
	}); err != nil {
		return nil, fmt.Errorf("reservations: %w", err)
	}

	cartRepo := cart.NewRepository(gdb)
	trackers := cart.NewTrackerRepository(gdb)
	if s.Carts, err = cart.NewService(cart.ServiceParams{
		DB:           p.DB,
		Carts:        cartRepo,
		Trackers:     trackers,
		SKUs:         s.Inventory,
		Reservations: s.Reservations,
		Logger:       logg,
	}); err != nil {
		return nil, fmt.Errorf("cart: %w", err)
	}
	if s.Abandonment, err = cart.NewAbandonment(cart.AbandonmentParams{
		DB:           p.DB,
		Carts:        cartRepo,
		Trackers:     trackers,
		Reservations: s.Reservations,
		Notifier:     s.Notifier,
		Logger:       logg,
		Config:       cfg.Abandonment,
	}); err != nil {
		return nil, fmt.Errorf("cart abandonment: %w", err)
	}

	if s.Ledger, err = ledger.NewService(ledger.NewRepository(gdb)); err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	s.OrderRepo = orders.NewRepository(gdb)
	if s.Orders, err = orders.NewService(orders.ServiceParams{
		DB:                p.DB,
		Repository:        s.OrderRepo,
		Carts:             s.Carts,
		Stock:             s.Inventory,
		Reservations:      s.Reservations,
		Ledger:            s.Ledger,
		Outbox:            s.Outbox,
		Notifier:          s.Notifier,
		Logger:            logg,
		CheckoutExtension: cfg.Reservation.CheckoutExtension,
	}); err != nil {
		return nil, fmt.Errorf("orders: %w", err)
	}

	if s.Gateway, err = monnify.NewClient(cfg.Monnify, monnify.WithTokenStore(p.Redis)); err != nil {
		return nil, fmt.Errorf("monnify client: %w", err)
	}
	if s.Payments, err = payments.NewService(payments.ServiceParams{
		Gateway: s.Gateway,
		Orders:  s.Orders,
		Logger:  logg,
	}); err != nil {
		return nil, fmt.Errorf("payments: %w", err)
	}

	walletClient, err := wallet.NewClient(cfg.Wallet)
	if err != nil {
		return nil, fmt.Errorf("wallet client: %w", err)
	}
	shares, err := settlement.NewSharePolicy(cfg.Settlement)
	if err != nil {
		return nil, fmt.Errorf("revenue shares: %w", err)
	}
	if s.Settlement, err = settlement.NewService(settlement.ServiceParams{
		DB:         p.DB,
		Repository: settlement.NewRepository(gdb),
		Orders:     s.OrderRepo,
		Stock:      s.Inventory,
		Ledger:     s.Ledger,
		Outbox:     s.Outbox,
		Gateway:    s.Gateway,
		Wallet:     walletClient,
		Notifier:   s.Notifier,
		Shares:     shares,
		Logger:     logg,
	}); err != nil {
		return nil, fmt.Errorf("settlement: %w", err)
	}

	if s.WebhookGuard, err = monnifywebhook.NewIdempotencyGuard(p.Redis, cfg.Payments.WebhookDedupTTL); err != nil {
		return nil, fmt.Errorf("webhook guard: %w", err)
	}
	s.WebhookReceipts = monnifywebhook.NewReceipts(gdb)
	s.WebhookMetrics = metrics.NewWebhookMetrics(reg)
	if s.Reconciler, err = monnifywebhook.NewReconciler(monnifywebhook.ReconcilerParams{
		Orders:            s.Orders,
		Payments:          s.Payments,
		Receipts:          s.WebhookReceipts,
		Guard:             s.WebhookGuard,
		Metrics:           s.WebhookMetrics,
		Logger:            logg,
		MaxReplayAttempts: cfg.Payments.WebhookMaxReplays,
	}); err != nil {
		return nil, fmt.Errorf("webhook reconciler: %w", err)
	}

	return s, nil
}
