package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopcore/commerce-backend/api/controllers"
	webhookcontrollers "github.com/shopcore/commerce-backend/api/controllers/webhooks"
	"github.com/shopcore/commerce-backend/api/routes"
	"github.com/shopcore/commerce-backend/internal/bootstrap"
	monnifywebhook "github.com/shopcore/commerce-backend/internal/webhooks/monnify"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/db"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/migrate"
	"github.com/shopcore/commerce-backend/pkg/redis"
	"github.com/shopcore/commerce-backend/pkg/telemetry"
)

const shutdownTimeout = 20 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Telemetry, "shopcore-api")
	if err != nil {
		logg.Error(context.Background(), "failed to init telemetry", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logg.Error(context.Background(), "error flushing traces", err)
		}
	}()

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	services, err := bootstrap.Build(bootstrap.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: registry,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build services", err)
		os.Exit(1)
	}

	dispatcher, err := monnifywebhook.NewDispatcher(monnifywebhook.DispatcherParams{
		Handler:    services.Reconciler,
		Workers:    cfg.Payments.WebhookWorkers,
		QueueSize:  cfg.Payments.WebhookQueueSize,
		JobTimeout: cfg.Payments.WebhookTimeout,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to start webhook dispatcher", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	handler := routes.NewRouter(routes.Deps{
		Config: cfg,
		Logger: logg,
		Health: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Metrics:      promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Idempotency:  redisClient,
		RateLimiter:  redisClient,
		Carts:        services.Carts,
		Orders:       services.Orders,
		Payments:     services.Payments,
		Inventory:    services.Inventory,
		Reservations: services.Reservations,
		Settlement:   services.Settlement,
		DLQ:          services.DLQ,
		Replayer:     services.Reconciler,
		Webhook: webhookcontrollers.MonnifyWebhookParams{
			Secret:     cfg.Monnify.SigningSecret(),
			Guard:      services.WebhookGuard,
			Receipts:   services.WebhookReceipts,
			Dispatcher: dispatcher,
			Metrics:    services.WebhookMetrics,
			Logger:     logg,
		},
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "shutting down api server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "http server shutdown failed", err)
	}
	// Queued callbacks keep their receipts; the reconcile job replays anything
	// the dispatcher could not drain in time.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "webhook dispatcher shutdown failed", err)
	}
	logg.Info(ctx, "api server stopped")
}
