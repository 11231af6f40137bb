package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopcore/commerce-backend/internal/bootstrap"
	"github.com/shopcore/commerce-backend/internal/cron"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/db"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/metrics"
	"github.com/shopcore/commerce-backend/pkg/migrate"
	"github.com/shopcore/commerce-backend/pkg/redis"
	"golang.org/x/sync/errgroup"
)

const lockNameFormat = "cron-worker:%s:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

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

	services, err := bootstrap.Build(bootstrap.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build services", err)
		os.Exit(1)
	}

	schedulers, err := buildSchedulers(cfg, logg, dbClient, redisClient, services, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to build schedulers", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, svc := range schedulers {
		group.Go(func() error {
			return svc.Run(groupCtx)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildSchedulers returns the fast sweeper loop and the slow abandonment loop.
func buildSchedulers(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, services *bootstrap.Services, reg prometheus.Registerer) ([]*cron.Service, error) {
	jobMetrics := metrics.NewCronJobMetrics(reg)

	expiry, err := cron.NewReservationExpiryJob(cron.ReservationExpiryJobParams{
		Logger:       logg,
		Reservations: services.Reservations,
		BatchSize:    cfg.Reservation.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	reconcile, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:    logg,
		Orders:    services.Orders,
		Payments:  services.Payments,
		Webhooks:  services.Reconciler,
		StaleAge:  cfg.Payments.StaleReconcileAge,
		BatchSize: cfg.Payments.ReconcileBatchSize,
	})
	if err != nil {
		return nil, err
	}
	abandonment, err := cron.NewCartAbandonmentJob(cron.CartAbandonmentJobParams{
		Logger:      logg,
		Abandonment: services.Abandonment,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       services.OutboxRepo,
		Retention:        time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	loops := []struct {
		name     string
		interval time.Duration
		jobs     []cron.Job
	}{
		{name: "sweeper", interval: cfg.Reservation.SweepInterval, jobs: []cron.Job{expiry, reconcile}},
		{name: "abandonment", interval: cfg.Abandonment.Interval, jobs: []cron.Job{abandonment, retention}},
	}

	out := make([]*cron.Service, 0, len(loops))
	for _, loop := range loops {
		lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env, loop.name), cron.LockTTLFor(loop.interval))
		if err != nil {
			return nil, fmt.Errorf("%s lock: %w", loop.name, err)
		}
		svc, err := cron.NewService(cron.ServiceParams{
			Name:     loop.name,
			Logger:   logg,
			Registry: cron.NewRegistry(loop.jobs...),
			Lock:     lock,
			Metrics:  jobMetrics,
			Interval: loop.interval,
		})
		if err != nil {
			return nil, fmt.Errorf("%s scheduler: %w", loop.name, err)
		}
		out = append(out, svc)
	}
	return out, nil
}

func lockName(env, loop string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockNameFormat, env, loop)
}
