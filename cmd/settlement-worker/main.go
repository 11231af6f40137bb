package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopcore/commerce-backend/internal/bootstrap"
	"github.com/shopcore/commerce-backend/internal/settlement"
	"github.com/shopcore/commerce-backend/pkg/config"
	"github.com/shopcore/commerce-backend/pkg/db"
	"github.com/shopcore/commerce-backend/pkg/kafka"
	"github.com/shopcore/commerce-backend/pkg/logger"
	"github.com/shopcore/commerce-backend/pkg/migrate"
	"github.com/shopcore/commerce-backend/pkg/outbox/idempotency"
	"github.com/shopcore/commerce-backend/pkg/pubsub"
	"github.com/shopcore/commerce-backend/pkg/redis"
	"github.com/shopcore/commerce-backend/pkg/telemetry"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "settlement-worker"

	logg = logger.New(logger.Options{
		ServiceName: "settlement-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	shutdownTracing, err := telemetry.Init(context.Background(), cfg.Telemetry, "shopcore-settlement-worker")
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

	once, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}
	consumer, err := settlement.NewConsumer(services.Settlement, once, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement consumer", err)
		os.Exit(1)
	}

	params := ServiceParams{
		Logger:  logg,
		Handler: consumer,
		Pingers: map[string]pinger{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
		},
	}
	if cfg.Eventing.UsesKafka() {
		reader, err := kafka.NewConsumer(cfg.Kafka, cfg.PubSub.PaymentsTopic, cfg.Kafka.SettlementGroupID)
		if err != nil {
			logg.Error(context.Background(), "failed to create kafka consumer", err)
			os.Exit(1)
		}
		defer func() {
			if err := reader.Close(); err != nil {
				logg.Error(context.Background(), "error closing kafka consumer", err)
			}
		}()
		params.Kafka = reader
	} else {
		pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub client", err)
			}
		}()
		params.PubSub = pubsubClient.SettlementSubscription()
		params.Pingers["pubsub"] = pubsubClient.Ping
	}

	service, err := NewService(params)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"transport":   cfg.Eventing.Transport,
	})
	logg.Info(ctx, "starting settlement worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "settlement worker shutting down gracefully")
}
