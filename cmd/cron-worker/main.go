package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tavolahq/tavola-backend/internal/cron"
	"github.com/tavolahq/tavola-backend/internal/delivery"
	"github.com/tavolahq/tavola-backend/internal/lifecycle"
	"github.com/tavolahq/tavola-backend/internal/orders"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/metrics"
	"github.com/tavolahq/tavola-backend/pkg/migrate"
	"github.com/tavolahq/tavola-backend/pkg/notify"
	"github.com/tavolahq/tavola-backend/pkg/redis"
)

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

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
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

	doordashClient, err := doordash.NewClient(cfg.DoorDash)
	if err != nil {
		logg.Error(context.Background(), "failed to create doordash client", err)
		os.Exit(1)
	}

	var notifier notify.Notifier
	if cfg.GCP.ProjectID != "" && cfg.PubSub.NotificationTopic != "" {
		notifyClient, err := notify.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create notification publisher", err)
			os.Exit(1)
		}
		defer func() {
			if err := notifyClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing notification publisher", err)
			}
		}()
		notifier = notifyClient
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	deliveryRepo := delivery.NewRepository(dbClient.DB())

	transitioner, err := lifecycle.NewTransitioner(lifecycle.TransitionerParams{
		Store:    ordersRepo,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transitioner", err)
		os.Exit(1)
	}

	deliverySvc, err := delivery.NewService(delivery.ServiceParams{
		Gateway:      doordashClient,
		Repo:         deliveryRepo,
		Store:        ordersRepo,
		Transitioner: transitioner,
		Logger:       logg,
		Pickup:       cfg.Pickup,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create delivery service", err)
		os.Exit(1)
	}
	transitioner.SetReadyNotifier(deliverySvc)

	progressJob, err := cron.NewProgressOrdersJob(cron.ProgressOrdersJobParams{
		Logger:       logg,
		Orders:       ordersRepo,
		Transitioner: transitioner,
		Window:       cfg.Cron.SweepWindow,
		PageSize:     cfg.Cron.SweepPageSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order sweep job", err)
		os.Exit(1)
	}
	staleJob, err := cron.NewStaleCourierPollJob(cron.StaleCourierPollJobParams{
		Logger:     logg,
		Poller:     deliverySvc,
		StaleAfter: cfg.Orders.StalePollAfter,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create courier poll job", err)
		os.Exit(1)
	}
	registry := cron.NewRegistry(progressJob, staleJob)

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
