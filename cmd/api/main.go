package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/tavolahq/tavola-backend/api/routes"
	"github.com/tavolahq/tavola-backend/internal/address"
	"github.com/tavolahq/tavola-backend/internal/cron"
	"github.com/tavolahq/tavola-backend/internal/delivery"
	"github.com/tavolahq/tavola-backend/internal/lifecycle"
	"github.com/tavolahq/tavola-backend/internal/loyalty"
	"github.com/tavolahq/tavola-backend/internal/orders"
	"github.com/tavolahq/tavola-backend/internal/payments"
	"github.com/tavolahq/tavola-backend/internal/timers"
	"github.com/tavolahq/tavola-backend/internal/webhooks"
	doordashwebhook "github.com/tavolahq/tavola-backend/internal/webhooks/doordash"
	stripewebhook "github.com/tavolahq/tavola-backend/internal/webhooks/stripe"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/maps"
	"github.com/tavolahq/tavola-backend/pkg/migrate"
	"github.com/tavolahq/tavola-backend/pkg/notify"
	"github.com/tavolahq/tavola-backend/pkg/redis"
	"github.com/tavolahq/tavola-backend/pkg/stripe"
)

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

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	doordashClient, err := doordash.NewClient(cfg.DoorDash)
	if err != nil {
		logg.Error(context.Background(), "failed to create doordash client", err)
		os.Exit(1)
	}

	var addressSvc address.Service
	if cfg.GoogleMaps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey)
		if err != nil {
			logg.Error(context.Background(), "failed to create maps client", err)
			os.Exit(1)
		}
		addressSvc = address.NewService(mapsClient, cfg.GoogleMaps.Country)
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
	paymentsRepo := payments.NewRepository(dbClient.DB())
	deliveryRepo := delivery.NewRepository(dbClient.DB())
	loyaltyRepo := loyalty.NewRepository(dbClient.DB())

	transitioner, err := lifecycle.NewTransitioner(lifecycle.TransitionerParams{
		Store:    ordersRepo,
		Notifier: notifier,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create transitioner", err)
		os.Exit(1)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Provider: stripeClient,
		Repo:     paymentsRepo,
		Config:   cfg.Stripe,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	loyaltySvc, err := loyalty.NewService(loyalty.ServiceParams{
		Repo:   loyaltyRepo,
		Config: cfg.Loyalty,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create loyalty service", err)
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

	timerScheduler, err := timers.NewScheduler(timers.SchedulerParams{
		Transitioner: transitioner,
		Logger:       logg,
		MaxDelay:     cfg.Orders.TimerMaxDelay,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create timer scheduler", err)
		os.Exit(1)
	}
	defer timerScheduler.Stop()

	orchestrator, err := orders.NewOrchestrator(orders.OrchestratorParams{
		Repo:         ordersRepo,
		Tx:           dbClient,
		Payments:     paymentsSvc,
		Courier:      deliverySvc,
		Loyalty:      loyaltySvc,
		Quotes:       redisClient,
		Timers:       timerScheduler,
		Address:      addressSvc,
		Transitioner: transitioner,
		Config:       cfg.Orders,
		StripeConfig: cfg.Stripe,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create order orchestrator", err)
		os.Exit(1)
	}

	stripeWebhookSvc, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:  ordersRepo,
		Mirror:  paymentsSvc,
		Fetcher: stripeClient,
		Loyalty: loyaltySvc,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	doordashWebhookSvc, err := doordashwebhook.NewService(doordashwebhook.ServiceParams{
		Reconciler: deliverySvc,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create doordash webhook service", err)
		os.Exit(1)
	}

	stripeGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Cron.WebhookGuard, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}
	doordashGuard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Cron.WebhookGuard, "doordash-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create doordash webhook guard", err)
		os.Exit(1)
	}

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

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			orchestrator,
			addressSvc,
			stripeClient,
			stripeWebhookSvc,
			doordashWebhookSvc,
			stripeGuard,
			doordashGuard,
			registry,
		),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "api server shutdown", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "api server shutting down gracefully")
}
