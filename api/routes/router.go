package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tavolahq/tavola-backend/api/controllers"
	ordercontrollers "github.com/tavolahq/tavola-backend/api/controllers/orders"
	webhookcontrollers "github.com/tavolahq/tavola-backend/api/controllers/webhooks"
	"github.com/tavolahq/tavola-backend/api/middleware"
	"github.com/tavolahq/tavola-backend/internal/address"
	"github.com/tavolahq/tavola-backend/internal/cron"
	"github.com/tavolahq/tavola-backend/internal/webhooks"
	doordashwebhook "github.com/tavolahq/tavola-backend/internal/webhooks/doordash"
	stripewebhook "github.com/tavolahq/tavola-backend/internal/webhooks/stripe"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/redis"
	"github.com/tavolahq/tavola-backend/pkg/stripe"
)

// NewRouter assembles the HTTP surface: health probes, the storefront
// order API, provider webhooks, and the manual cron trigger.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	ordersSvc ordercontrollers.Service,
	addressSvc address.Service,
	stripeClient *stripe.Client,
	stripeWebhookSvc *stripewebhook.Service,
	doordashWebhookSvc *doordashwebhook.Service,
	stripeWebhookGuard *webhooks.IdempotencyGuard,
	doordashWebhookGuard *webhooks.IdempotencyGuard,
	cronRegistry *cron.Registry,
) http.Handler {
	r := chi.NewRouter()
	// CORS sits on the outer chain so preflight requests are answered
	// before route matching.
	r.Use(
		middleware.CORS(),
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive())
		r.Get("/ready", controllers.HealthReady(logg, dbP, redisClient))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/stripe", webhookcontrollers.StripeWebhook(stripeWebhookSvc, stripeClient, stripeWebhookGuard, logg))
			r.Post("/doordash", webhookcontrollers.DoorDashWebhook(doordashWebhookSvc, cfg.DoorDash, doordashWebhookGuard, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Environment())

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", ordercontrollers.Create(ordersSvc, logg))
				r.Get("/{orderId}", ordercontrollers.Get(ordersSvc, logg))
				r.Post("/{orderId}/cancel", ordercontrollers.Cancel(ordersSvc, logg))
				r.Post("/{orderId}/customer-cancel", ordercontrollers.CustomerCancel(ordersSvc, logg))
			})
			r.Post("/delivery/quote", ordercontrollers.Quote(ordersSvc, logg))
			r.Post("/payments/intent", ordercontrollers.Intent(ordersSvc, logg))

			r.Route("/address", func(r chi.Router) {
				r.Get("/suggest", controllers.AddressSuggest(addressSvc, logg))
				r.Post("/resolve", controllers.AddressResolve(addressSvc, logg))
			})
		})
	})

	r.Post("/internal/cron/{jobName}", controllers.CronTrigger(cronRegistry, cfg.Cron.SharedSecret, logg))

	return r
}
