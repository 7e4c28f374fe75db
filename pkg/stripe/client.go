package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

var (
	errNoAPIKey          = errors.New("stripe api key is required")
	errNoWebhookSecret   = errors.New("stripe webhook secret is required")
	errUnknownSignature  = errors.New("stripe signature did not match any configured secret")
	errClientUnavailable = errors.New("stripe client not configured for environment")
)

// Client holds one Stripe API client per provider environment. The
// environment used for a given call is chosen per request; there is no
// stored default.
type Client struct {
	cfg     config.StripeConfig
	clients map[enums.Environment]*stripe.Client
}

// NewClient initializes a client for every environment that has an API
// key configured. At least one environment must be usable.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	clients := map[enums.Environment]*stripe.Client{}
	for _, env := range []enums.Environment{enums.EnvironmentProduction, enums.EnvironmentTest} {
		key := strings.TrimSpace(cfg.APIKey(env))
		if key == "" {
			continue
		}
		if err := validateAPIKey(env, key); err != nil {
			return nil, err
		}
		clients[env] = stripe.NewClient(key)
		if logg != nil {
			logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
		}
	}
	if len(clients) == 0 {
		return nil, errNoAPIKey
	}
	if len(cfg.WebhookSecrets()) == 0 {
		return nil, errNoWebhookSecret
	}
	return &Client{cfg: cfg, clients: clients}, nil
}

// API returns the underlying Stripe client for the environment.
func (c *Client) API(environment enums.Environment) (*stripe.Client, error) {
	if c == nil {
		return nil, errClientUnavailable
	}
	api, ok := c.clients[environment]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errClientUnavailable, environment)
	}
	return api, nil
}

// CreateIntent creates a payment intent in the given environment.
func (c *Client) CreateIntent(ctx context.Context, environment enums.Environment, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error) {
	api, err := c.API(environment)
	if err != nil {
		return nil, err
	}
	return api.V1PaymentIntents.Create(ctx, params)
}

// UpdateIntent updates a payment intent in the given environment.
func (c *Client) UpdateIntent(ctx context.Context, environment enums.Environment, id string, params *stripe.PaymentIntentUpdateParams) (*stripe.PaymentIntent, error) {
	api, err := c.API(environment)
	if err != nil {
		return nil, err
	}
	return api.V1PaymentIntents.Update(ctx, id, params)
}

// RetrieveIntent fetches the current state of a payment intent. The
// read is idempotent, so a transient failure gets one more attempt;
// mutating calls never retry.
func (c *Client) RetrieveIntent(ctx context.Context, environment enums.Environment, id string) (*stripe.PaymentIntent, error) {
	api, err := c.API(environment)
	if err != nil {
		return nil, err
	}
	intent, err := api.V1PaymentIntents.Retrieve(ctx, id, nil)
	if err != nil && ctx.Err() == nil && retrieveRetryable(err) {
		intent, err = api.V1PaymentIntents.Retrieve(ctx, id, nil)
	}
	return intent, err
}

// retrieveRetryable reports whether a retrieve failure is transient:
// transport errors and provider 5xx. Client errors (unknown id, bad
// key) repeat deterministically and are not retried.
func retrieveRetryable(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return stripeErr.HTTPStatusCode >= 500
	}
	return true
}

// CancelIntent cancels a payment intent that has not captured funds.
func (c *Client) CancelIntent(ctx context.Context, environment enums.Environment, id string) (*stripe.PaymentIntent, error) {
	api, err := c.API(environment)
	if err != nil {
		return nil, err
	}
	return api.V1PaymentIntents.Cancel(ctx, id, nil)
}

// CreateRefund issues a refund against a payment intent.
func (c *Client) CreateRefund(ctx context.Context, environment enums.Environment, params *stripe.RefundCreateParams) (*stripe.Refund, error) {
	api, err := c.API(environment)
	if err != nil {
		return nil, err
	}
	return api.V1Refunds.Create(ctx, params)
}

// VerifyWebhook checks the signature against each configured secret,
// production first, and reports which environment signed the payload.
func (c *Client) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, enums.Environment, error) {
	if c == nil {
		return stripe.Event{}, "", errClientUnavailable
	}
	var lastErr error
	for _, secret := range c.cfg.WebhookSecrets() {
		event, err := webhook.ConstructEvent(payload, sigHeader, secret.Secret)
		if err == nil {
			return event, secret.Environment, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errNoWebhookSecret
	}
	return stripe.Event{}, "", fmt.Errorf("%w: %v", errUnknownSignature, lastErr)
}

func validateAPIKey(environment enums.Environment, key string) error {
	if environment.IsProduction() {
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", environment)
	}
	if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
		return nil
	}
	return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", environment)
}
