package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/internal/payments"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

type orderStore interface {
	FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
	SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error
	AppendEvent(ctx context.Context, event *models.OrderEvent) error
}

type paymentsMirror interface {
	Reconcile(ctx context.Context, intent *stripe.PaymentIntent, environment enums.Environment) (enums.PaymentStatus, error)
}

type intentFetcher interface {
	RetrieveIntent(ctx context.Context, environment enums.Environment, id string) (*stripe.PaymentIntent, error)
}

type loyaltyLedger interface {
	Award(ctx context.Context, order *models.Order) (*models.LoyaltyEntry, error)
}

type ServiceParams struct {
	Orders  orderStore
	Mirror  paymentsMirror
	Fetcher intentFetcher
	Loyalty loyaltyLedger
	Logger  *logger.Logger
}

// Service applies payment provider events to the order record. Every
// handler tolerates re-delivery: the status write is a plain set and
// the loyalty ledger carries its own per-order idempotency.
type Service struct {
	orders  orderStore
	mirror  paymentsMirror
	fetcher intentFetcher
	loyalty loyaltyLedger
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order store required")
	}
	if params.Mirror == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payments mirror required")
	}
	if params.Fetcher == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intent fetcher required")
	}
	if params.Loyalty == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "loyalty ledger required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:  params.Orders,
		mirror:  params.Mirror,
		fetcher: params.Fetcher,
		loyalty: params.Loyalty,
		logg:    params.Logger,
	}, nil
}

// HandleEvent routes one verified event. The environment is the one
// whose webhook secret matched the signature; every provider call made
// here must use it.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event, environment enums.Environment) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		return s.handleIntentOutcome(ctx, event, environment, enums.PaymentStatusPaid)
	case stripe.EventTypePaymentIntentPaymentFailed, stripe.EventTypePaymentIntentCanceled:
		return s.handleIntentOutcome(ctx, event, environment, enums.PaymentStatusFailed)
	case stripe.EventTypeChargeRefunded:
		return s.handleChargeRefunded(ctx, event)
	case stripe.EventTypeChargeDisputeCreated:
		return s.handleDispute(ctx, event)
	default:
		return nil
	}
}

func (s *Service) handleIntentOutcome(ctx context.Context, event *stripe.Event, environment enums.Environment, status enums.PaymentStatus) error {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}

	// A thin payload carries the id only. Handlers never operate on a
	// partial object, so re-fetch before doing anything with it.
	if intent.Status == "" || intent.Amount == 0 {
		full, err := s.fetcher.RetrieveIntent(ctx, environment, intent.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "hydrate payment intent")
		}
		intent = *full
	}

	order, err := s.orders.FindOrderByPaymentIntent(ctx, intent.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Intents exist before their order does; this event
			// simply arrived in that window.
			s.logg.Info(ctx, "payment event for unattached intent "+intent.ID)
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order for intent")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if _, err := s.mirror.Reconcile(ctx, &intent, environment); err != nil {
		s.logg.Error(ctx, "mirror payment intent", err)
	}

	// A refund processed out of band must not be overwritten by a
	// late-arriving success event.
	if order.PaymentStatus == enums.PaymentStatusRefunded {
		return nil
	}
	if err := s.orders.SetPaymentStatus(ctx, order.ID, status); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set payment status")
	}

	if status == enums.PaymentStatusPaid {
		order.PaymentStatus = enums.PaymentStatusPaid
		if _, err := s.loyalty.Award(ctx, order); err != nil {
			s.logg.Error(ctx, "award loyalty stars", err)
		}
	}
	return nil
}

func (s *Service) handleChargeRefunded(ctx context.Context, event *stripe.Event) error {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode charge event")
	}
	if charge.PaymentIntent == nil || charge.PaymentIntent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "charge has no payment intent")
	}

	order, err := s.orders.FindOrderByPaymentIntent(ctx, charge.PaymentIntent.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order for charge")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	if err := s.orders.SetPaymentStatus(ctx, order.ID, enums.PaymentStatusRefunded); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set refunded payment status")
	}
	s.appendInfoEvent(ctx, order, "Payment refunded", "refund confirmed by payment provider")
	return nil
}

// handleDispute records the dispute on the order timeline. Status is
// left alone; disputes resolve through the provider dashboard, not the
// order flow.
func (s *Service) handleDispute(ctx context.Context, event *stripe.Event) error {
	intentID := event.GetObjectValue("payment_intent")
	if intentID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "dispute has no payment intent")
	}

	order, err := s.orders.FindOrderByPaymentIntent(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order for dispute")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	reason := event.GetObjectValue("reason")
	s.appendInfoEvent(ctx, order, "Payment disputed", reason)
	return nil
}

func (s *Service) appendInfoEvent(ctx context.Context, order *models.Order, title, detail string) {
	event := &models.OrderEvent{
		OrderID: order.ID,
		Status:  order.Status,
		Title:   title,
		Detail:  detail,
		Actor:   enums.ActorSystem,
	}
	if err := s.orders.AppendEvent(ctx, event); err != nil {
		s.logg.Error(ctx, "append order event", err)
	}
}

var _ paymentsMirror = (*payments.Service)(nil)
