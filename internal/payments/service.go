package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

// providerClient is the slice of the Stripe wrapper the service uses.
type providerClient interface {
	CreateIntent(ctx context.Context, environment enums.Environment, params *stripe.PaymentIntentCreateParams) (*stripe.PaymentIntent, error)
	UpdateIntent(ctx context.Context, environment enums.Environment, id string, params *stripe.PaymentIntentUpdateParams) (*stripe.PaymentIntent, error)
	RetrieveIntent(ctx context.Context, environment enums.Environment, id string) (*stripe.PaymentIntent, error)
	CancelIntent(ctx context.Context, environment enums.Environment, id string) (*stripe.PaymentIntent, error)
	CreateRefund(ctx context.Context, environment enums.Environment, params *stripe.RefundCreateParams) (*stripe.Refund, error)
}

// Service reconciles provider payment intents with local order state.
type Service struct {
	provider providerClient
	repo     Repository
	cfg      config.StripeConfig
	logg     *logger.Logger
}

// ServiceParams wires the payment service's collaborators.
type ServiceParams struct {
	Provider providerClient
	Repo     Repository
	Config   config.StripeConfig
	Logger   *logger.Logger
}

// NewService validates dependencies and builds a Service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Provider == nil {
		return nil, errors.New("provider client is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		provider: params.Provider,
		repo:     params.Repo,
		cfg:      params.Config,
		logg:     params.Logger,
	}, nil
}

// FeeSplit selects exactly one destination-charge fee mechanism. Setting
// both is a wiring bug the provider would reject.
type FeeSplit struct {
	TransferAmountCents *int64
	ApplicationFeeCents *int64
}

// EnsureIntentInput describes the intent a checkout session needs.
type EnsureIntentInput struct {
	// ExistingIntentID reuses the intent already associated with the
	// checkout session instead of creating a duplicate.
	ExistingIntentID string
	AmountCents      int64
	Currency         string
	CustomerEmail    string
	Metadata         map[string]string
	FeeSplit         FeeSplit
}

// EnsureIntent creates a destination-charge payment intent, or updates
// the amount and metadata of the session's existing one.
func (s *Service) EnsureIntent(ctx context.Context, environment enums.Environment, input EnsureIntentInput) (*stripe.PaymentIntent, error) {
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "intent amount must be positive")
	}
	if input.FeeSplit.TransferAmountCents != nil && input.FeeSplit.ApplicationFeeCents != nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fee split must set transfer amount or application fee, not both")
	}
	currency := strings.ToLower(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "usd"
	}

	var intent *stripe.PaymentIntent
	var err error
	if existing := strings.TrimSpace(input.ExistingIntentID); existing != "" {
		params := &stripe.PaymentIntentUpdateParams{
			Amount:   stripe.Int64(input.AmountCents),
			Metadata: input.Metadata,
		}
		if input.FeeSplit.ApplicationFeeCents != nil {
			params.ApplicationFeeAmount = stripe.Int64(*input.FeeSplit.ApplicationFeeCents)
		}
		intent, err = s.provider.UpdateIntent(ctx, environment, existing, params)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "update payment intent")
		}
	} else {
		params := &stripe.PaymentIntentCreateParams{
			Amount:   stripe.Int64(input.AmountCents),
			Currency: stripe.String(currency),
			Metadata: input.Metadata,
			AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		if email := strings.TrimSpace(input.CustomerEmail); email != "" {
			params.ReceiptEmail = stripe.String(email)
		}
		if acct := strings.TrimSpace(s.cfg.ConnectAccountID); acct != "" {
			params.TransferData = &stripe.PaymentIntentCreateTransferDataParams{
				Destination: stripe.String(acct),
			}
			if input.FeeSplit.TransferAmountCents != nil {
				params.TransferData.Amount = stripe.Int64(*input.FeeSplit.TransferAmountCents)
			} else if input.FeeSplit.ApplicationFeeCents != nil {
				params.ApplicationFeeAmount = stripe.Int64(*input.FeeSplit.ApplicationFeeCents)
			}
		}
		intent, err = s.provider.CreateIntent(ctx, environment, params)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "create payment intent")
		}
	}

	if err := s.mirror(ctx, intent, environment, nil); err != nil {
		s.logg.Error(ctx, "mirror payment intent", err)
	}
	return intent, nil
}

// verifiableStatuses are the intent states acceptable at order creation.
var verifiableStatuses = map[stripe.PaymentIntentStatus]bool{
	stripe.PaymentIntentStatusSucceeded:       true,
	stripe.PaymentIntentStatusProcessing:      true,
	stripe.PaymentIntentStatusRequiresCapture: true,
}

// VerifyForOrder retrieves the intent and confirms it matches the
// client-declared total. The check is against the client figure, not the
// server-recomputed one, because the intent was created from it.
func (s *Service) VerifyForOrder(ctx context.Context, environment enums.Environment, intentID string, declaredTotalCents int64) (*stripe.PaymentIntent, error) {
	if strings.TrimSpace(intentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id is required")
	}

	intent, err := s.provider.RetrieveIntent(ctx, environment, intentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "retrieve payment intent")
	}

	if intent.Amount != declaredTotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Payment amount mismatch")
	}
	if !verifiableStatuses[intent.Status] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("payment intent status %s is not payable", intent.Status))
	}

	if err := s.mirror(ctx, intent, environment, nil); err != nil {
		s.logg.Error(ctx, "mirror payment intent", err)
	}
	return intent, nil
}

// AttachOrder links the mirror record to the created order row.
func (s *Service) AttachOrder(ctx context.Context, tx *gorm.DB, intentID string, orderID uuid.UUID) error {
	return s.repo.WithTx(tx).UpdateIntent(ctx, intentID, map[string]any{
		"order_id": orderID,
	})
}

// RefundResult reports what the cancellation did at the provider.
type RefundResult struct {
	RefundedCents int64
	Canceled      bool
}

// RefundForCancellation unwinds the payment for a canceled order.
// Refundable is capped at the order total; with nothing settled the
// uncaptured intent is canceled instead. Refunds always reverse the
// destination transfer and the platform fee together.
func (s *Service) RefundForCancellation(ctx context.Context, order *models.Order) (*RefundResult, error) {
	if order == nil || order.PaymentIntentID == nil || strings.TrimSpace(*order.PaymentIntentID) == "" {
		return &RefundResult{}, nil
	}
	environment := order.Environment()
	intentID := *order.PaymentIntentID

	intent, err := s.provider.RetrieveIntent(ctx, environment, intentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "retrieve payment intent")
	}

	refundable := intent.AmountReceived
	if total := int64(order.TotalCents); refundable > total {
		refundable = total
	}

	if refundable <= 0 {
		if _, err := s.provider.CancelIntent(ctx, environment, intentID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "cancel payment intent")
		}
		if err := s.repo.UpdateIntent(ctx, intentID, map[string]any{
			"status":         string(stripe.PaymentIntentStatusCanceled),
			"payment_status": enums.PaymentStatusFailed,
		}); err != nil {
			s.logg.Error(ctx, "record intent cancellation", err)
		}
		return &RefundResult{Canceled: true}, nil
	}

	params := &stripe.RefundCreateParams{
		PaymentIntent:        stripe.String(intentID),
		Amount:               stripe.Int64(refundable),
		ReverseTransfer:      stripe.Bool(true),
		RefundApplicationFee: stripe.Bool(true),
	}
	if _, err := s.provider.CreateRefund(ctx, environment, params); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "refund payment intent")
	}

	if err := s.repo.UpdateIntent(ctx, intentID, map[string]any{
		"amount_refunded_cents": gorm.Expr("amount_refunded_cents + ?", refundable),
		"payment_status":        enums.PaymentStatusRefunded,
	}); err != nil {
		s.logg.Error(ctx, "record refund", err)
	}
	return &RefundResult{RefundedCents: refundable}, nil
}

// Reconcile applies a provider-pushed intent snapshot to the mirror and
// reports the derived payment status.
func (s *Service) Reconcile(ctx context.Context, intent *stripe.PaymentIntent, environment enums.Environment) (enums.PaymentStatus, error) {
	if intent == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "intent is required")
	}
	if err := s.mirror(ctx, intent, environment, nil); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mirror payment intent")
	}
	return PaymentStatusFor(intent), nil
}

func (s *Service) mirror(ctx context.Context, intent *stripe.PaymentIntent, environment enums.Environment, order *models.Order) error {
	record := &models.PaymentIntentRecord{
		ID:                  intent.ID,
		Status:              string(intent.Status),
		AmountCents:         intent.Amount,
		AmountReceivedCents: intent.AmountReceived,
		Currency:            string(intent.Currency),
		Environment:         environment,
		PaymentStatus:       PaymentStatusFor(intent),
	}
	if order != nil {
		record.OrderID = &order.ID
	}
	if intent.ApplicationFeeAmount > 0 {
		fee := intent.ApplicationFeeAmount
		record.ApplicationFeeCents = &fee
	}
	if intent.TransferData != nil {
		if intent.TransferData.Amount > 0 {
			amount := intent.TransferData.Amount
			record.TransferAmountCents = &amount
		}
		if intent.TransferData.Destination != nil {
			dest := intent.TransferData.Destination.ID
			record.DestinationAccountID = &dest
		}
	}
	if intent.ReceiptEmail != "" {
		email := intent.ReceiptEmail
		record.CustomerEmail = &email
	}
	return s.repo.UpsertIntent(ctx, record)
}

// PaymentStatusFor maps a provider intent status onto the order-facing
// payment status.
func PaymentStatusFor(intent *stripe.PaymentIntent) enums.PaymentStatus {
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return enums.PaymentStatusPaid
	case stripe.PaymentIntentStatusProcessing, stripe.PaymentIntentStatusRequiresCapture:
		return enums.PaymentStatusProcessing
	case stripe.PaymentIntentStatusCanceled:
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusUnpaid
	}
}
