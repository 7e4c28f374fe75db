package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/internal/lifecycle"
	"github.com/tavolahq/tavola-backend/internal/payments"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/redis"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type paymentsGateway interface {
	EnsureIntent(ctx context.Context, environment enums.Environment, input payments.EnsureIntentInput) (*stripe.PaymentIntent, error)
	VerifyForOrder(ctx context.Context, environment enums.Environment, intentID string, declaredTotalCents int64) (*stripe.PaymentIntent, error)
	AttachOrder(ctx context.Context, tx *gorm.DB, intentID string, orderID uuid.UUID) error
	Reconcile(ctx context.Context, intent *stripe.PaymentIntent, environment enums.Environment) (enums.PaymentStatus, error)
	RefundForCancellation(ctx context.Context, order *models.Order) (*payments.RefundResult, error)
}

type courierDispatcher interface {
	Quote(ctx context.Context, environment enums.Environment, quoteID string, address types.Address, orderValueCents int) (*doordash.Quote, error)
	Dispatch(ctx context.Context, order *models.Order) (*models.CourierTask, error)
	Cancel(ctx context.Context, order *models.Order) error
	RefreshOrder(ctx context.Context, order *models.Order, staleAfter time.Duration) error
}

type loyaltyLedger interface {
	Award(ctx context.Context, order *models.Order) (*models.LoyaltyEntry, error)
	Reverse(ctx context.Context, orderID uuid.UUID) (*models.LoyaltyEntry, error)
}

type timerScheduler interface {
	ArmSchedule(orderID uuid.UUID, schedule lifecycle.Schedule)
}

type addressVerifier interface {
	Verify(ctx context.Context, addr types.Address) error
}

// Orchestrator composes payments, delivery, loyalty, and the lifecycle
// state machine into the order-level operations the API exposes. It is
// the only writer of new order rows; after creation, all status changes
// flow through the transitioner.
type Orchestrator struct {
	repo         Repository
	tx           txRunner
	payments     paymentsGateway
	courier      courierDispatcher
	loyalty      loyaltyLedger
	quotes       redis.TTLStore
	timers       timerScheduler
	address      addressVerifier
	transitioner *lifecycle.Transitioner
	cfg          config.OrdersConfig
	stripeCfg    config.StripeConfig
	logg         *logger.Logger
	now          func() time.Time
}

// OrchestratorParams wires the orchestrator's collaborators. Timers and
// Address may be nil: the cron sweep alone still progresses every
// order, and without a verifier delivery addresses get the structural
// check only.
type OrchestratorParams struct {
	Repo         Repository
	Tx           txRunner
	Payments     paymentsGateway
	Courier      courierDispatcher
	Loyalty      loyaltyLedger
	Quotes       redis.TTLStore
	Timers       timerScheduler
	Address      addressVerifier
	Transitioner *lifecycle.Transitioner
	Config       config.OrdersConfig
	StripeConfig config.StripeConfig
	Logger       *logger.Logger
	Now          func() time.Time
}

// NewOrchestrator validates dependencies and builds an Orchestrator.
func NewOrchestrator(params OrchestratorParams) (*Orchestrator, error) {
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments gateway is required")
	}
	if params.Courier == nil {
		return nil, errors.New("courier dispatcher is required")
	}
	if params.Loyalty == nil {
		return nil, errors.New("loyalty ledger is required")
	}
	if params.Quotes == nil {
		return nil, errors.New("quote store is required")
	}
	if params.Transitioner == nil {
		return nil, errors.New("transitioner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		repo:         params.Repo,
		tx:           params.Tx,
		payments:     params.Payments,
		courier:      params.Courier,
		loyalty:      params.Loyalty,
		quotes:       params.Quotes,
		timers:       params.Timers,
		address:      params.Address,
		transitioner: params.Transitioner,
		cfg:          params.Config,
		stripeCfg:    params.StripeConfig,
		logg:         params.Logger,
		now:          now,
	}, nil
}

// quoteContext is the short-lived blob stored between the quote call
// and order creation. Read once via GETDEL so a quote cannot be reused.
type quoteContext struct {
	QuoteID     string        `json:"quote_id"`
	FeeCents    int           `json:"fee_cents"`
	Address     types.Address `json:"address"`
	Environment string        `json:"environment"`
}

// QuoteDelivery prices a delivery and parks the quote context for the
// subsequent create call.
func (o *Orchestrator) QuoteDelivery(ctx context.Context, input QuoteInput) (*QuoteResponse, error) {
	quoteID := uuid.NewString()
	quote, err := o.courier.Quote(ctx, input.Environment, quoteID, input.Address, input.OrderValueCents)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(quoteContext{
		QuoteID:     quoteID,
		FeeCents:    quote.FeeCents,
		Address:     input.Address,
		Environment: input.Environment.String(),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode quote context")
	}
	if err := o.quotes.Set(ctx, o.quotes.QuoteKey(quoteID), payload, o.cfg.QuoteTTL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store quote context")
	}

	expires := quote.ExpiresAt
	if expires.IsZero() {
		expires = o.now().Add(o.cfg.QuoteTTL)
	}
	return &QuoteResponse{
		QuoteRef:  quoteID,
		FeeCents:  quote.FeeCents,
		Currency:  quote.Currency,
		ExpiresAt: expires,
	}, nil
}

// CreateIntent creates or updates the checkout session's payment
// intent. The session key keeps one intent per session so repeated
// cart edits adjust the amount instead of minting duplicates.
func (o *Orchestrator) CreateIntent(ctx context.Context, input IntentInput) (*IntentResponse, error) {
	if input.SessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	sessionKey := o.quotes.SessionKey(input.SessionID)
	existing, err := o.quotes.Get(ctx, sessionKey)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read session intent")
	}

	split := payments.FeeSplit{}
	if bps := o.stripeCfg.ApplicationFeeBPS; bps > 0 {
		fee := input.AmountCents * int64(bps) / 10000
		split.ApplicationFeeCents = &fee
	}

	intent, err := o.payments.EnsureIntent(ctx, input.Environment, payments.EnsureIntentInput{
		ExistingIntentID: existing,
		AmountCents:      input.AmountCents,
		Currency:         input.Currency,
		CustomerEmail:    input.CustomerEmail,
		Metadata:         map[string]string{"session_id": input.SessionID},
		FeeSplit:         split,
	})
	if err != nil {
		return nil, err
	}

	if err := o.quotes.Set(ctx, sessionKey, intent.ID, o.cfg.SessionIntentTTL); err != nil {
		o.logg.Error(ctx, "store session intent", err)
	}
	return &IntentResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.Amount,
	}, nil
}

// Create validates the cart, totals, quote, and payment, writes the
// order aggregate, then runs the post-commit side of checkout:
// schedule, courier dispatch, timers, immediate progression, loyalty.
func (o *Orchestrator) Create(ctx context.Context, input CreateOrderInput) (*OrderResponse, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Cart is empty")
	}
	if !input.FulfillmentType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown fulfillment type %q", input.FulfillmentType))
	}
	environment := input.Environment
	if !environment.IsValid() {
		environment = enums.EnvironmentProduction
	}

	items, err := buildItems(input.Items, input.Totals)
	if err != nil {
		return nil, err
	}

	metadata := types.JSONMap{models.MetaEnvironment: environment.String()}
	if input.FulfillmentType == enums.FulfillmentTypeDelivery {
		quote, err := o.redeemQuote(ctx, input)
		if err != nil {
			return nil, err
		}
		metadata[models.MetaQuoteID] = quote.QuoteID
	}

	var intent *stripe.PaymentIntent
	if input.PaymentIntentID != "" {
		intent, err = o.payments.VerifyForOrder(ctx, environment, input.PaymentIntentID, int64(input.Totals.TotalCents))
		if err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		TenantID:         input.TenantID,
		FulfillmentType:  input.FulfillmentType,
		Status:           enums.OrderStatusCreated,
		PaymentStatus:    enums.PaymentStatusUnpaid,
		SubtotalCents:    input.Totals.SubtotalCents,
		TaxCents:         input.Totals.TaxCents,
		TipCents:         input.Totals.TipCents,
		DeliveryFeeCents: input.Totals.DeliveryFeeCents,
		ServiceFeeCents:  input.Totals.ServiceFeeCents,
		DiscountCents:    input.Totals.DiscountCents,
		TotalCents:       input.Totals.TotalCents,
		Contact:          input.Contact,
		DeliveryAddress:  input.DeliveryAddress,
		Metadata:         metadata,
		Items:            items,
	}
	if intent != nil {
		id := intent.ID
		order.PaymentIntentID = &id
		order.PaymentStatus = payments.PaymentStatusFor(intent)
	}

	err = o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := o.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return err
		}
		if intent != nil {
			if err := o.payments.AttachOrder(ctx, tx, intent.ID, order.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist order")
	}

	ctx = o.logg.WithOrderID(ctx, order.ID.String())

	if intent != nil {
		if _, err := o.payments.Reconcile(ctx, intent, environment); err != nil {
			o.logg.Error(ctx, "mirror payment intent", err)
		}
	}

	schedule, err := o.transitioner.EnsureSchedule(ctx, order)
	if err != nil {
		return nil, err
	}

	if order.FulfillmentType == enums.FulfillmentTypeDelivery {
		if _, err := o.courier.Dispatch(ctx, order); err != nil {
			o.failDispatch(ctx, order, err)
			return nil, pkgerrors.Wrap(pkgerrors.CodeProvider, err, "courier dispatch failed")
		}
	}

	if o.timers != nil {
		o.timers.ArmSchedule(order.ID, schedule)
	}

	if _, err := o.transitioner.Advance(ctx, order.ID); err != nil {
		o.logg.Error(ctx, "initial order progression", err)
	}

	if order.PaymentStatus == enums.PaymentStatusPaid {
		if _, err := o.loyalty.Award(ctx, order); err != nil {
			o.logg.Error(ctx, "award loyalty stars", err)
		}
	}

	fresh, err := o.repo.FindOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
	}
	return ToOrderResponse(fresh), nil
}

// Get returns the order after nudging it forward: a stale courier task
// is re-polled and any overdue schedule steps are applied, so a client
// polling this endpoint always sees the freshest reachable state.
func (o *Orchestrator) Get(ctx context.Context, orderID uuid.UUID) (*OrderResponse, error) {
	order, err := o.repo.FindOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	if !order.Status.IsTerminal() {
		ctx = o.logg.WithOrderID(ctx, order.ID.String())
		if err := o.courier.RefreshOrder(ctx, order, o.cfg.StalePollAfter); err != nil {
			o.logg.Error(ctx, "refresh courier status", err)
		}
		if _, err := o.transitioner.Advance(ctx, order.ID); err != nil {
			o.logg.Error(ctx, "advance order on read", err)
		}
		order, err = o.repo.FindOrder(ctx, orderID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
		}
	}
	return ToOrderResponse(order), nil
}

// Cancel performs the operator cancellation: refund first, then the
// status flip, then courier cancel and loyalty reversal. The latter two
// are logged-not-fatal; money and status are the hard requirements.
func (o *Orchestrator) Cancel(ctx context.Context, input CancelInput) (*OrderResponse, error) {
	order, err := o.repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return o.cancel(ctx, order, input.Actor, input.Reason)
}

// CustomerCancel is the self-serve variant: only within the window
// from creation, and only when the caller can reproduce the contact
// the order was placed with.
func (o *Orchestrator) CustomerCancel(ctx context.Context, input CustomerCancelInput) (*OrderResponse, error) {
	order, err := o.repo.FindOrder(ctx, input.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "Order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}

	if o.now().Sub(order.CreatedAt) > o.cfg.CustomerCancelWindow {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "Cancellation window has passed")
	}
	if !contactMatches(order.Contact, input.Email, input.Phone) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "Contact verification failed")
	}
	return o.cancel(ctx, order, enums.ActorCustomer, "customer requested cancellation")
}

func (o *Orchestrator) cancel(ctx context.Context, order *models.Order, actor enums.Actor, reason string) (*OrderResponse, error) {
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is already %s", order.Status))
	}
	ctx = o.logg.WithOrderID(ctx, order.ID.String())

	// The refund must land before the status flips; a canceled order
	// with the customer's money still captured is the worst failure
	// mode this path can produce.
	refund, err := o.payments.RefundForCancellation(ctx, order)
	if err != nil {
		return nil, err
	}
	if refund.RefundedCents > 0 {
		if err := o.repo.SetPaymentStatus(ctx, order.ID, enums.PaymentStatusRefunded); err != nil {
			o.logg.Error(ctx, "set refunded payment status", err)
		}
	} else if refund.Canceled {
		if err := o.repo.SetPaymentStatus(ctx, order.ID, enums.PaymentStatusFailed); err != nil {
			o.logg.Error(ctx, "set failed payment status", err)
		}
	}

	applied, err := o.transitioner.Apply(ctx, order, enums.OrderStatusCanceled, actor, reason)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order changed during cancellation")
	}

	if order.FulfillmentType == enums.FulfillmentTypeDelivery {
		if err := o.courier.Cancel(ctx, order); err != nil {
			o.logg.Error(ctx, "cancel courier job", err)
		}
	}
	if _, err := o.loyalty.Reverse(ctx, order.ID); err != nil {
		o.logg.Error(ctx, "reverse loyalty stars", err)
	}

	fresh, err := o.repo.FindOrder(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
	}
	return ToOrderResponse(fresh), nil
}

// redeemQuote validates the delivery prerequisites and consumes the
// parked quote context. GETDEL means a second create with the same
// quote ref fails with "quote required", which is intended.
func (o *Orchestrator) redeemQuote(ctx context.Context, input CreateOrderInput) (*quoteContext, error) {
	if input.DeliveryAddress == nil || !input.DeliveryAddress.Complete() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Invalid address")
	}
	if o.address != nil {
		if err := o.address.Verify(ctx, *input.DeliveryAddress); err != nil {
			return nil, err
		}
	}
	if input.QuoteRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Delivery quote required")
	}

	payload, err := o.quotes.GetDel(ctx, o.quotes.QuoteKey(input.QuoteRef))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "Delivery quote required")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read quote context")
	}

	var quote quoteContext
	if err := json.Unmarshal([]byte(payload), &quote); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode quote context")
	}
	if quote.FeeCents != input.Totals.DeliveryFeeCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Delivery fee mismatch")
	}
	return &quote, nil
}

// failDispatch records why the courier could not be booked and pushes
// the committed order to failed so it never sits in limbo.
func (o *Orchestrator) failDispatch(ctx context.Context, order *models.Order, cause error) {
	o.logg.Error(ctx, "courier dispatch", cause)
	if _, err := o.repo.MarkMetadataOnce(ctx, order.ID, models.MetaDispatchError, cause.Error()); err != nil {
		o.logg.Error(ctx, "record dispatch error", err)
	}
	if _, err := o.transitioner.Apply(ctx, order, enums.OrderStatusFailed, enums.ActorSystem, "courier dispatch failed"); err != nil {
		o.logg.Error(ctx, "fail order after dispatch error", err)
	}
}

// buildItems snapshots the cart and cross-checks the declared totals.
func buildItems(inputs []ItemInput, totals Totals) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(inputs))
	subtotal := 0
	for _, input := range inputs {
		if input.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %q quantity must be positive", input.Name))
		}
		if input.UnitPriceCents < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("item %q price must not be negative", input.Name))
		}
		lineTotal := input.UnitPriceCents * input.Quantity
		subtotal += lineTotal
		items = append(items, models.OrderItem{
			MenuItemID:     input.MenuItemID,
			Name:           input.Name,
			UnitPriceCents: input.UnitPriceCents,
			Quantity:       input.Quantity,
			Modifiers:      input.Modifiers,
			TotalCents:     lineTotal,
		})
	}

	if subtotal != totals.SubtotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Order total mismatch")
	}
	componentTotal := totals.SubtotalCents + totals.TaxCents + totals.TipCents +
		totals.DeliveryFeeCents + totals.ServiceFeeCents - totals.DiscountCents
	if componentTotal != totals.TotalCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Order total mismatch")
	}
	return items, nil
}

// contactMatches verifies a claimed identity against the order's
// contact snapshot. Either channel matching is sufficient.
func contactMatches(contact types.Contact, email, phone string) bool {
	if email != "" && contact.NormalizedEmail() != "" {
		claimed := types.Contact{Email: email}
		if claimed.NormalizedEmail() == contact.NormalizedEmail() {
			return true
		}
	}
	if phone != "" && contact.NormalizedPhone() != "" {
		if types.NormalizePhone(phone) == contact.NormalizedPhone() {
			return true
		}
	}
	return false
}
