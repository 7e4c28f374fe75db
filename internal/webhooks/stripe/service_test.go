package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

type stubOrderStore struct {
	order    *models.Order
	statuses []enums.PaymentStatus
	events   []models.OrderEvent
}

func (s *stubOrderStore) FindOrderByPaymentIntent(_ context.Context, intentID string) (*models.Order, error) {
	if s.order == nil || s.order.PaymentIntentID == nil || *s.order.PaymentIntentID != intentID {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *s.order
	return &clone, nil
}

func (s *stubOrderStore) SetPaymentStatus(_ context.Context, _ uuid.UUID, status enums.PaymentStatus) error {
	s.statuses = append(s.statuses, status)
	s.order.PaymentStatus = status
	return nil
}

func (s *stubOrderStore) AppendEvent(_ context.Context, event *models.OrderEvent) error {
	s.events = append(s.events, *event)
	return nil
}

type stubMirror struct {
	reconciled []string
}

func (m *stubMirror) Reconcile(_ context.Context, intent *stripe.PaymentIntent, _ enums.Environment) (enums.PaymentStatus, error) {
	m.reconciled = append(m.reconciled, intent.ID)
	return enums.PaymentStatusPaid, nil
}

type stubFetcher struct {
	intent  *stripe.PaymentIntent
	fetched int
}

func (f *stubFetcher) RetrieveIntent(_ context.Context, _ enums.Environment, id string) (*stripe.PaymentIntent, error) {
	f.fetched++
	if f.intent != nil {
		return f.intent, nil
	}
	return &stripe.PaymentIntent{ID: id, Amount: 2175, Status: stripe.PaymentIntentStatusSucceeded}, nil
}

type stubLoyalty struct {
	awards int
}

func (l *stubLoyalty) Award(_ context.Context, _ *models.Order) (*models.LoyaltyEntry, error) {
	l.awards++
	return &models.LoyaltyEntry{}, nil
}

type stripeFixture struct {
	service *Service
	orders  *stubOrderStore
	mirror  *stubMirror
	fetcher *stubFetcher
	loyalty *stubLoyalty
}

func newStripeFixture(t *testing.T) *stripeFixture {
	t.Helper()

	intentID := "pi_1"
	f := &stripeFixture{
		orders: &stubOrderStore{order: &models.Order{
			ID:              uuid.New(),
			Status:          enums.OrderStatusAccepted,
			PaymentStatus:   enums.PaymentStatusProcessing,
			PaymentIntentID: &intentID,
			TotalCents:      2175,
		}},
		mirror:  &stubMirror{},
		fetcher: &stubFetcher{},
		loyalty: &stubLoyalty{},
	}

	service, err := NewService(ServiceParams{
		Orders:  f.orders,
		Mirror:  f.mirror,
		Fetcher: f.fetcher,
		Loyalty: f.loyalty,
		Logger:  logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	f.service = service
	return f
}

func intentEvent(t *testing.T, eventType stripe.EventType, intent stripe.PaymentIntent) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(intent)
	require.NoError(t, err)
	return &stripe.Event{
		ID:   "evt_1",
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleIntentSucceededAwardsLoyalty(t *testing.T) {
	f := newStripeFixture(t)
	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{
		ID: "pi_1", Amount: 2175, Status: stripe.PaymentIntentStatusSucceeded,
	})

	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Equal(t, []enums.PaymentStatus{enums.PaymentStatusPaid}, f.orders.statuses)
	assert.Equal(t, []string{"pi_1"}, f.mirror.reconciled)
	assert.Equal(t, 1, f.loyalty.awards)
	assert.Zero(t, f.fetcher.fetched)
}

func TestHandleThinPayloadHydrates(t *testing.T) {
	f := newStripeFixture(t)
	// Id only: no amount, no status.
	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{ID: "pi_1"})

	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Equal(t, 1, f.fetcher.fetched)
	assert.Equal(t, []enums.PaymentStatus{enums.PaymentStatusPaid}, f.orders.statuses)
}

func TestHandleIntentFailedSetsFailed(t *testing.T) {
	f := newStripeFixture(t)
	event := intentEvent(t, stripe.EventTypePaymentIntentPaymentFailed, stripe.PaymentIntent{
		ID: "pi_1", Amount: 2175, Status: stripe.PaymentIntentStatusRequiresPaymentMethod,
	})

	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Equal(t, []enums.PaymentStatus{enums.PaymentStatusFailed}, f.orders.statuses)
	assert.Zero(t, f.loyalty.awards)
}

func TestHandleSuccessNeverOverwritesRefund(t *testing.T) {
	f := newStripeFixture(t)
	f.orders.order.PaymentStatus = enums.PaymentStatusRefunded
	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{
		ID: "pi_1", Amount: 2175, Status: stripe.PaymentIntentStatusSucceeded,
	})

	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Empty(t, f.orders.statuses)
	assert.Zero(t, f.loyalty.awards)
}

func TestHandleUnattachedIntentAcks(t *testing.T) {
	f := newStripeFixture(t)
	event := intentEvent(t, stripe.EventTypePaymentIntentSucceeded, stripe.PaymentIntent{
		ID: "pi_unknown", Amount: 100, Status: stripe.PaymentIntentStatusSucceeded,
	})

	// Intents are created before their order; unknown must not error
	// or the provider would retry forever.
	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Empty(t, f.orders.statuses)
}

func TestHandleChargeRefunded(t *testing.T) {
	f := newStripeFixture(t)
	raw, err := json.Marshal(stripe.Charge{
		ID:            "ch_1",
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
	})
	require.NoError(t, err)
	event := &stripe.Event{
		ID:   "evt_2",
		Type: stripe.EventTypeChargeRefunded,
		Data: &stripe.EventData{Raw: raw},
	}

	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Equal(t, []enums.PaymentStatus{enums.PaymentStatusRefunded}, f.orders.statuses)
	require.Len(t, f.orders.events, 1)
	assert.Equal(t, "Payment refunded", f.orders.events[0].Title)
}

func TestHandleDisputeLogsEventOnly(t *testing.T) {
	f := newStripeFixture(t)
	object := map[string]any{
		"id":             "dp_1",
		"payment_intent": "pi_1",
		"reason":         "fraudulent",
	}
	raw, err := json.Marshal(object)
	require.NoError(t, err)
	event := &stripe.Event{
		ID:   "evt_3",
		Type: stripe.EventTypeChargeDisputeCreated,
		Data: &stripe.EventData{Raw: raw, Object: object},
	}

	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Empty(t, f.orders.statuses)
	require.Len(t, f.orders.events, 1)
	assert.Equal(t, "Payment disputed", f.orders.events[0].Title)
	assert.Equal(t, "fraudulent", f.orders.events[0].Detail)
}

func TestHandleIgnoresUnrelatedEventTypes(t *testing.T) {
	f := newStripeFixture(t)
	event := &stripe.Event{
		ID:   "evt_4",
		Type: stripe.EventTypeCustomerCreated,
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}
	require.NoError(t, f.service.HandleEvent(context.Background(), event, enums.EnvironmentTest))
	assert.Empty(t, f.orders.statuses)
}
