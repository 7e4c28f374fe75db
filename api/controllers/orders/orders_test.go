package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	apimiddleware "github.com/tavolahq/tavola-backend/api/middleware"
	internalorders "github.com/tavolahq/tavola-backend/internal/orders"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/logger"
)

type fakeOrderService struct {
	createInput         *internalorders.CreateOrderInput
	getID               uuid.UUID
	cancelInput         *internalorders.CancelInput
	customerCancelInput *internalorders.CustomerCancelInput
	quoteInput          *internalorders.QuoteInput
	intentInput         *internalorders.IntentInput
	err                 error
}

func (f *fakeOrderService) response(id uuid.UUID) *internalorders.OrderResponse {
	return &internalorders.OrderResponse{ID: id, Status: enums.OrderStatusAccepted}
}

func (f *fakeOrderService) Create(_ context.Context, input internalorders.CreateOrderInput) (*internalorders.OrderResponse, error) {
	f.createInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return f.response(uuid.New()), nil
}

func (f *fakeOrderService) Get(_ context.Context, orderID uuid.UUID) (*internalorders.OrderResponse, error) {
	f.getID = orderID
	if f.err != nil {
		return nil, f.err
	}
	return f.response(orderID), nil
}

func (f *fakeOrderService) Cancel(_ context.Context, input internalorders.CancelInput) (*internalorders.OrderResponse, error) {
	f.cancelInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return f.response(input.OrderID), nil
}

func (f *fakeOrderService) CustomerCancel(_ context.Context, input internalorders.CustomerCancelInput) (*internalorders.OrderResponse, error) {
	f.customerCancelInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return f.response(input.OrderID), nil
}

func (f *fakeOrderService) QuoteDelivery(_ context.Context, input internalorders.QuoteInput) (*internalorders.QuoteResponse, error) {
	f.quoteInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return &internalorders.QuoteResponse{QuoteRef: "q_1", FeeCents: 599, Currency: "usd"}, nil
}

func (f *fakeOrderService) CreateIntent(_ context.Context, input internalorders.IntentInput) (*internalorders.IntentResponse, error) {
	f.intentInput = &input
	if f.err != nil {
		return nil, f.err
	}
	return &internalorders.IntentResponse{IntentID: "pi_1", ClientSecret: "pi_1_secret", AmountCents: input.AmountCents}, nil
}

func orderTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func orderRouter(svc Service) http.Handler {
	logg := orderTestLogger()
	r := chi.NewRouter()
	r.Use(apimiddleware.Environment())
	r.Post("/orders", Create(svc, logg))
	r.Get("/orders/{orderId}", Get(svc, logg))
	r.Post("/orders/{orderId}/cancel", Cancel(svc, logg))
	r.Post("/orders/{orderId}/customer-cancel", CustomerCancel(svc, logg))
	r.Post("/delivery/quote", Quote(svc, logg))
	r.Post("/payments/intent", Intent(svc, logg))
	return r
}

func createOrderBody(t *testing.T) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"tenant_id":        uuid.NewString(),
		"fulfillment_type": "pickup",
		"items": []map[string]any{
			{"name": "Margherita", "unit_price_cents": 1400, "quantity": 1},
		},
		"contact": map[string]any{
			"name":  "Dana",
			"email": "dana@example.com",
			"phone": "+12125550100",
		},
		"totals": map[string]any{
			"subtotal_cents": 1400,
			"tax_cents":      112,
			"total_cents":    1512,
		},
		"payment_intent_id": "pi_1",
	})
	require.NoError(t, err)
	return body
}

func TestCreateOrderRoutesEnvironmentHeader(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(createOrderBody(t)))
	req.Header.Set(apimiddleware.EnvironmentHeader, "test")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.createInput)
	require.Equal(t, enums.EnvironmentTest, svc.createInput.Environment)
	require.Equal(t, enums.FulfillmentTypePickup, svc.createInput.FulfillmentType)
	require.Equal(t, "pi_1", svc.createInput.PaymentIntentID)
}

func TestCreateOrderDefaultsToProduction(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(createOrderBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, enums.EnvironmentProduction, svc.createInput.Environment)
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader([]byte(`{"surprise":true}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, svc.createInput)
}

func TestCreateOrderSurfacesServiceError(t *testing.T) {
	svc := &fakeOrderService{err: pkgerrors.New(pkgerrors.CodeValidation, "Order total mismatch")}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(createOrderBody(t)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "Order total mismatch")
}

func TestGetOrderParsesID(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/orders/"+orderID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, orderID, svc.getID)
}

func TestGetOrderRejectsMalformedID(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/orders/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, uuid.Nil, svc.getID)
}

func TestCancelOrderRunsAsAdmin(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/cancel",
		bytes.NewReader([]byte(`{"reason":"kitchen closed"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.cancelInput)
	require.Equal(t, enums.ActorAdmin, svc.cancelInput.Actor)
	require.Equal(t, "kitchen closed", svc.cancelInput.Reason)
}

func TestCustomerCancelRequiresContact(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/customer-cancel",
		bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, svc.customerCancelInput)
}

func TestCustomerCancelPassesContact(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)
	orderID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/orders/"+orderID.String()+"/customer-cancel",
		bytes.NewReader([]byte(`{"email":"dana@example.com"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "dana@example.com", svc.customerCancelInput.Email)
	require.Equal(t, orderID, svc.customerCancelInput.OrderID)
}

func TestQuoteDeliveryCarriesEnvironment(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	body := []byte(`{"address":{"line1":"1 Main St","city":"New York","state":"NY","postal_code":"10001"},"order_value_cents":2000}`)
	req := httptest.NewRequest(http.MethodPost, "/delivery/quote", bytes.NewReader(body))
	req.Header.Set(apimiddleware.EnvironmentHeader, "test")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, enums.EnvironmentTest, svc.quoteInput.Environment)
	require.Equal(t, 2000, svc.quoteInput.OrderValueCents)
	require.Contains(t, rec.Body.String(), "q_1")
}

func TestCreateIntentValidatesAmount(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/intent",
		bytes.NewReader([]byte(`{"session_id":"sess_1","amount_cents":0}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Nil(t, svc.intentInput)
}

func TestCreateIntentReturnsClientSecret(t *testing.T) {
	svc := &fakeOrderService{}
	router := orderRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/payments/intent",
		bytes.NewReader([]byte(`{"session_id":"sess_1","amount_cents":2175,"customer_email":"dana@example.com"}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "sess_1", svc.intentInput.SessionID)
	require.Equal(t, int64(2175), svc.intentInput.AmountCents)
	require.Contains(t, rec.Body.String(), "pi_1_secret")
}
