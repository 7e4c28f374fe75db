package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	doordashwebhook "github.com/tavolahq/tavola-backend/internal/webhooks/doordash"
	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/doordash"
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

type fakeDoorDashWebhookService struct {
	mu      sync.Mutex
	calls   int
	lastEnv enums.Environment
	lastID  string
	err     error
}

func (f *fakeDoorDashWebhookService) HandleEvent(_ context.Context, event *doordashwebhook.Event, environment enums.Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastEnv = environment
	f.lastID = event.ExternalDeliveryID
	if f.err != nil {
		err := f.err
		f.err = nil
		return err
	}
	return nil
}

func doordashTestConfig() config.DoorDashConfig {
	return config.DoorDashConfig{
		ProductionWebhookSecret: "prod-secret",
		TestWebhookSecret:       "test-secret",
	}
}

func signDoorDashPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func doordashEventPayload(t *testing.T, eventID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"event_id":             eventID,
		"event_kind":           "delivery_status",
		"external_delivery_id": "dd-1",
		"delivery": map[string]any{
			"external_delivery_id": "dd-1",
			"delivery_status":      "pickup_complete",
		},
	})
	require.NoError(t, err)
	return payload
}

func postDoorDashEvent(handler http.HandlerFunc, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/doordash", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set(doordash.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestDoorDashWebhookVerifiesAndRoutesEnvironment(t *testing.T) {
	service := &fakeDoorDashWebhookService{}
	handler := DoorDashWebhook(service, doordashTestConfig(), newTestGuard(t, "doordash-webhook"), webhookTestLogger())
	payload := doordashEventPayload(t, "dd-evt-1")

	rec := postDoorDashEvent(handler, payload, signDoorDashPayload("test-secret", payload))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, service.calls)
	require.Equal(t, enums.EnvironmentTest, service.lastEnv)
	require.Equal(t, "dd-1", service.lastID)

	replay := postDoorDashEvent(handler, payload, signDoorDashPayload("test-secret", payload))
	require.Equal(t, http.StatusOK, replay.Code)
	require.Equal(t, 1, service.calls)
}

func TestDoorDashWebhookRejectsForgedSignature(t *testing.T) {
	service := &fakeDoorDashWebhookService{}
	handler := DoorDashWebhook(service, doordashTestConfig(), newTestGuard(t, "doordash-webhook"), webhookTestLogger())
	payload := doordashEventPayload(t, "dd-evt-2")

	rec := postDoorDashEvent(handler, payload, signDoorDashPayload("wrong-secret", payload))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, service.calls)
}

func TestDoorDashWebhookDeduplicatesWithoutEventID(t *testing.T) {
	service := &fakeDoorDashWebhookService{}
	handler := DoorDashWebhook(service, doordashTestConfig(), newTestGuard(t, "doordash-webhook"), webhookTestLogger())
	payload, err := json.Marshal(map[string]any{
		"event_kind":           "delivery_status",
		"external_delivery_id": "dd-2",
		"delivery": map[string]any{
			"external_delivery_id": "dd-2",
			"delivery_status":      "dropoff",
		},
	})
	require.NoError(t, err)

	first := postDoorDashEvent(handler, payload, signDoorDashPayload("prod-secret", payload))
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	require.Equal(t, enums.EnvironmentProduction, service.lastEnv)

	// No event id: dedup falls back to delivery id plus kind.
	second := postDoorDashEvent(handler, payload, signDoorDashPayload("prod-secret", payload))
	require.Equal(t, http.StatusOK, second.Code)
	require.Equal(t, 1, service.calls)
}

func TestDoorDashWebhookReleasesMarkOnHandlerFailure(t *testing.T) {
	service := &fakeDoorDashWebhookService{err: errors.New("reconcile failed")}
	handler := DoorDashWebhook(service, doordashTestConfig(), newTestGuard(t, "doordash-webhook"), webhookTestLogger())
	payload := doordashEventPayload(t, "dd-evt-3")

	rec := postDoorDashEvent(handler, payload, signDoorDashPayload("test-secret", payload))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, 1, service.calls)

	retry := postDoorDashEvent(handler, payload, signDoorDashPayload("test-secret", payload))
	require.Equal(t, http.StatusOK, retry.Code, retry.Body.String())
	require.Equal(t, 2, service.calls)
}
