package doordash

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

func testConfig(baseURL string) config.DoorDashConfig {
	secret := base64.RawURLEncoding.EncodeToString([]byte("sandbox-signing-secret"))
	return config.DoorDashConfig{
		DeveloperID:             "dev-123",
		SandboxKeyID:            "key-sandbox",
		SandboxSigningSecret:    secret,
		ProductionKeyID:         "key-prod",
		ProductionSigningSecret: base64.RawURLEncoding.EncodeToString([]byte("prod-signing-secret")),
		ProductionWebhookSecret: "whsec-prod",
		TestWebhookSecret:       "whsec-test",
		BaseURL:                 baseURL,
		RequestTimeout:          5 * time.Second,
	}
}

func TestCreateDeliverySendsSignedRequest(t *testing.T) {
	var gotAuth string
	var gotBody DeliveryRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deliveries" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Delivery{
			ExternalDeliveryID: gotBody.ExternalDeliveryID,
			Status:             "pending",
			TrackingURL:        "https://track.example/d1",
		})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	delivery, err := client.CreateDelivery(t.Context(), enums.EnvironmentTest, DeliveryRequest{
		ExternalDeliveryID: "order-1",
		PickupAddress:      "1 Main St",
		DropoffAddress:     "9 Oak Ave",
	})
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}
	if delivery.Status != "pending" {
		t.Fatalf("unexpected status %q", delivery.Status)
	}
	if gotBody.DropoffAddress != "9 Oak Ave" {
		t.Fatalf("unexpected dropoff %q", gotBody.DropoffAddress)
	}

	token, ok := strings.CutPrefix(gotAuth, "Bearer ")
	if !ok {
		t.Fatalf("missing bearer token, got %q", gotAuth)
	}
	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (any, error) {
		return []byte("sandbox-signing-secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["iss"] != "dev-123" || claims["kid"] != "key-sandbox" {
		t.Fatalf("unexpected claims %v", claims)
	}
	if parsed.Header["dd-ver"] != "DD-JWT-V1" {
		t.Fatalf("missing dd-ver header, got %v", parsed.Header)
	}
}

func TestCreateDeliverySurfacesProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "validation_error", "message": "dropoff address is not servable"})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateDelivery(t.Context(), enums.EnvironmentTest, DeliveryRequest{
		ExternalDeliveryID: "order-2",
		PickupAddress:      "1 Main St",
		DropoffAddress:     "far away",
	})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if !strings.Contains(err.Error(), "dropoff address is not servable") {
		t.Fatalf("error missing provider message: %v", err)
	}
}

func TestGetDeliveryRetriesTransientFailureOnce(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(Delivery{
			ExternalDeliveryID: "order-3",
			Status:             "picked_up",
		})
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	delivery, err := client.GetDelivery(t.Context(), enums.EnvironmentTest, "order-3")
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if hits != 2 {
		t.Fatalf("expected one retry, server saw %d requests", hits)
	}
	if delivery.Status != "picked_up" {
		t.Fatalf("unexpected status %q", delivery.Status)
	}
}

func TestCreateDeliveryNeverRetries(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.CreateDelivery(t.Context(), enums.EnvironmentTest, DeliveryRequest{
		ExternalDeliveryID: "order-4",
		PickupAddress:      "1 Main St",
		DropoffAddress:     "9 Oak Ave",
	})
	if err == nil {
		t.Fatal("expected provider error")
	}
	if hits != 1 {
		t.Fatalf("create must not retry, server saw %d requests", hits)
	}
}

func TestVerifyWebhookSelectsEnvironment(t *testing.T) {
	cfg := testConfig("")
	payload := []byte(`{"event_category":"delivery_status"}`)

	sign := func(secret string) string {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(payload)
		return hex.EncodeToString(mac.Sum(nil))
	}

	env, err := VerifyWebhook(cfg, payload, sign("whsec-prod"))
	if err != nil {
		t.Fatalf("verify production: %v", err)
	}
	if env != enums.EnvironmentProduction {
		t.Fatalf("expected production, got %s", env)
	}

	env, err = VerifyWebhook(cfg, payload, sign("whsec-test"))
	if err != nil {
		t.Fatalf("verify test: %v", err)
	}
	if env != enums.EnvironmentTest {
		t.Fatalf("expected test, got %s", env)
	}

	if _, err := VerifyWebhook(cfg, payload, sign("wrong")); err == nil {
		t.Fatal("expected mismatch error")
	}
	if _, err := VerifyWebhook(cfg, payload, ""); err == nil {
		t.Fatal("expected error for empty signature")
	}
}
