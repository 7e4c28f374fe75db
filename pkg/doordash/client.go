package doordash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
)

const (
	defaultBaseURL             = "https://openapi.doordash.com/drive/v2"
	responseBodyReadLimit int64 = 1 << 20
)

var (
	errCredentialsRequired = errors.New("doordash developer id and key pair are required")
)

// Client wraps the Drive API used for courier dispatch. Every call takes
// the provider environment so one process can serve production and
// sandbox traffic side by side.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        config.DoorDashConfig
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the configured Drive base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		trimmed := strings.TrimSpace(baseURL)
		if trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// NewClient builds the Drive client from the configured credentials.
func NewClient(cfg config.DoorDashConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.DeveloperID) == "" {
		return nil, errCredentialsRequired
	}

	client := &Client{
		cfg:        cfg,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		client.baseURL = strings.TrimSpace(cfg.BaseURL)
	}
	if cfg.RequestTimeout > 0 {
		client.httpClient.Timeout = cfg.RequestTimeout
	}

	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if client.baseURL == "" {
		client.baseURL = defaultBaseURL
	}

	return client, nil
}

// QuoteRequest describes the payload for a delivery fee quote.
type QuoteRequest struct {
	ExternalDeliveryID string `json:"external_delivery_id"`
	PickupAddress      string `json:"pickup_address"`
	PickupPhoneNumber  string `json:"pickup_phone_number,omitempty"`
	DropoffAddress     string `json:"dropoff_address"`
	DropoffPhoneNumber string `json:"dropoff_phone_number,omitempty"`
	OrderValue         int    `json:"order_value,omitempty"`
}

// Quote is the provider's priced offer for a prospective delivery.
type Quote struct {
	ExternalDeliveryID string    `json:"external_delivery_id"`
	FeeCents           int       `json:"fee"`
	Currency           string    `json:"currency"`
	ExpiresAt          time.Time `json:"expires_at"`
}

// DeliveryRequest describes the payload for dispatching a courier.
type DeliveryRequest struct {
	ExternalDeliveryID  string `json:"external_delivery_id"`
	PickupAddress       string `json:"pickup_address"`
	PickupBusinessName  string `json:"pickup_business_name,omitempty"`
	PickupPhoneNumber   string `json:"pickup_phone_number,omitempty"`
	PickupInstructions  string `json:"pickup_instructions,omitempty"`
	DropoffAddress      string `json:"dropoff_address"`
	DropoffPhoneNumber  string `json:"dropoff_phone_number,omitempty"`
	DropoffContactName  string `json:"dropoff_contact_given_name,omitempty"`
	DropoffInstructions string `json:"dropoff_instructions,omitempty"`
	OrderValue          int    `json:"order_value,omitempty"`
	TipCents            int    `json:"tip,omitempty"`
}

// Delivery is the provider's view of a dispatched job. Status strings
// are the provider vocabulary; mapping to order statuses happens in the
// delivery reconciler.
type Delivery struct {
	ExternalDeliveryID  string     `json:"external_delivery_id"`
	Status              string     `json:"delivery_status"`
	FeeCents            int        `json:"fee"`
	Currency            string     `json:"currency"`
	TrackingURL         string     `json:"tracking_url"`
	CourierName         string     `json:"dasher_name"`
	CourierPhone        string     `json:"dasher_dropoff_phone_number"`
	SupportReference    string     `json:"support_reference"`
	CancellationReason  string     `json:"cancellation_reason"`
	PickupTimeEstimate  *time.Time `json:"pickup_time_estimated"`
	DropoffTimeEstimate *time.Time `json:"dropoff_time_estimated"`
	UpdatedAt           *time.Time `json:"updated_at"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateQuote requests a delivery fee quote.
func (c *Client) CreateQuote(ctx context.Context, environment enums.Environment, req QuoteRequest) (*Quote, error) {
	if strings.TrimSpace(req.DropoffAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "dropoff address is required")
	}
	var quote Quote
	if err := c.do(ctx, environment, http.MethodPost, "quotes", req, &quote); err != nil {
		return nil, err
	}
	return &quote, nil
}

// CreateDelivery dispatches a courier for the order.
func (c *Client) CreateDelivery(ctx context.Context, environment enums.Environment, req DeliveryRequest) (*Delivery, error) {
	if strings.TrimSpace(req.ExternalDeliveryID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external delivery id is required")
	}
	var delivery Delivery
	if err := c.do(ctx, environment, http.MethodPost, "deliveries", req, &delivery); err != nil {
		return nil, err
	}
	return &delivery, nil
}

// GetDelivery fetches the current provider state for a job.
func (c *Client) GetDelivery(ctx context.Context, environment enums.Environment, externalDeliveryID string) (*Delivery, error) {
	if strings.TrimSpace(externalDeliveryID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external delivery id is required")
	}
	var delivery Delivery
	path := "deliveries/" + url.PathEscape(externalDeliveryID)
	err := c.do(ctx, environment, http.MethodGet, path, nil, &delivery)
	if err != nil && ctx.Err() == nil {
		// Status reads are idempotent, so a transient failure gets one
		// more attempt. Creates and cancels never retry.
		if typed := pkgerrors.As(err); typed != nil && pkgerrors.MetadataFor(typed.Code()).Retryable {
			err = c.do(ctx, environment, http.MethodGet, path, nil, &delivery)
		}
	}
	if err != nil {
		return nil, err
	}
	return &delivery, nil
}

// MarkPickupReady tells the provider the kitchen finished and the
// order can be collected.
func (c *Client) MarkPickupReady(ctx context.Context, environment enums.Environment, externalDeliveryID string) (*Delivery, error) {
	if strings.TrimSpace(externalDeliveryID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external delivery id is required")
	}
	var delivery Delivery
	path := "deliveries/" + url.PathEscape(externalDeliveryID)
	body := map[string]any{"pickup_ready": true}
	if err := c.do(ctx, environment, http.MethodPatch, path, body, &delivery); err != nil {
		return nil, err
	}
	return &delivery, nil
}

// CancelDelivery asks the provider to cancel a dispatched job.
func (c *Client) CancelDelivery(ctx context.Context, environment enums.Environment, externalDeliveryID string) (*Delivery, error) {
	if strings.TrimSpace(externalDeliveryID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external delivery id is required")
	}
	var delivery Delivery
	path := "deliveries/" + url.PathEscape(externalDeliveryID) + "/cancel"
	if err := c.do(ctx, environment, http.MethodPut, path, nil, &delivery); err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (c *Client) do(ctx context.Context, environment enums.Environment, method, path string, body any, out any) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "doordash client not configured")
	}

	token, err := c.mintToken(environment)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mint doordash token")
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode doordash request")
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path, reqBody)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build doordash request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "call doordash")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read doordash response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return pkgerrors.New(pkgerrors.CodeProvider, fmt.Sprintf("doordash %s: %s", apiErr.Code, apiErr.Message))
		}
		return pkgerrors.New(pkgerrors.CodeProvider, fmt.Sprintf("doordash returned status %d", resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeProvider, err, "decode doordash response")
	}
	return nil
}
