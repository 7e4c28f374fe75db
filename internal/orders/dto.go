package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// ItemInput is one cart line at checkout. Prices arrive in cents and
// are snapshotted verbatim onto the order.
type ItemInput struct {
	MenuItemID     *uuid.UUID    `json:"menu_item_id,omitempty"`
	Name           string        `json:"name" validate:"required"`
	UnitPriceCents int           `json:"unit_price_cents" validate:"gte=0"`
	Quantity       int           `json:"quantity" validate:"gt=0"`
	Modifiers      types.JSONMap `json:"modifiers,omitempty"`
}

// Totals carries the client-declared money breakdown. The orchestrator
// recomputes and rejects on mismatch rather than trusting it.
type Totals struct {
	SubtotalCents    int `json:"subtotal_cents" validate:"gte=0"`
	TaxCents         int `json:"tax_cents" validate:"gte=0"`
	TipCents         int `json:"tip_cents" validate:"gte=0"`
	DeliveryFeeCents int `json:"delivery_fee_cents" validate:"gte=0"`
	ServiceFeeCents  int `json:"service_fee_cents" validate:"gte=0"`
	DiscountCents    int `json:"discount_cents" validate:"gte=0"`
	TotalCents       int `json:"total_cents" validate:"gte=0"`
}

// CreateOrderInput is everything POST /orders needs.
type CreateOrderInput struct {
	TenantID        uuid.UUID             `json:"tenant_id" validate:"required"`
	Environment     enums.Environment     `json:"-"`
	FulfillmentType enums.FulfillmentType `json:"fulfillment_type" validate:"required"`
	Items           []ItemInput           `json:"items"`
	Contact         types.Contact         `json:"contact"`
	DeliveryAddress *types.Address        `json:"delivery_address,omitempty"`
	QuoteRef        string                `json:"quote_ref,omitempty"`
	Totals          Totals                `json:"totals"`
	PaymentIntentID string                `json:"payment_intent_id,omitempty"`
}

// CancelInput cancels an order on behalf of an operator.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   enums.Actor
	Reason  string
}

// CustomerCancelInput is the time-boxed self-serve variant. The caller
// proves ownership by matching the order's contact snapshot.
type CustomerCancelInput struct {
	OrderID uuid.UUID
	Email   string
	Phone   string
}

// QuoteInput prices a prospective delivery before checkout.
type QuoteInput struct {
	Environment     enums.Environment `json:"-"`
	Address         types.Address     `json:"address"`
	OrderValueCents int               `json:"order_value_cents"`
}

// QuoteResponse hands the client an opaque reference to redeem at
// order creation, plus the fee it must echo back.
type QuoteResponse struct {
	QuoteRef  string    `json:"quote_ref"`
	FeeCents  int       `json:"fee_cents"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IntentInput drives the checkout-session payment intent endpoint.
type IntentInput struct {
	Environment   enums.Environment `json:"-"`
	SessionID     string            `json:"session_id" validate:"required"`
	AmountCents   int64             `json:"amount_cents" validate:"gt=0"`
	Currency      string            `json:"currency,omitempty"`
	CustomerEmail string            `json:"customer_email,omitempty"`
}

// IntentResponse returns what the client needs to confirm the payment.
type IntentResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
}

// ItemResponse mirrors an order item snapshot.
type ItemResponse struct {
	ID             uuid.UUID     `json:"id"`
	Name           string        `json:"name"`
	UnitPriceCents int           `json:"unit_price_cents"`
	Quantity       int           `json:"quantity"`
	Modifiers      types.JSONMap `json:"modifiers,omitempty"`
	TotalCents     int           `json:"total_cents"`
}

// EventResponse mirrors one audit log entry.
type EventResponse struct {
	Status    enums.OrderStatus `json:"status"`
	Title     string            `json:"title"`
	Detail    string            `json:"detail,omitempty"`
	Actor     enums.Actor       `json:"actor"`
	CreatedAt time.Time         `json:"created_at"`
}

// CourierResponse exposes the customer-visible slice of the courier task.
type CourierResponse struct {
	Status       enums.CourierTaskStatus `json:"status"`
	TrackingURL  *string                 `json:"tracking_url,omitempty"`
	CourierName  *string                 `json:"courier_name,omitempty"`
	CourierPhone *string                 `json:"courier_phone,omitempty"`
}

// OrderResponse is the serialized order returned by every order route.
type OrderResponse struct {
	ID              uuid.UUID             `json:"id"`
	TenantID        uuid.UUID             `json:"tenant_id"`
	FulfillmentType enums.FulfillmentType `json:"fulfillment_type"`
	Status          enums.OrderStatus     `json:"status"`
	PaymentStatus   enums.PaymentStatus   `json:"payment_status"`
	Totals          Totals                `json:"totals"`
	Contact         types.Contact         `json:"contact"`
	DeliveryAddress *types.Address        `json:"delivery_address,omitempty"`
	Items           []ItemResponse        `json:"items"`
	Events          []EventResponse       `json:"events"`
	Courier         *CourierResponse      `json:"courier,omitempty"`
	Metadata        types.JSONMap         `json:"metadata,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

// ToOrderResponse flattens the order aggregate for the API.
func ToOrderResponse(order *models.Order) *OrderResponse {
	resp := &OrderResponse{
		ID:              order.ID,
		TenantID:        order.TenantID,
		FulfillmentType: order.FulfillmentType,
		Status:          order.Status,
		PaymentStatus:   order.PaymentStatus,
		Totals: Totals{
			SubtotalCents:    order.SubtotalCents,
			TaxCents:         order.TaxCents,
			TipCents:         order.TipCents,
			DeliveryFeeCents: order.DeliveryFeeCents,
			ServiceFeeCents:  order.ServiceFeeCents,
			DiscountCents:    order.DiscountCents,
			TotalCents:       order.TotalCents,
		},
		Contact:         order.Contact,
		DeliveryAddress: order.DeliveryAddress,
		Metadata:        order.Metadata,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}

	for _, item := range order.Items {
		resp.Items = append(resp.Items, ItemResponse{
			ID:             item.ID,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
			Modifiers:      item.Modifiers,
			TotalCents:     item.TotalCents,
		})
	}
	for _, event := range order.Events {
		resp.Events = append(resp.Events, EventResponse{
			Status:    event.Status,
			Title:     event.Title,
			Detail:    event.Detail,
			Actor:     event.Actor,
			CreatedAt: event.CreatedAt,
		})
	}
	if task := order.CourierTask; task != nil {
		resp.Courier = &CourierResponse{
			Status:       task.ProviderStatus,
			TrackingURL:  task.TrackingURL,
			CourierName:  task.CourierName,
			CourierPhone: task.CourierPhone,
		}
	}
	return resp
}
