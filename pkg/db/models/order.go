package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// Order is the authoritative order record. Status progression, payment
// reconciliation, and courier updates all mutate this one row.
type Order struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID        uuid.UUID             `gorm:"column:tenant_id;type:uuid;not null;index"`
	FulfillmentType enums.FulfillmentType `gorm:"column:fulfillment_type;type:fulfillment_type;not null"`
	Status          enums.OrderStatus     `gorm:"column:status;type:order_status;not null;default:'created'"`
	PaymentStatus   enums.PaymentStatus   `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'"`

	SubtotalCents    int `gorm:"column:subtotal_cents;not null"`
	TaxCents         int `gorm:"column:tax_cents;not null;default:0"`
	TipCents         int `gorm:"column:tip_cents;not null;default:0"`
	DeliveryFeeCents int `gorm:"column:delivery_fee_cents;not null;default:0"`
	ServiceFeeCents  int `gorm:"column:service_fee_cents;not null;default:0"`
	DiscountCents    int `gorm:"column:discount_cents;not null;default:0"`
	TotalCents       int `gorm:"column:total_cents;not null"`

	Contact         types.Contact  `gorm:"column:contact;type:jsonb;serializer:json"`
	DeliveryAddress *types.Address `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	Metadata        types.JSONMap  `gorm:"column:metadata;type:jsonb;serializer:json"`

	PaymentIntentID *string `gorm:"column:payment_intent_id"`

	Items         []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Events        []OrderEvent         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CourierTask   *CourierTask         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	PaymentIntent *PaymentIntentRecord `gorm:"foreignKey:OrderID;references:ID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ComponentTotalCents sums the component fields; TotalCents must always
// equal this value.
func (o Order) ComponentTotalCents() int {
	return o.SubtotalCents + o.TaxCents + o.TipCents + o.DeliveryFeeCents + o.ServiceFeeCents - o.DiscountCents
}

// Environment reads the environment tag stamped at creation time.
func (o Order) Environment() enums.Environment {
	if raw, ok := o.Metadata.GetString(MetaEnvironment); ok {
		if env, err := enums.ParseEnvironment(raw); err == nil {
			return env
		}
	}
	return enums.EnvironmentProduction
}
