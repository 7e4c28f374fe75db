package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// PaymentIntentRecord mirrors the provider's payment intent. It is only
// written by reconciliation (creation verification, webhooks, refunds),
// never directly from client input.
type PaymentIntentRecord struct {
	ID                   string              `gorm:"column:id;primaryKey"`
	OrderID              *uuid.UUID          `gorm:"column:order_id;type:uuid;index"`
	Status               string              `gorm:"column:status;not null"`
	AmountCents          int64               `gorm:"column:amount_cents;not null"`
	AmountReceivedCents  int64               `gorm:"column:amount_received_cents;not null;default:0"`
	AmountRefundedCents  int64               `gorm:"column:amount_refunded_cents;not null;default:0"`
	Currency             string              `gorm:"column:currency;not null;default:'usd'"`
	TransferAmountCents  *int64              `gorm:"column:transfer_amount_cents"`
	ApplicationFeeCents  *int64              `gorm:"column:application_fee_cents"`
	DestinationAccountID *string             `gorm:"column:destination_account_id"`
	CustomerEmail        *string             `gorm:"column:customer_email"`
	CustomerPhone        *string             `gorm:"column:customer_phone"`
	Environment          enums.Environment   `gorm:"column:environment;type:provider_environment;not null;default:'test'"`
	PaymentStatus        enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'unpaid'"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the provider-keyed mirror apart from gorm's default
// pluralization of "payment intent record".
func (PaymentIntentRecord) TableName() string {
	return "payment_intents"
}
