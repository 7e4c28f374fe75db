package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/types"
)

// OrderItem snapshots an item at order time. Rows are immutable once
// written; menu edits never alter historical orders.
type OrderItem struct {
	ID             uuid.UUID     `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID     `gorm:"column:order_id;type:uuid;not null;index"`
	MenuItemID     *uuid.UUID    `gorm:"column:menu_item_id;type:uuid"`
	Name           string        `gorm:"column:name;not null"`
	UnitPriceCents int           `gorm:"column:unit_price_cents;not null"`
	Quantity       int           `gorm:"column:quantity;not null"`
	Modifiers      types.JSONMap `gorm:"column:modifiers;type:jsonb;serializer:json"`
	TotalCents     int           `gorm:"column:total_cents;not null"`
	CreatedAt      time.Time     `gorm:"column:created_at;autoCreateTime"`
}
