package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// OrderEvent is an append-only audit log entry. Rows are never updated
// or deleted; support tooling reads order history exclusively from here.
type OrderEvent struct {
	ID       uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID  uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	Status   enums.OrderStatus `gorm:"column:status;type:order_status;not null"`
	Title    string            `gorm:"column:title;not null"`
	Detail   string            `gorm:"column:detail"`
	Actor    enums.Actor       `gorm:"column:actor;type:actor;not null;default:'system'"`
	Metadata types.JSONMap     `gorm:"column:metadata;type:jsonb;serializer:json"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
