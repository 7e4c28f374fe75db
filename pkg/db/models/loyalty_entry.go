package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// LoyaltyEntry records a star movement. Append-only: cancellations add a
// negative entry instead of deleting the original purchase.
type LoyaltyEntry struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProfileID uuid.UUID              `gorm:"column:profile_id;type:uuid;not null;index"`
	OrderID   *uuid.UUID             `gorm:"column:order_id;type:uuid;index"`
	Type      enums.LoyaltyEntryType `gorm:"column:type;type:loyalty_entry_type;not null"`
	Stars     int                    `gorm:"column:stars;not null"`
	Note      *string                `gorm:"column:note"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
