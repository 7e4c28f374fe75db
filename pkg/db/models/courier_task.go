package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// CourierTask tracks one dispatched delivery job. It is updated by both
// the webhook path and the stale-poll path; the order status itself only
// changes through the reconciler's guard pipeline.
type CourierTask struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	ProviderJobID  string                  `gorm:"column:provider_job_id;not null;index"`
	ProviderStatus enums.CourierTaskStatus `gorm:"column:provider_status;type:courier_task_status;not null;default:'pending'"`
	TrackingURL    *string                 `gorm:"column:tracking_url"`
	Live           bool                    `gorm:"column:live;not null;default:false"`
	CourierName    *string                 `gorm:"column:courier_name"`
	CourierPhone   *string                 `gorm:"column:courier_phone"`

	// RawStatus keeps the last provider payload plus a courier_history
	// list so reassigned couriers are retained for support.
	RawStatus types.JSONMap `gorm:"column:raw_status;type:jsonb;serializer:json"`

	LastPolledAt *time.Time `gorm:"column:last_polled_at"`
	StatusAt     *time.Time `gorm:"column:status_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// CourierHistoryKey is the RawStatus key holding prior courier identities.
const CourierHistoryKey = "courier_history"
