package orders

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	pkgerrors "github.com/tavolahq/tavola-backend/pkg/errors"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_items.created_at ASC")
		}).
		Preload("Events", func(db *gorm.DB) *gorm.DB {
			return db.Order("order_events.created_at ASC")
		}).
		Preload("CourierTask").
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateStatus is a compare-and-set: the write only lands when the row
// still carries the expected status. Concurrent progression paths race
// here and exactly one wins.
func (r *repository) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) AppendEvent(ctx context.Context, event *models.OrderEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// MarkMetadataOnce writes the key only if absent and reports whether
// this caller won. On postgres the key is merged in a single guarded
// statement, so two callers marking different keys cannot clobber each
// other's marker; other dialects get an optimistic compare-and-set
// over the full metadata snapshot with the same guarantee.
func (r *repository) MarkMetadataOnce(ctx context.Context, orderID uuid.UUID, key string, value any) (bool, error) {
	if r.db.Dialector.Name() == "postgres" {
		return r.markMetadataOnceMerge(ctx, orderID, key, value)
	}
	return r.markMetadataOnceCAS(ctx, orderID, key, value)
}

func (r *repository) markMetadataOnceMerge(ctx context.Context, orderID uuid.UUID, key string, value any) (bool, error) {
	patch, err := json.Marshal(types.JSONMap{key: value})
	if err != nil {
		return false, err
	}

	result := r.db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET metadata = COALESCE(metadata, '{}'::jsonb) || ?::jsonb
		 WHERE id = ? AND NOT jsonb_exists(COALESCE(metadata, '{}'::jsonb), ?)`,
		string(patch), orderID, key,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Zero rows means either the key was already present or the order
	// does not exist; callers still need the not-found error.
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return false, nil
}

func (r *repository) markMetadataOnceCAS(ctx context.Context, orderID uuid.UUID, key string, value any) (bool, error) {
	for attempt := 0; attempt < 5; attempt++ {
		var order models.Order
		if err := r.db.WithContext(ctx).
			Select("id", "metadata").
			Where("id = ?", orderID).
			First(&order).Error; err != nil {
			return false, err
		}
		if _, exists := order.Metadata[key]; exists {
			return false, nil
		}

		updated := types.JSONMap{key: value}
		for k, v := range order.Metadata {
			updated[k] = v
		}

		query := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", orderID)
		if order.Metadata == nil {
			query = query.Where("metadata IS NULL")
		} else {
			snapshot, err := json.Marshal(order.Metadata)
			if err != nil {
				return false, err
			}
			query = query.Where("metadata = ?", snapshot)
		}
		result := query.Update("metadata", updated)
		if result.Error != nil {
			return false, result.Error
		}
		if result.RowsAffected > 0 {
			return true, nil
		}
		// Lost to a concurrent metadata write; re-read and try again.
	}
	return false, pkgerrors.New(pkgerrors.CodeConflict, "metadata update contention")
}

func (r *repository) SetPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_status", status).Error
}

func (r *repository) UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

var terminalStatuses = []enums.OrderStatus{
	enums.OrderStatusDelivered,
	enums.OrderStatusCanceled,
	enums.OrderStatusFailed,
}

func (r *repository) ListActiveOrders(ctx context.Context, since time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", terminalStatuses).
		Where("created_at >= ?", since).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *repository) FindOrderByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}
