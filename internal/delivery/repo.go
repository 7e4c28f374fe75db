package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// Repository persists courier tasks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTask(ctx context.Context, task *models.CourierTask) (*models.CourierTask, error)
	FindTaskByOrder(ctx context.Context, orderID uuid.UUID) (*models.CourierTask, error)
	FindTaskByProviderJob(ctx context.Context, providerJobID string) (*models.CourierTask, error)
	UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error
	// ListStaleActiveTasks returns tasks for orders in an active delivery
	// status whose provider state has not refreshed since the cutoff.
	ListStaleActiveTasks(ctx context.Context, cutoff time.Time, limit int) ([]models.CourierTask, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a delivery repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateTask(ctx context.Context, task *models.CourierTask) (*models.CourierTask, error) {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, err
	}
	return task, nil
}

func (r *repository) FindTaskByOrder(ctx context.Context, orderID uuid.UUID) (*models.CourierTask, error) {
	var task models.CourierTask
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) FindTaskByProviderJob(ctx context.Context, providerJobID string) (*models.CourierTask, error) {
	var task models.CourierTask
	err := r.db.WithContext(ctx).
		Where("provider_job_id = ?", providerJobID).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *repository) UpdateTask(ctx context.Context, taskID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.CourierTask{}).
		Where("id = ?", taskID).
		Updates(updates).Error
}

var activeDeliveryStatuses = []enums.OrderStatus{
	enums.OrderStatusCourierRequested,
	enums.OrderStatusDriverEnRoute,
	enums.OrderStatusPickedUp,
}

func (r *repository) ListStaleActiveTasks(ctx context.Context, cutoff time.Time, limit int) ([]models.CourierTask, error) {
	var tasks []models.CourierTask
	err := r.db.WithContext(ctx).
		Joins("JOIN orders ON orders.id = courier_tasks.order_id").
		Where("orders.status IN ?", activeDeliveryStatuses).
		Where("courier_tasks.last_polled_at IS NULL OR courier_tasks.last_polled_at < ?", cutoff).
		Where("courier_tasks.updated_at < ?", cutoff).
		Order("courier_tasks.updated_at ASC").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, err
	}
	return tasks, nil
}
