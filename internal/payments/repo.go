package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
)

// Repository persists the provider payment-intent mirror.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertIntent(ctx context.Context, record *models.PaymentIntentRecord) error
	FindIntent(ctx context.Context, id string) (*models.PaymentIntentRecord, error)
	FindIntentByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntentRecord, error)
	UpdateIntent(ctx context.Context, id string, updates map[string]any) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) UpsertIntent(ctx context.Context, record *models.PaymentIntentRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(record).Error
}

func (r *repository) FindIntent(ctx context.Context, id string) (*models.PaymentIntentRecord, error) {
	var record models.PaymentIntentRecord
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindIntentByOrder(ctx context.Context, orderID uuid.UUID) (*models.PaymentIntentRecord, error) {
	var record models.PaymentIntentRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) UpdateIntent(ctx context.Context, id string, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntentRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}
