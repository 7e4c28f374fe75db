package loyalty

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
)

// Repository manages persistence for loyalty profiles and their
// append-only star ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateProfile(ctx context.Context, profile *models.LoyaltyProfile) error
	FindProfile(ctx context.Context, id uuid.UUID) (*models.LoyaltyProfile, error)
	FindProfileByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.LoyaltyProfile, error)
	FindProfileByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*models.LoyaltyProfile, error)
	UpdateProfile(ctx context.Context, profileID uuid.UUID, updates map[string]any) error
	// DetachPhone nulls the phone on whichever profile currently owns it,
	// excluding the profile that is about to claim it.
	DetachPhone(ctx context.Context, tenantID uuid.UUID, phone string, exceptProfileID uuid.UUID) error
	AddStars(ctx context.Context, profileID uuid.UUID, delta int) error
	CreateEntry(ctx context.Context, entry *models.LoyaltyEntry) error
	FindEntryByOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LoyaltyEntryType) (*models.LoyaltyEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a loyalty repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateProfile(ctx context.Context, profile *models.LoyaltyProfile) error {
	return r.db.WithContext(ctx).Create(profile).Error
}

func (r *repository) FindProfile(ctx context.Context, id uuid.UUID) (*models.LoyaltyProfile, error) {
	var profile models.LoyaltyProfile
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindProfileByEmail(ctx context.Context, tenantID uuid.UUID, email string) (*models.LoyaltyProfile, error) {
	var profile models.LoyaltyProfile
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, email).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) FindProfileByPhone(ctx context.Context, tenantID uuid.UUID, phone string) (*models.LoyaltyProfile, error) {
	var profile models.LoyaltyProfile
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND phone = ?", tenantID, phone).
		First(&profile).Error; err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *repository) UpdateProfile(ctx context.Context, profileID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.LoyaltyProfile{}).
		Where("id = ?", profileID).
		Updates(updates).Error
}

func (r *repository) DetachPhone(ctx context.Context, tenantID uuid.UUID, phone string, exceptProfileID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.LoyaltyProfile{}).
		Where("tenant_id = ? AND phone = ? AND id <> ?", tenantID, phone, exceptProfileID).
		Update("phone", nil).Error
}

func (r *repository) AddStars(ctx context.Context, profileID uuid.UUID, delta int) error {
	return r.db.WithContext(ctx).
		Model(&models.LoyaltyProfile{}).
		Where("id = ?", profileID).
		Update("stars", gorm.Expr("stars + ?", delta)).Error
}

func (r *repository) CreateEntry(ctx context.Context, entry *models.LoyaltyEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindEntryByOrder(ctx context.Context, orderID uuid.UUID, entryType enums.LoyaltyEntryType) (*models.LoyaltyEntry, error) {
	var entry models.LoyaltyEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, entryType).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}
