package models

import (
	"time"

	"github.com/google/uuid"
)

// LoyaltyProfile is the rewards identity. Email is the primary key for
// resolution; phone is secondary and unique across profiles (assigning a
// phone owned elsewhere detaches it there first).
type LoyaltyProfile struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID     uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;index"`
	Email        *string   `gorm:"column:email;uniqueIndex"`
	Phone        *string   `gorm:"column:phone;uniqueIndex"`
	Name         *string   `gorm:"column:name"`
	Stars        int       `gorm:"column:stars;not null;default:0"`
	ReferralCode string    `gorm:"column:referral_code;not null;uniqueIndex"`

	Entries []LoyaltyEntry `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
