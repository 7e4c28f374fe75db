package loyalty

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tavolahq/tavola-backend/pkg/config"
	"github.com/tavolahq/tavola-backend/pkg/db/models"
	"github.com/tavolahq/tavola-backend/pkg/enums"
	"github.com/tavolahq/tavola-backend/pkg/logger"
	"github.com/tavolahq/tavola-backend/pkg/types"
)

// Service maintains rewards profiles and their star ledger. Awards and
// reversals are idempotent per order; history is append-only.
type Service struct {
	repo Repository
	rate decimal.Decimal
	logg *logger.Logger
}

// ServiceParams wires the loyalty service.
type ServiceParams struct {
	Repo   Repository
	Config config.LoyaltyConfig
	Logger *logger.Logger
}

// NewService validates the configured star rate and builds a Service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	rate, err := decimal.NewFromString(params.Config.StarRate)
	if err != nil {
		return nil, fmt.Errorf("parse star rate %q: %w", params.Config.StarRate, err)
	}
	if rate.IsNegative() {
		return nil, fmt.Errorf("star rate must not be negative, got %s", rate)
	}
	return &Service{repo: params.Repo, rate: rate, logg: params.Logger}, nil
}

// ResolveProfile finds or creates the rewards profile for a contact.
// Email is the primary identity: when present it alone decides, and an
// unmatched email always creates a fresh profile. Phone lookup happens
// only when no email was given. Returns nil when the contact carries no
// usable identifier.
func (s *Service) ResolveProfile(ctx context.Context, tenantID uuid.UUID, contact types.Contact) (*models.LoyaltyProfile, error) {
	email := contact.NormalizedEmail()
	phone := contact.NormalizedPhone()

	if email != "" {
		profile, err := s.repo.FindProfileByEmail(ctx, tenantID, email)
		switch {
		case err == nil:
			return s.ensurePhone(ctx, profile, tenantID, phone)
		case errors.Is(err, gorm.ErrRecordNotFound):
			return s.createProfile(ctx, tenantID, contact, email, phone)
		default:
			return nil, err
		}
	}

	if phone != "" {
		profile, err := s.repo.FindProfileByPhone(ctx, tenantID, phone)
		switch {
		case err == nil:
			return profile, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return s.createProfile(ctx, tenantID, contact, "", phone)
		default:
			return nil, err
		}
	}

	return nil, nil
}

// Award grants stars for a paid order. Re-awarding the same order is a
// no-op: the purchase entry doubles as the idempotency marker, backed
// by a unique index on (order_id, type).
func (s *Service) Award(ctx context.Context, order *models.Order) (*models.LoyaltyEntry, error) {
	if order == nil {
		return nil, errors.New("order is required")
	}

	if existing, err := s.repo.FindEntryByOrder(ctx, order.ID, enums.LoyaltyEntryTypePurchase); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	profile, err := s.ResolveProfile(ctx, order.TenantID, order.Contact)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, nil
	}

	stars := s.starsFor(order.TotalCents)
	orderID := order.ID
	entry := &models.LoyaltyEntry{
		ProfileID: profile.ID,
		OrderID:   &orderID,
		Type:      enums.LoyaltyEntryTypePurchase,
		Stars:     stars,
	}
	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	if stars > 0 {
		if err := s.repo.AddStars(ctx, profile.ID, stars); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// Reverse takes back the stars awarded for a canceled order. The
// original purchase entry stays; a cancellation entry records the
// negative movement. The balance never drops below zero even if the
// profile spent stars in between.
func (s *Service) Reverse(ctx context.Context, orderID uuid.UUID) (*models.LoyaltyEntry, error) {
	if existing, err := s.repo.FindEntryByOrder(ctx, orderID, enums.LoyaltyEntryTypeCancellation); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	purchase, err := s.repo.FindEntryByOrder(ctx, orderID, enums.LoyaltyEntryTypePurchase)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	profile, err := s.repo.FindProfile(ctx, purchase.ProfileID)
	if err != nil {
		return nil, err
	}

	subtract := purchase.Stars
	if subtract > profile.Stars {
		subtract = profile.Stars
	}
	if subtract < 0 {
		subtract = 0
	}

	entry := &models.LoyaltyEntry{
		ProfileID: profile.ID,
		OrderID:   &orderID,
		Type:      enums.LoyaltyEntryTypeCancellation,
		Stars:     -subtract,
	}
	if err := s.repo.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	if subtract > 0 {
		if err := s.repo.AddStars(ctx, profile.ID, -subtract); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// starsFor converts an order total to stars: floor of major currency
// units times the configured rate, never negative.
func (s *Service) starsFor(totalCents int) int {
	major := decimal.NewFromInt(int64(totalCents)).Div(decimal.NewFromInt(100))
	stars := major.Mul(s.rate).Floor().IntPart()
	if stars < 0 {
		return 0
	}
	return int(stars)
}

func (s *Service) createProfile(ctx context.Context, tenantID uuid.UUID, contact types.Contact, email, phone string) (*models.LoyaltyProfile, error) {
	profile := &models.LoyaltyProfile{
		TenantID:     tenantID,
		ReferralCode: newReferralCode(),
	}
	if email != "" {
		profile.Email = &email
	}
	if contact.Name != "" {
		name := contact.Name
		profile.Name = &name
	}
	if phone != "" {
		if err := s.repo.DetachPhone(ctx, tenantID, phone, uuid.Nil); err != nil {
			return nil, err
		}
		profile.Phone = &phone
	}
	if err := s.repo.CreateProfile(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// ensurePhone attaches a newly seen phone to an email-resolved profile,
// stealing it from any other profile that currently holds it.
func (s *Service) ensurePhone(ctx context.Context, profile *models.LoyaltyProfile, tenantID uuid.UUID, phone string) (*models.LoyaltyProfile, error) {
	if phone == "" {
		return profile, nil
	}
	if profile.Phone != nil && *profile.Phone == phone {
		return profile, nil
	}
	if err := s.repo.DetachPhone(ctx, tenantID, phone, profile.ID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateProfile(ctx, profile.ID, map[string]any{"phone": phone}); err != nil {
		return nil, err
	}
	profile.Phone = &phone
	return profile, nil
}

// referralAlphabet omits easily confused characters.
const referralAlphabet = "ABCDEFGHJKMNPQRSTVWXYZ23456789"

func newReferralCode() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in serious trouble;
		// fall back to something still unique enough.
		return "TV-" + uuid.NewString()[:8]
	}
	code := make([]byte, 8)
	for i, b := range buf {
		code[i] = referralAlphabet[int(b)%len(referralAlphabet)]
	}
	return "TV-" + string(code)
}
