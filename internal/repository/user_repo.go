package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) SetGatewayCustomerID(ctx context.Context, id uint, customerID string) error {
	return r.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Update("gateway_customer_id", customerID).Error
}

type TierRepository struct {
	db *gorm.DB
}

func NewTierRepository(db *gorm.DB) *TierRepository {
	return &TierRepository{db: db}
}

func (r *TierRepository) GetByID(ctx context.Context, id uint) (*model.CampaignTier, error) {
	var tier model.CampaignTier
	if err := r.db.WithContext(ctx).First(&tier, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &tier, nil
}

func (r *TierRepository) ListByCampaign(ctx context.Context, campaignID uint) ([]model.CampaignTier, error) {
	var tiers []model.CampaignTier
	err := r.db.WithContext(ctx).Where("campaign_id = ?", campaignID).Order("amount ASC").Find(&tiers).Error
	return tiers, err
}
