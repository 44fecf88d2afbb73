package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *model.Subscription) error {
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return billing.ErrConflict
		}
		return err
	}
	return nil
}

func (r *SubscriptionRepository) GetByID(ctx context.Context, id uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Preload("User").Preload("Tier").First(&sub, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetByGatewayID(ctx context.Context, gatewayID string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Preload("User").Preload("Tier").
		Where("gateway_subscription_id = ?", gatewayID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *SubscriptionRepository) GetCurrentForUserCampaign(ctx context.Context, userID, campaignID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Preload("User").Preload("Tier").
		Where("user_id = ? AND campaign_id = ? AND status <> ?",
			userID, campaignID, model.SubscriptionStatusCanceled).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, billing.ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// UpdateLocked writes the mutable subscription fields conditionally on the
// lock version the caller read. Zero rows affected means another writer
// committed in between; the caller gets ErrConflict and must re-read.
func (r *SubscriptionRepository) UpdateLocked(ctx context.Context, sub *model.Subscription) error {
	readVersion := sub.LockVersion
	updates := map[string]any{
		"tier_id":                 sub.TierID,
		"quantity":                sub.Quantity,
		"status":                  sub.Status,
		"cancel_at_period_end":    sub.CancelAtPeriodEnd,
		"gateway_subscription_id": sub.GatewaySubscriptionID,
		"gateway_price_id":        sub.GatewayPriceID,
		"gateway_schedule_id":     sub.GatewayScheduleID,
		"trial_start":             sub.TrialStart,
		"trial_end":               sub.TrialEnd,
		"current_period_start":    sub.CurrentPeriodStart,
		"current_period_end":      sub.CurrentPeriodEnd,
		"grace_period_end":        sub.GracePeriodEnd,
		"paused_at":               sub.PausedAt,
		"resumes_at":              sub.ResumesAt,
		"resumed_at":              sub.ResumedAt,
		"canceled_at":             sub.CanceledAt,
		"cancellation_reason":     sub.CancellationReason,
		"cancellation_feedback":   sub.CancellationFeedback,
		"lock_version":            readVersion + 1,
	}

	res := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("id = ? AND lock_version = ?", sub.ID, readVersion).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return billing.ErrConflict
	}
	sub.LockVersion = readVersion + 1
	return nil
}

func (r *SubscriptionRepository) ListPastDueExpiring(ctx context.Context, now, deadline time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Preload("User").Preload("Tier").
		Where("status = ? AND grace_period_end > ? AND grace_period_end <= ?",
			model.SubscriptionStatusPastDue, now, deadline).
		Find(&subs).Error
	return subs, err
}

func (r *SubscriptionRepository) ListPastDueExpired(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Preload("User").Preload("Tier").
		Where("status = ? AND grace_period_end <= ?", model.SubscriptionStatusPastDue, now).
		Find(&subs).Error
	return subs, err
}
