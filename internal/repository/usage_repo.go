package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"fundpage_backend/internal/model"
)

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) Append(ctx context.Context, rec *model.UsageRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *UsageRepository) Sum(ctx context.Context, subscriptionID uint, metric string, from, to time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.UsageRecord{}).
		Where("subscription_id = ? AND metric = ? AND recorded_at >= ? AND recorded_at < ?",
			subscriptionID, metric, from, to).
		Select("COALESCE(SUM(quantity), 0)").
		Scan(&total).Error
	return total, err
}
