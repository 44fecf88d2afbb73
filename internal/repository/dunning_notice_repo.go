package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
)

type DunningNoticeRepository struct {
	db *gorm.DB
}

func NewDunningNoticeRepository(db *gorm.DB) *DunningNoticeRepository {
	return &DunningNoticeRepository{db: db}
}

// Record claims the (subscription, kind, day) window. ErrConflict on a
// repeat claim is the double-send guard for batch warning sweeps.
func (r *DunningNoticeRepository) Record(ctx context.Context, subscriptionID uint, kind model.DunningNoticeKind, day time.Time) error {
	notice := model.DunningNotice{
		SubscriptionID: subscriptionID,
		Kind:           kind,
		NoticeDate:     day.UTC().Truncate(24 * time.Hour),
	}
	if err := r.db.WithContext(ctx).Create(&notice).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return billing.ErrConflict
		}
		return err
	}
	return nil
}
