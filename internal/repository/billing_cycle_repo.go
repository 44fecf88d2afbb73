package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"fundpage_backend/internal/billing"
	"fundpage_backend/internal/model"
)

type BillingCycleRepository struct {
	db *gorm.DB
}

func NewBillingCycleRepository(db *gorm.DB) *BillingCycleRepository {
	return &BillingCycleRepository{db: db}
}

// Append inserts a ledger row after verifying the new period does not
// overlap an existing cycle for the same subscription. Check and insert
// share a transaction so concurrent appends cannot interleave.
func (r *BillingCycleRepository) Append(ctx context.Context, cycle *model.BillingCycle) error {
	if !cycle.PeriodEnd.After(cycle.PeriodStart) {
		return billing.ErrValidation
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var overlapping int64
		err := tx.Model(&model.BillingCycle{}).
			Where("subscription_id = ? AND period_start < ? AND period_end > ?",
				cycle.SubscriptionID, cycle.PeriodEnd, cycle.PeriodStart).
			Count(&overlapping).Error
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return billing.ErrConflict
		}
		if err := tx.Create(cycle).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return billing.ErrConflict
			}
			return err
		}
		return nil
	})
}

func (r *BillingCycleRepository) ListBySubscription(ctx context.Context, subscriptionID uint) ([]model.BillingCycle, error) {
	var cycles []model.BillingCycle
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("period_start ASC").
		Find(&cycles).Error
	return cycles, err
}
